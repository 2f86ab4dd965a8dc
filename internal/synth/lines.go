package synth

import (
	"fmt"
	"strings"
)

// appendUniqueLines keeps every existing line in place and appends rendered
// lines not already present. Lines compare by trimmed text; blank rendered
// lines are dropped.
func appendUniqueLines(res *Result, existing, rendered []byte) error {
	text := string(existing)
	present := make(map[string]bool)
	for _, l := range strings.Split(text, "\n") {
		present[strings.TrimSpace(l)] = true
	}

	var added []string
	for _, l := range strings.Split(string(rendered), "\n") {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || present[trimmed] {
			continue
		}
		present[trimmed] = true
		added = append(added, trimmed)
	}

	if len(added) == 0 {
		res.Final = existing
		res.Change = Unchanged
		res.Summary = "all lines present"
		return nil
	}

	var b strings.Builder
	b.WriteString(text)
	if len(text) > 0 && !strings.HasSuffix(text, "\n") {
		b.WriteString("\n")
	}
	for _, l := range added {
		b.WriteString(l)
		b.WriteString("\n")
	}
	res.Final = []byte(b.String())
	res.Change = Updated
	res.Summary = fmt.Sprintf("append %d line(s)", len(added))
	return nil
}
