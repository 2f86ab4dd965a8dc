package synth

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// dialect captures the differences between TOML and INI-style files.
type dialect struct {
	name       string
	comments   string // leading characters that start a comment line
	separators string // characters separating a key from its value
	multiline  bool   // values may continue over several lines
	validate   func(string) error
}

var tomlDialect = dialect{
	name:       "TOML",
	comments:   "#",
	separators: "=",
	multiline:  true,
	validate: func(s string) error {
		var v map[string]any
		_, err := toml.Decode(s, &v)
		return err
	},
}

var iniDialect = dialect{
	name:       "INI",
	comments:   "#;",
	separators: "=:",
}

// entry is one logical line: a key with its value lines, or a comment or
// blank line (empty key).
type entry struct {
	key   string
	lines []string
}

type section struct {
	name    string // "" for the preamble before the first header
	header  string
	entries []*entry
}

func (d dialect) parse(text string) []*section {
	text = strings.TrimSuffix(text, "\n")
	pre := &section{}
	sections := []*section{pre}
	cur := pre
	var open *entry
	depth := 0

	for _, line := range strings.Split(text, "\n") {
		if open != nil && depth > 0 {
			open.lines = append(open.lines, line)
			depth += bracketDelta(line)
			continue
		}
		open = nil
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"):
			cur = &section{name: sectionName(trimmed), header: line}
			sections = append(sections, cur)
		case trimmed == "" || strings.ContainsRune(d.comments, rune(trimmed[0])):
			cur.entries = append(cur.entries, &entry{lines: []string{line}})
		default:
			e := &entry{key: d.key(trimmed), lines: []string{line}}
			cur.entries = append(cur.entries, e)
			if d.multiline {
				if i := strings.IndexAny(line, d.separators); i >= 0 {
					depth = bracketDelta(line[i+1:])
				}
				if depth > 0 {
					open = e
				}
			}
		}
	}
	return sections
}

func (d dialect) key(line string) string {
	if i := strings.IndexAny(line, d.separators); i >= 0 {
		line = line[:i]
	}
	return strings.Join(strings.Fields(line), " ")
}

func sectionName(header string) string {
	return strings.Join(strings.Fields(header), "")
}

// bracketDelta counts unbalanced brackets outside quoted strings.
func bracketDelta(s string) int {
	depth := 0
	var quote rune
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return depth
		case r == '[' || r == '{':
			depth++
		case r == ']' || r == '}':
			depth--
		}
	}
	return depth
}

func render(sections []*section) string {
	var b strings.Builder
	for _, s := range sections {
		if s.name != "" {
			b.WriteString(s.header)
			b.WriteString("\n")
		}
		for _, e := range s.entries {
			for _, l := range e.lines {
				b.WriteString(l)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

func (s *section) find(key string) *entry {
	for _, e := range s.entries {
		if e.key == key {
			return e
		}
	}
	return nil
}

// insert places e after the last keyed entry, ahead of trailing blank or
// comment lines that visually belong to the next section.
func (s *section) insert(e *entry) {
	at := 0
	for i, x := range s.entries {
		if x.key != "" {
			at = i + 1
		}
	}
	s.entries = append(s.entries, nil)
	copy(s.entries[at+1:], s.entries[at:])
	s.entries[at] = e
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != strings.TrimSpace(b[i]) {
			return false
		}
	}
	return true
}

// mergeSections merges rendered sections into the existing text. Existing
// sections, keys and comments stay where they are; rendered keys replace
// existing values; missing keys and sections are added.
func mergeSections(a Artifact, res *Result, existing, rendered []byte, d dialect) error {
	if d.validate != nil {
		if err := d.validate(string(existing)); err != nil {
			return conflict(a, fmt.Sprintf("existing file is not valid %s", d.name), err)
		}
	}

	if strings.TrimSpace(string(existing)) == "" {
		res.Final, res.Change, res.Summary = rendered, Updated, "fill empty file"
		return nil
	}

	current := d.parse(string(existing))
	want := d.parse(string(rendered))

	seen := make(map[string]int)
	var changedKeys, addedSections int
	for _, ws := range want {
		occurrence := seen[ws.name]
		seen[ws.name]++

		target := nthSection(current, ws.name, occurrence)
		if target == nil {
			if ws.name == "" {
				continue
			}
			if last := lastLine(current); last != "" {
				current[len(current)-1].entries = append(current[len(current)-1].entries, &entry{lines: []string{""}})
			}
			current = append(current, &section{name: ws.name, header: ws.header, entries: nonBlank(ws.entries)})
			addedSections++
			continue
		}
		for _, we := range ws.entries {
			if we.key == "" {
				continue
			}
			if ce := target.find(we.key); ce != nil {
				if !equalLines(ce.lines, we.lines) {
					ce.lines = we.lines
					changedKeys++
				}
				continue
			}
			target.insert(&entry{key: we.key, lines: we.lines})
			changedKeys++
		}
	}

	if changedKeys == 0 && addedSections == 0 {
		res.Final, res.Change, res.Summary = existing, Unchanged, "all keys present"
		return nil
	}

	merged := render(current)
	if d.validate != nil {
		if err := d.validate(merged); err != nil {
			return conflict(a, fmt.Sprintf("merged file is not valid %s", d.name), err)
		}
	}
	res.Final = []byte(merged)
	res.Change = Updated
	res.Summary = fmt.Sprintf("merge %d key(s), add %d section(s)", changedKeys, addedSections)
	return nil
}

func nthSection(sections []*section, name string, n int) *section {
	for _, s := range sections {
		if s.name != name {
			continue
		}
		if n == 0 {
			return s
		}
		n--
	}
	return nil
}

func nonBlank(entries []*entry) []*entry {
	var out []*entry
	for _, e := range entries {
		if e.key != "" || strings.TrimSpace(e.lines[0]) != "" {
			out = append(out, e)
		}
	}
	return out
}

func lastLine(sections []*section) string {
	for i := len(sections) - 1; i >= 0; i-- {
		s := sections[i]
		if n := len(s.entries); n > 0 {
			lines := s.entries[n-1].lines
			return strings.TrimSpace(lines[len(lines)-1])
		}
		if s.name != "" {
			return s.header
		}
	}
	return ""
}
