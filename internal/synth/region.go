package synth

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Managed regions look like
//
//	# >>> stackforge:<artifact-id> sha256:<hex12> >>>
//	...rendered body...
//	# <<< stackforge:<artifact-id> <<<
//
// The checksum covers the body as written. A body that no longer matches its
// checksum was edited by hand and is never overwritten.

const checksumLen = 12

func checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])[:checksumLen]
}

func (s *Synthesizer) beginMarker(a Artifact, sum string) string {
	return fmt.Sprintf("%s >>> %s:%s sha256:%s >>>", a.CommentPrefix(), s.tag, a.ID, sum)
}

func (s *Synthesizer) endMarker(a Artifact) string {
	return fmt.Sprintf("%s <<< %s:%s <<<", a.CommentPrefix(), s.tag, a.ID)
}

// splitShebang separates a leading "#!" line, which must stay on line one.
func splitShebang(rendered string) (string, string) {
	if !strings.HasPrefix(rendered, "#!") {
		return "", rendered
	}
	i := strings.Index(rendered, "\n")
	if i < 0 {
		return rendered + "\n", ""
	}
	return rendered[:i+1], rendered[i+1:]
}

func (s *Synthesizer) region(a Artifact, body string) string {
	return s.beginMarker(a, checksum(body)) + "\n" + body + s.endMarker(a) + "\n"
}

func (s *Synthesizer) newRegion(a Artifact, rendered []byte) []byte {
	shebang, body := splitShebang(string(rendered))
	return []byte(shebang + s.region(a, body))
}

type regionSpan struct {
	begin, end int // line indexes of the markers
	sum        string
	body       string
}

func (s *Synthesizer) findRegion(a Artifact, lines []string) (*regionSpan, error) {
	begin := regexp.MustCompile(`^\s*` + regexp.QuoteMeta(a.CommentPrefix()) +
		` >>> ` + regexp.QuoteMeta(s.tag+":"+a.ID) + ` sha256:([0-9a-f]+) >>>\s*$`)
	end := strings.TrimSpace(s.endMarker(a))

	span := &regionSpan{begin: -1, end: -1}
	for i, l := range lines {
		line := strings.TrimRight(l, "\r\n")
		if span.begin < 0 {
			if m := begin.FindStringSubmatch(line); m != nil {
				span.begin, span.sum = i, m[1]
			}
			continue
		}
		if strings.TrimSpace(line) == end {
			span.end = i
			break
		}
	}
	switch {
	case span.begin < 0:
		return nil, nil
	case span.end < 0:
		return nil, fmt.Errorf("managed region starting on line %d is not terminated", span.begin+1)
	}
	span.body = strings.Join(lines[span.begin+1:span.end], "")
	return span, nil
}

// mergeRegion replaces the managed region when it is still pristine and
// refuses when it was edited or never existed.
func (s *Synthesizer) mergeRegion(a Artifact, res *Result, existing, rendered []byte) error {
	lines := strings.SplitAfter(string(existing), "\n")
	span, err := s.findRegion(a, lines)
	if err != nil {
		return conflict(a, "malformed managed region", err)
	}
	if span == nil {
		return conflict(a, "file exists without a managed region; refusing to take ownership", nil)
	}

	_, body := splitShebang(string(rendered))
	pristine := checksum(span.body) == span.sum
	switch {
	case pristine && span.body == body:
		res.Final = existing
		res.Change = Unchanged
		res.Summary = "managed region up to date"
		return nil
	case !pristine && span.body != body:
		return conflict(a, "managed region was edited by hand", nil)
	}

	var b strings.Builder
	for _, l := range lines[:span.begin] {
		b.WriteString(l)
	}
	b.WriteString(s.region(a, body))
	for _, l := range lines[span.end+1:] {
		b.WriteString(l)
	}
	res.Final = []byte(b.String())
	res.Change = Updated
	if pristine {
		res.Summary = "replace managed region"
	} else {
		res.Summary = "refresh managed region checksum"
	}
	return nil
}
