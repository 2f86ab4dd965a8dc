package synth

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
)

// jsonValue is a decoded JSON value together with its byte span in the
// source, so merges can splice new text without re-encoding user content.
type jsonValue struct {
	start, end int
	kind       json.Delim // '{', '[' or 0 for scalars
	members    []jsonMember
	items      []*jsonValue
	scalar     any
}

type jsonMember struct {
	key              string
	keyStart, keyEnd int
	value            *jsonValue
}

func (v *jsonValue) member(key string) *jsonValue {
	for _, m := range v.members {
		if m.key == key {
			return m.value
		}
	}
	return nil
}

func (v *jsonValue) scalarItems() bool {
	for _, it := range v.items {
		if it.kind != 0 {
			return false
		}
	}
	return true
}

type jsonScanner struct {
	data []byte
	dec  *json.Decoder
}

func parseJSONSpans(data []byte) (*jsonValue, error) {
	s := &jsonScanner{data: data, dec: json.NewDecoder(bytes.NewReader(data))}
	s.dec.UseNumber()
	v, err := s.value()
	if err != nil {
		return nil, err
	}
	if _, err := s.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

// next returns the next token and the offset it starts at.
func (s *jsonScanner) next() (json.Token, int, error) {
	off := int(s.dec.InputOffset())
	for off < len(s.data) {
		switch s.data[off] {
		case ' ', '\t', '\r', '\n', ':', ',':
			off++
			continue
		}
		break
	}
	tok, err := s.dec.Token()
	return tok, off, err
}

func (s *jsonScanner) value() (*jsonValue, error) {
	tok, start, err := s.next()
	if err != nil {
		return nil, err
	}
	v := &jsonValue{start: start}
	d, ok := tok.(json.Delim)
	if !ok {
		v.scalar = tok
		v.end = int(s.dec.InputOffset())
		return v, nil
	}
	v.kind = d
	for s.dec.More() {
		if d == '[' {
			item, err := s.value()
			if err != nil {
				return nil, err
			}
			v.items = append(v.items, item)
			continue
		}
		keyTok, keyStart, err := s.next()
		if err != nil {
			return nil, err
		}
		m := jsonMember{key: keyTok.(string), keyStart: keyStart, keyEnd: int(s.dec.InputOffset())}
		if m.value, err = s.value(); err != nil {
			return nil, err
		}
		v.members = append(v.members, m)
	}
	if _, err := s.dec.Token(); err != nil {
		return nil, err
	}
	v.end = int(s.dec.InputOffset())
	return v, nil
}

// textEdit replaces text[start:end]. Edits at the same offset apply in
// ascending depth so nested insertions land before their parent's.
type textEdit struct {
	start, end int
	text       string
	depth      int
}

func applyEdits(text []byte, edits []textEdit) []byte {
	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].start != edits[j].start {
			return edits[i].start > edits[j].start
		}
		return edits[i].depth < edits[j].depth
	})
	out := append([]byte(nil), text...)
	for _, e := range edits {
		out = append(out[:e.start], append([]byte(e.text), out[e.end:]...)...)
	}
	return out
}

type jsonMerger struct {
	data, rendered []byte
	unit           string
	colon          string
	edits          []textEdit
}

// mergeJSON merges rendered keys into the existing object by splicing text.
// Keys the user wrote keep their order, spacing and values unless a rendered
// scalar differs. Missing keys are appended in the file's own indentation;
// arrays of scalars are unioned.
func mergeJSON(a Artifact, res *Result, existing, rendered []byte) error {
	if len(bytes.TrimSpace(existing)) == 0 {
		res.Final, res.Change, res.Summary = rendered, Updated, "fill empty file"
		return nil
	}
	current, err := parseJSONSpans(existing)
	if err == nil && current.kind != '{' {
		err = fmt.Errorf("top-level value is not an object")
	}
	if err != nil {
		return conflict(a, "existing file is not a JSON object", err)
	}
	want, err := parseJSONSpans(rendered)
	if err == nil && want.kind != '{' {
		err = fmt.Errorf("top-level value is not an object")
	}
	if err != nil {
		return fmt.Errorf("rendered JSON is invalid: %w", err)
	}

	m := &jsonMerger{data: existing, rendered: rendered, unit: "  ", colon: ": "}
	m.detectStyle(current)
	m.mergeObject(current, want, 0)
	if len(m.edits) == 0 {
		res.Final, res.Change, res.Summary = existing, Unchanged, "all keys present"
		return nil
	}
	res.Final, res.Change, res.Summary = applyEdits(existing, m.edits), Updated, "merge keys"
	return nil
}

// detectStyle picks up the indent unit and key separator the file uses.
func (m *jsonMerger) detectStyle(root *jsonValue) {
	if len(root.members) == 0 {
		return
	}
	first := root.members[0]
	m.colon = string(m.data[first.keyEnd:first.value.start])
	if m.multiline(root) {
		if unit := strings.TrimPrefix(m.lineIndent(first.keyStart), m.lineIndent(root.start)); unit != "" {
			m.unit = unit
		}
	}
}

func (m *jsonMerger) multiline(v *jsonValue) bool {
	return bytes.IndexByte(m.data[v.start:v.end], '\n') >= 0
}

// lineIndent returns the leading whitespace of the line holding off.
func (m *jsonMerger) lineIndent(off int) string {
	start := bytes.LastIndexByte(m.data[:off], '\n') + 1
	end := start
	for end < len(m.data) && (m.data[end] == ' ' || m.data[end] == '\t') {
		end++
	}
	return string(m.data[start:end])
}

// separator returns the text between the first two entries of a container,
// without its line break, or def when there are fewer than two.
func (m *jsonMerger) separator(v *jsonValue, def string) string {
	var a, b int
	switch {
	case len(v.members) > 1:
		a, b = v.members[0].value.end, v.members[1].keyStart
	case len(v.items) > 1:
		a, b = v.items[0].end, v.items[1].start
	default:
		return def
	}
	return string(m.data[a:b])
}

// format renders a value from the rendered document. Containers are laid
// out over lines at indent when multiline is set and compacted otherwise.
func (m *jsonMerger) format(v *jsonValue, indent string, multiline bool) string {
	raw := m.rendered[v.start:v.end]
	if v.kind == 0 {
		return string(raw)
	}
	var buf bytes.Buffer
	if multiline {
		if err := json.Indent(&buf, raw, indent, m.unit); err == nil {
			return buf.String()
		}
	} else if err := json.Compact(&buf, raw); err == nil {
		return buf.String()
	}
	return string(raw)
}

func (m *jsonMerger) sameValue(cur, want *jsonValue) bool {
	var a, b bytes.Buffer
	if json.Compact(&a, m.data[cur.start:cur.end]) != nil || json.Compact(&b, m.rendered[want.start:want.end]) != nil {
		return false
	}
	if cur.kind == 0 && want.kind == 0 {
		return reflect.DeepEqual(cur.scalar, want.scalar)
	}
	return bytes.Equal(a.Bytes(), b.Bytes())
}

func (m *jsonMerger) mergeObject(cur, want *jsonValue, depth int) {
	var missing []jsonMember
	for _, wm := range want.members {
		cv := cur.member(wm.key)
		if cv == nil {
			missing = append(missing, wm)
			continue
		}
		m.mergeValue(cur, cv, wm.value, depth+1)
	}
	if len(missing) > 0 {
		m.insertMembers(cur, missing, depth)
	}
}

func (m *jsonMerger) mergeValue(parent, cur, want *jsonValue, depth int) {
	switch {
	case cur.kind == '{' && want.kind == '{':
		m.mergeObject(cur, want, depth)
	case cur.kind == '[' && want.kind == '[' && cur.scalarItems() && want.scalarItems():
		m.unionItems(cur, want, depth)
	case m.sameValue(cur, want):
	default:
		text := m.format(want, m.lineIndent(cur.start), m.multiline(parent))
		m.edits = append(m.edits, textEdit{start: cur.start, end: cur.end, text: text, depth: depth})
	}
}

func (m *jsonMerger) insertMembers(obj *jsonValue, missing []jsonMember, depth int) {
	var b strings.Builder
	entry := func(wm jsonMember, indent string, multiline bool) {
		b.Write(m.rendered[wm.keyStart:wm.keyEnd])
		b.WriteString(m.colon)
		b.WriteString(m.format(wm.value, indent, multiline))
	}

	if len(obj.members) == 0 {
		multiline := depth == 0 || m.multiline(obj)
		indent := m.lineIndent(obj.start) + m.unit
		for i, wm := range missing {
			switch {
			case multiline && i == 0:
				b.WriteString("\n" + indent)
			case multiline:
				b.WriteString(",\n" + indent)
			case i > 0:
				b.WriteString(", ")
			}
			entry(wm, indent, multiline)
		}
		if multiline {
			b.WriteString("\n" + m.lineIndent(obj.start))
		}
		m.edits = append(m.edits, textEdit{start: obj.start + 1, end: obj.end - 1, text: b.String(), depth: depth})
		return
	}

	last := obj.members[len(obj.members)-1]
	multiline := m.multiline(obj)
	indent := m.lineIndent(last.keyStart)
	sep := m.separator(obj, ", ")
	for _, wm := range missing {
		if multiline {
			b.WriteString(",\n" + indent)
		} else {
			b.WriteString(sep)
		}
		entry(wm, indent, multiline)
	}
	m.edits = append(m.edits, textEdit{start: last.value.end, end: last.value.end, text: b.String(), depth: depth})
}

func (m *jsonMerger) unionItems(arr, want *jsonValue, depth int) {
	var add []*jsonValue
	for _, w := range want.items {
		found := false
		for _, c := range arr.items {
			if reflect.DeepEqual(c.scalar, w.scalar) {
				found = true
				break
			}
		}
		if !found {
			add = append(add, w)
		}
	}
	if len(add) == 0 {
		return
	}

	var b strings.Builder
	if len(arr.items) == 0 {
		for i, w := range add {
			if i > 0 {
				b.WriteString(", ")
			}
			b.Write(m.rendered[w.start:w.end])
		}
		m.edits = append(m.edits, textEdit{start: arr.start + 1, end: arr.end - 1, text: b.String(), depth: depth})
		return
	}

	last := arr.items[len(arr.items)-1]
	multiline := m.multiline(arr)
	sep := m.separator(arr, ", ")
	for _, w := range add {
		if multiline {
			b.WriteString(",\n" + m.lineIndent(last.start))
		} else {
			b.WriteString(sep)
		}
		b.Write(m.rendered[w.start:w.end])
	}
	m.edits = append(m.edits, textEdit{start: last.end, end: last.end, text: b.String(), depth: depth})
}
