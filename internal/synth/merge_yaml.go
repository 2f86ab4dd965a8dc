package synth

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"go.yaml.in/yaml/v3"
)

func decodeYAMLMapping(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 {
		return nil, nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("top-level value is not a mapping")
	}
	return &doc, nil
}

func encodeYAML(n *yaml.Node, indent int) (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(indent)
	if err := enc.Encode(n); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// mergeYAML merges rendered keys into the existing document by splicing
// text at node positions. Entries the user wrote are left byte for byte
// unless their value changes; new entries follow the file's indentation.
func mergeYAML(a Artifact, res *Result, existing, rendered []byte) error {
	current, err := decodeYAMLMapping(existing)
	if err != nil {
		return conflict(a, "existing file is not a YAML mapping", err)
	}
	want, err := decodeYAMLMapping(rendered)
	if err != nil {
		return fmt.Errorf("rendered YAML is invalid: %w", err)
	}
	if current == nil {
		res.Final, res.Change, res.Summary = rendered, Updated, "fill empty file"
		return nil
	}
	if want == nil {
		res.Final, res.Change, res.Summary = existing, Unchanged, "nothing to merge"
		return nil
	}

	m := newYAMLMerger(existing)
	m.unit = detectYAMLIndent(current.Content[0], 2)
	m.mergeMapping(current.Content[0], want.Content[0], 0)
	if m.err != nil {
		return conflict(a, "cannot merge into existing YAML", m.err)
	}
	if len(m.edits) == 0 {
		res.Final, res.Change, res.Summary = existing, Unchanged, "all keys present"
		return nil
	}
	res.Final, res.Change, res.Summary = applyEdits(existing, m.edits), Updated, "merge keys"
	return nil
}

type yamlMerger struct {
	text  []byte
	lines []int // byte offset where each line starts
	unit  int
	edits []textEdit
	err   error
}

func newYAMLMerger(text []byte) *yamlMerger {
	m := &yamlMerger{text: text, lines: []int{0}}
	for i, c := range text {
		if c == '\n' {
			m.lines = append(m.lines, i+1)
		}
	}
	return m
}

// line returns line n (1-based) without its line break.
func (m *yamlMerger) line(n int) string {
	end := len(m.text)
	if n < len(m.lines) {
		end = m.lines[n] - 1
	}
	return strings.TrimSuffix(string(m.text[m.lines[n-1]:end]), "\r")
}

// lineEnd returns the offset just past line n's line break.
func (m *yamlMerger) lineEnd(n int) int {
	if n < len(m.lines) {
		return m.lines[n]
	}
	return len(m.text)
}

// offset converts a node position to a byte offset. Columns count runes.
func (m *yamlMerger) offset(line, col int) int {
	start := m.lines[line-1]
	n := 0
	for i := range m.line(line) {
		if n == col-1 {
			return start + i
		}
		n++
	}
	return start + len(m.line(line))
}

func leadingSpaces(s string) int {
	return len(s) - len(strings.TrimLeft(s, " "))
}

// blockEnd returns the last line belonging to a block that starts on line
// and whose content is indented deeper than indent. Trailing blank and
// comment lines stay outside. With dashes, sequence items at indent count
// as content too.
func (m *yamlMerger) blockEnd(line, indent int, dashes bool) int {
	last := line
	for n := line + 1; n <= len(m.lines); n++ {
		s := m.line(n)
		trimmed := strings.TrimSpace(s)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		ind := leadingSpaces(s)
		if ind > indent || (dashes && ind == indent && (trimmed == "-" || strings.HasPrefix(trimmed, "- "))) {
			last = n
			continue
		}
		break
	}
	return last
}

// flowEnd returns the offset of the bracket closing the flow collection
// opened at start.
func (m *yamlMerger) flowEnd(start int) (int, error) {
	depth := 0
	var quote byte
	for i := start; i < len(m.text); i++ {
		c := m.text[i]
		switch {
		case quote == '"' && c == '\\':
			i++
		case quote != 0:
			if c == quote {
				if quote == '\'' && i+1 < len(m.text) && m.text[i+1] == '\'' {
					i++
					continue
				}
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == '#' && i > 0 && (m.text[i-1] == ' ' || m.text[i-1] == '\t'):
			for i < len(m.text) && m.text[i] != '\n' {
				i++
			}
		case c == '[' || c == '{':
			depth++
		case c == ']' || c == '}':
			depth--
			if depth == 0 {
				return i, nil
			}
		}
	}
	return 0, errors.New("unterminated flow collection")
}

func (m *yamlMerger) fail(err error) {
	if m.err == nil {
		m.err = err
	}
}

func isFlow(n *yaml.Node) bool { return n.Style&yaml.FlowStyle != 0 }

// detectYAMLIndent returns the step between the first nested block mapping
// and its parent, or def when the document has none.
func detectYAMLIndent(n *yaml.Node, def int) int {
	if n.Kind != yaml.MappingNode || isFlow(n) {
		return def
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if val.Kind == yaml.MappingNode && !isFlow(val) && len(val.Content) > 0 {
			if step := val.Content[0].Column - key.Column; step >= 2 {
				return step
			}
		}
	}
	for i := 1; i < len(n.Content); i += 2 {
		if step := detectYAMLIndent(n.Content[i], 0); step > 0 {
			return step
		}
	}
	return def
}

func (m *yamlMerger) mergeMapping(cur, want *yaml.Node, depth int) {
	if isFlow(cur) || len(cur.Content) == 0 {
		m.replaceFlow(cur, want, depth)
		return
	}
	var missing []*yaml.Node
	for i := 0; i+1 < len(want.Content); i += 2 {
		key, val := want.Content[i], want.Content[i+1]
		j := mappingIndex(cur, key.Value)
		if j < 0 {
			missing = append(missing, key, val)
			continue
		}
		m.mergeEntry(cur, j, val, depth+1)
	}
	if len(missing) > 0 {
		m.insertEntries(cur, missing, depth)
	}
}

func (m *yamlMerger) mergeEntry(parent *yaml.Node, i int, want *yaml.Node, depth int) {
	cur := parent.Content[i+1]
	switch {
	case cur.Kind == yaml.MappingNode && want.Kind == yaml.MappingNode:
		m.mergeMapping(cur, want, depth)
	case cur.Kind == yaml.SequenceNode && want.Kind == yaml.SequenceNode && scalarSeq(cur) && scalarSeq(want):
		m.unionSeq(cur, want, depth)
	case nodesEqual(cur, want):
	default:
		m.replaceEntry(parent, i, want, depth)
	}
}

// entry encodes key: val with continuation lines indented to col.
func (m *yamlMerger) entry(key, val *yaml.Node, col int) (string, error) {
	out, err := encodeYAML(&yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{key, val}}, m.unit)
	if err != nil {
		return "", err
	}
	lines := strings.Split(out, "\n")
	pad := strings.Repeat(" ", col)
	for i := 1; i < len(lines); i++ {
		if lines[i] != "" {
			lines[i] = pad + lines[i]
		}
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// replaceEntry rewrites one entry from its key through the end of its value.
// Comments above the key and the inline comment are kept.
func (m *yamlMerger) replaceEntry(parent *yaml.Node, i int, want *yaml.Node, depth int) {
	key, cur := parent.Content[i], parent.Content[i+1]
	col := key.Column - 1
	last := m.blockEnd(key.Line, col, cur.Kind == yaml.SequenceNode && !isFlow(cur))

	k := *key
	k.HeadComment, k.FootComment = "", ""
	v := *want
	if v.LineComment == "" {
		v.LineComment = cur.LineComment
	}
	text, err := m.entry(&k, &v, col)
	if err != nil {
		m.fail(err)
		return
	}
	m.edits = append(m.edits, textEdit{start: m.offset(key.Line, key.Column), end: m.lineEnd(last), text: text, depth: depth})
}

// insertEntries appends entries after the last one of a block mapping.
func (m *yamlMerger) insertEntries(mapping *yaml.Node, kv []*yaml.Node, depth int) {
	lastKey, lastVal := mapping.Content[len(mapping.Content)-2], mapping.Content[len(mapping.Content)-1]
	col := lastKey.Column - 1
	pos := m.lineEnd(m.blockEnd(lastKey.Line, col, lastVal.Kind == yaml.SequenceNode && !isFlow(lastVal)))

	var b strings.Builder
	if pos == len(m.text) && len(m.text) > 0 && m.text[len(m.text)-1] != '\n' {
		b.WriteString("\n")
	}
	pad := strings.Repeat(" ", col)
	for i := 0; i+1 < len(kv); i += 2 {
		text, err := m.entry(kv[i], kv[i+1], col)
		if err != nil {
			m.fail(err)
			return
		}
		b.WriteString(pad + text)
	}
	m.edits = append(m.edits, textEdit{start: pos, end: pos, text: b.String(), depth: depth})
}

func (m *yamlMerger) unionSeq(seq, want *yaml.Node, depth int) {
	var add []string
	for _, item := range want.Content {
		if seqContains(seq, item.Value) {
			continue
		}
		text, err := encodeYAML(item, m.unit)
		if err != nil {
			m.fail(err)
			return
		}
		add = append(add, text)
	}
	if len(add) == 0 {
		return
	}

	if isFlow(seq) || len(seq.Content) == 0 {
		start := m.offset(seq.Line, seq.Column)
		end, err := m.flowEnd(start)
		if err != nil {
			m.fail(err)
			return
		}
		pos := end
		for pos > start+1 && (m.text[pos-1] == ' ' || m.text[pos-1] == '\n' || m.text[pos-1] == '\t') {
			pos--
		}
		text := strings.Join(add, ", ")
		if len(seq.Content) > 0 {
			text = ", " + text
		}
		m.edits = append(m.edits, textEdit{start: pos, end: pos, text: text, depth: depth})
		return
	}

	last := seq.Content[len(seq.Content)-1]
	line := m.line(last.Line)
	dash := strings.LastIndex(line[:m.offset(last.Line, last.Column)-m.lines[last.Line-1]], "-")
	if dash < 0 {
		m.fail(fmt.Errorf("line %d: sequence item without a dash", last.Line))
		return
	}
	pos := m.lineEnd(m.blockEnd(last.Line, dash, false))
	var b strings.Builder
	if pos == len(m.text) && m.text[len(m.text)-1] != '\n' {
		b.WriteString("\n")
	}
	for _, text := range add {
		b.WriteString(strings.Repeat(" ", dash) + "- " + text + "\n")
	}
	m.edits = append(m.edits, textEdit{start: pos, end: pos, text: b.String(), depth: depth})
}

// replaceFlow merges into a flow mapping and rewrites it in flow style.
func (m *yamlMerger) replaceFlow(cur, want *yaml.Node, depth int) {
	before, err := encodeYAML(flowCopy(cur), m.unit)
	if err != nil {
		m.fail(err)
		return
	}
	merged := flowCopy(cur)
	mergeNodes(merged, want)
	after, err := encodeYAML(merged, m.unit)
	if err != nil {
		m.fail(err)
		return
	}
	if before == after {
		return
	}
	start := m.offset(cur.Line, cur.Column)
	end, err := m.flowEnd(start)
	if err != nil {
		m.fail(err)
		return
	}
	m.edits = append(m.edits, textEdit{start: start, end: end + 1, text: after, depth: depth})
}

func flowCopy(n *yaml.Node) *yaml.Node {
	c := *n
	c.Content = append([]*yaml.Node(nil), n.Content...)
	c.Style |= yaml.FlowStyle
	return &c
}

// mergeNodes merges src into dst in memory.
func mergeNodes(dst, src *yaml.Node) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		key, val := src.Content[i], src.Content[i+1]
		j := mappingIndex(dst, key.Value)
		if j < 0 {
			dst.Content = append(dst.Content, key, val)
			continue
		}
		cur := dst.Content[j+1]
		switch {
		case cur.Kind == yaml.MappingNode && val.Kind == yaml.MappingNode:
			c := flowCopy(cur)
			mergeNodes(c, val)
			dst.Content[j+1] = c
		case cur.Kind == yaml.SequenceNode && val.Kind == yaml.SequenceNode && scalarSeq(cur) && scalarSeq(val):
			c := flowCopy(cur)
			for _, item := range val.Content {
				if !seqContains(c, item.Value) {
					c.Content = append(c.Content, item)
				}
			}
			dst.Content[j+1] = c
		case nodesEqual(cur, val):
		default:
			dst.Content[j+1] = val
		}
	}
}

func nodesEqual(a, b *yaml.Node) bool {
	if a.Kind != b.Kind || len(a.Content) != len(b.Content) {
		return false
	}
	if a.Kind == yaml.ScalarNode || a.Kind == yaml.AliasNode {
		return a.Value == b.Value
	}
	for i := range a.Content {
		if !nodesEqual(a.Content[i], b.Content[i]) {
			return false
		}
	}
	return true
}

func mappingIndex(m *yaml.Node, key string) int {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return i
		}
	}
	return -1
}

func scalarSeq(n *yaml.Node) bool {
	for _, c := range n.Content {
		if c.Kind != yaml.ScalarNode {
			return false
		}
	}
	return true
}

func seqContains(n *yaml.Node, value string) bool {
	for _, c := range n.Content {
		if c.Value == value {
			return true
		}
	}
	return false
}
