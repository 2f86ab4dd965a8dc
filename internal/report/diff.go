package report

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is the number of unchanged lines shown around each change.
const contextLines = 3

type lineOp struct {
	kind byte // ' ', '-' or '+'
	text string
}

// lineOps computes a line-level diff.
func lineOps(before, after string) []lineOp {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var ops []lineOp
	for _, d := range diffs {
		kind := byte(' ')
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			kind = '-'
		case diffmatchpatch.DiffInsert:
			kind = '+'
		}
		for _, l := range strings.SplitAfter(d.Text, "\n") {
			if l == "" {
				continue
			}
			ops = append(ops, lineOp{kind: kind, text: strings.TrimSuffix(l, "\n")})
		}
	}
	return ops
}

type hunk struct {
	start, end int // op indexes, end exclusive
}

// hunks groups changed lines with their context, merging groups whose
// context would overlap.
func hunks(ops []lineOp) []hunk {
	var out []hunk
	for i, op := range ops {
		if op.kind == ' ' {
			continue
		}
		start := max(i-contextLines, 0)
		end := min(i+1+contextLines, len(ops))
		if n := len(out); n > 0 && start <= out[n-1].end {
			out[n-1].end = max(out[n-1].end, end)
			continue
		}
		out = append(out, hunk{start: start, end: end})
	}
	return out
}

// unifiedDiff renders a unified diff between before and after. exists is
// false when the file is being created.
func unifiedDiff(st styles, path string, before, after []byte, exists bool) string {
	ops := lineOps(string(before), string(after))
	groups := hunks(ops)
	if len(groups) == 0 {
		return ""
	}

	oldName := "a/" + path
	if !exists {
		oldName = "/dev/null"
	}
	var b strings.Builder
	b.WriteString(st.header("--- "+oldName) + "\n")
	b.WriteString(st.header("+++ b/"+path) + "\n")

	// Line numbers before each op.
	oldLine := make([]int, len(ops)+1)
	newLine := make([]int, len(ops)+1)
	for i, op := range ops {
		oldLine[i+1], newLine[i+1] = oldLine[i], newLine[i]
		if op.kind != '+' {
			oldLine[i+1]++
		}
		if op.kind != '-' {
			newLine[i+1]++
		}
	}

	for _, h := range groups {
		oldCount := oldLine[h.end] - oldLine[h.start]
		newCount := newLine[h.end] - newLine[h.start]
		b.WriteString(st.hunk(fmt.Sprintf("@@ -%s +%s @@", span(oldLine[h.start], oldCount), span(newLine[h.start], newCount))) + "\n")
		for _, op := range ops[h.start:h.end] {
			line := string(op.kind) + op.text
			switch op.kind {
			case '+':
				line = st.added(line)
			case '-':
				line = st.removed(line)
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

// span formats a hunk range. An empty range names the line before it.
func span(before, count int) string {
	if count == 0 {
		return fmt.Sprintf("%d,0", before)
	}
	if count == 1 {
		return fmt.Sprintf("%d", before+1)
	}
	return fmt.Sprintf("%d,%d", before+1, count)
}
