package patch

import "github.com/sergi/go-diff/diffmatchpatch"

// edit is a single line-level operation of a diff. oldPos and newPos are the
// 0-based positions in the old and new text at which the line sits (or, for
// lines absent from one side, would sit).
type edit struct {
	op     Op
	raw    string
	oldPos int
	newPos int
}

// CreatePatch returns a unified diff turning oldText into newText, with
// oldLabel and newLabel as the --- and +++ file names. Identical inputs
// yield a patch with headers and no hunks.
func (e *Engine) CreatePatch(oldLabel, newLabel, oldText, newText string, opts ...Option) string {
	fp := e.Diff(oldLabel, newLabel, oldText, newText, opts...)
	return fp.String()
}

// Diff is CreatePatch without the final rendering step.
func (e *Engine) Diff(oldLabel, newLabel, oldText, newText string, opts ...Option) FilePatch {
	o := collect(opts)
	oldText = NormalizeLineEndings(oldText)
	newText = NormalizeLineEndings(newText)

	fp := FilePatch{OldName: oldLabel, NewName: newLabel}
	if oldText == newText {
		return fp
	}
	fp.Hunks = groupHunks(lineEdits(oldText, newText), o.context)
	return fp
}

// lineEdits computes the line diff of a and b. Each distinct line is
// encoded as one rune before diffing, so every diff boundary falls on a
// line boundary.
func lineEdits(a, b string) []edit {
	enc := newLineEncoder()
	ra, rb := enc.encode(splitLines(a)), enc.encode(splitLines(b))
	diffs := newMatcher().DiffMainRunes(ra, rb, false)

	var edits []edit
	oldPos, newPos := 0, 0
	for _, d := range diffs {
		for _, r := range []rune(d.Text) {
			raw := enc.line(r)
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				edits = append(edits, edit{op: OpContext, raw: raw, oldPos: oldPos, newPos: newPos})
				oldPos++
				newPos++
			case diffmatchpatch.DiffDelete:
				edits = append(edits, edit{op: OpDelete, raw: raw, oldPos: oldPos, newPos: newPos})
				oldPos++
			case diffmatchpatch.DiffInsert:
				edits = append(edits, edit{op: OpInsert, raw: raw, oldPos: oldPos, newPos: newPos})
				newPos++
			}
		}
	}
	return edits
}

// lineEncoder maps each distinct line to a rune. Runes are handed out in
// order and skip the UTF-16 surrogate range, which does not survive a
// round trip through a Go string.
type lineEncoder struct {
	index map[string]rune
	lines []string
}

const (
	surrogateMin = 0xD800
	surrogateMax = 0xDFFF
)

func newLineEncoder() *lineEncoder {
	return &lineEncoder{index: make(map[string]rune)}
}

func (e *lineEncoder) encode(lines []string) []rune {
	out := make([]rune, len(lines))
	for i, l := range lines {
		r, ok := e.index[l]
		if !ok {
			r = runeFor(len(e.lines))
			e.index[l] = r
			e.lines = append(e.lines, l)
		}
		out[i] = r
	}
	return out
}

func (e *lineEncoder) line(r rune) string {
	n := int(r)
	if n > surrogateMax {
		n -= surrogateMax - surrogateMin + 1
	}
	return e.lines[n]
}

func runeFor(n int) rune {
	if n >= surrogateMin {
		n += surrogateMax - surrogateMin + 1
	}
	return rune(n)
}

// groupHunks cuts edits into hunks carrying ctx lines of context. Change
// runs separated by at most 2*ctx unchanged lines share a hunk.
func groupHunks(edits []edit, ctx int) []Hunk {
	var hunks []Hunk
	n := len(edits)
	i := 0
	for i < n {
		for i < n && edits[i].op == OpContext {
			i++
		}
		if i == n {
			break
		}

		start := max(0, i-ctx)
		end := i
		for {
			for end < n && edits[end].op != OpContext {
				end++
			}
			next := end
			for next < n && edits[next].op == OpContext {
				next++
			}
			if next < n && next-end <= 2*ctx {
				end = next
				continue
			}
			break
		}
		stop := min(n, end+ctx)

		hunks = append(hunks, buildHunk(edits[start:stop]))
		i = stop
	}
	return hunks
}

func buildHunk(edits []edit) Hunk {
	h := Hunk{Lines: make([]Line, 0, len(edits))}
	for _, ed := range edits {
		h.Lines = append(h.Lines, toLine(ed.op, ed.raw))
		switch ed.op {
		case OpContext:
			h.OldLines++
			h.NewLines++
		case OpDelete:
			h.OldLines++
		case OpInsert:
			h.NewLines++
		}
	}

	// An empty range names the line before it, so it is not shifted to
	// 1-based numbering.
	h.OldStart = edits[0].oldPos
	if h.OldLines > 0 {
		h.OldStart++
	}
	h.NewStart = edits[0].newPos
	if h.NewLines > 0 {
		h.NewStart++
	}
	return h
}
