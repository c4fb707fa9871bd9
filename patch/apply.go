package patch

import (
	"fmt"
	"strings"
)

const (
	reasonNoMatch   = "context does not match the base text"
	reasonTooLong   = "hunk extends past the end of the base text"
	reasonNotCreate = "patch creates the file but the base text is not empty"
)

// ApplyPatch applies a single-file unified diff to baseText. CRLF line
// endings in baseText are normalized first.
//
// A patch that does not fit the base text is a soft failure: the returned
// Result has a non-nil Failure and a nil error. Malformed patch text, or
// text touching more than one file, is returned as an error.
func (e *Engine) ApplyPatch(patchText, baseText string, opts ...Option) (Result, error) {
	patches, err := ParsePatch(patchText)
	if err != nil {
		return Result{}, err
	}
	if len(patches) > 1 {
		return Result{}, fmt.Errorf("%w: found %d", ErrMultipleFiles, len(patches))
	}
	return e.Apply(patches[0], baseText, opts...), nil
}

// Apply applies an already parsed patch to baseText.
func (e *Engine) Apply(fp FilePatch, baseText string, opts ...Option) Result {
	o := collect(opts)
	base := NormalizeLineEndings(baseText)
	res := applyHunks(fp, base, o.fuzzFactor)
	if !res.Applied() {
		e.diagnose(fp, base, res.Failure)
	}
	return res
}

// ApplyMultiplePatches applies patches in order, feeding each result into
// the next patch. The first patch that fails to apply stops the sequence:
// its Failure is returned with PatchIndex set, later patches are not tried,
// and the text produced by earlier patches is discarded.
func (e *Engine) ApplyMultiplePatches(patches []string, initialText string, opts ...Option) (Result, error) {
	text := NormalizeLineEndings(initialText)
	for i, p := range patches {
		res, err := e.ApplyPatch(p, text, opts...)
		if err != nil {
			return Result{}, fmt.Errorf("patch %d: %w", i, err)
		}
		if !res.Applied() {
			res.Failure.PatchIndex = i
			return res, nil
		}
		text = res.Text
	}
	return Result{Text: text}, nil
}

// oldSide returns the number of base lines a hunk covers, counted from its
// body rather than its header.
func oldSide(h Hunk) int {
	n := 0
	for _, l := range h.Lines {
		if l.Op != OpInsert {
			n++
		}
	}
	return n
}

// expectedPos is the 0-based index in the unmodified base at which the hunk
// starts according to its header.
func expectedPos(h Hunk) int {
	if oldSide(h) == 0 {
		return h.OldStart
	}
	return h.OldStart - 1
}

func isCreation(fp FilePatch) bool {
	if fp.OldName != "/dev/null" {
		return false
	}
	for _, h := range fp.Hunks {
		if oldSide(h) != 0 {
			return false
		}
	}
	return true
}

func applyHunks(fp FilePatch, base string, fuzz int) Result {
	lines := splitLines(base)
	if isCreation(fp) && len(lines) > 0 && len(fp.Hunks) > 0 {
		return failed(&Failure{Hunk: fp.Hunks[0], Reason: reasonNotCreate})
	}

	positions := make([]int, len(fp.Hunks))
	offset, minPos := 0, 0
	for i, h := range fp.Hunks {
		span := oldSide(h)
		maxPos := len(lines) - span
		if maxPos < minPos {
			return failed(&Failure{HunkIndex: i, Hunk: h, Reason: reasonTooLong})
		}
		pos, ok := locate(h, lines, expectedPos(h)+offset, minPos, maxPos, fuzz)
		if !ok {
			return failed(&Failure{HunkIndex: i, Hunk: h, Reason: reasonNoMatch})
		}
		positions[i] = pos
		offset = pos - expectedPos(h)
		minPos = pos + span
	}

	var b strings.Builder
	b.Grow(len(base))
	cursor := 0
	for i, h := range fp.Hunks {
		for _, l := range lines[cursor:positions[i]] {
			b.WriteString(l)
		}
		cursor = positions[i]
		for _, l := range h.Lines {
			switch l.Op {
			case OpContext:
				b.WriteString(lines[cursor])
				cursor++
			case OpDelete:
				cursor++
			case OpInsert:
				b.WriteString(l.raw())
			}
		}
	}
	for _, l := range lines[cursor:] {
		b.WriteString(l)
	}
	return Result{Text: b.String()}
}

// locate searches outward from expected for a position in [minPos, maxPos]
// where the hunk fits, trying later lines before earlier ones at equal
// distance.
func locate(h Hunk, lines []string, expected, minPos, maxPos, fuzz int) (int, bool) {
	expected = min(max(expected, minPos), maxPos)
	for d := 0; ; d++ {
		fwd, back := expected+d, expected-d
		if fwd > maxPos && back < minPos {
			return -1, false
		}
		if fwd <= maxPos && fits(h, lines, fwd, fuzz) {
			return fwd, true
		}
		if d > 0 && back >= minPos && fits(h, lines, back, fuzz) {
			return back, true
		}
	}
}

// fits reports whether the context and deleted lines of h match lines
// starting at pos with at most fuzz mismatches. A line that differs in
// whether it ends with a newline never matches.
func fits(h Hunk, lines []string, pos, fuzz int) bool {
	mismatches := 0
	i := pos
	for _, l := range h.Lines {
		if l.Op == OpInsert {
			continue
		}
		got := lines[i]
		i++
		if got == l.raw() {
			continue
		}
		if strings.HasSuffix(got, "\n") == l.NoEOL {
			return false
		}
		mismatches++
		if mismatches > fuzz {
			return false
		}
	}
	return true
}
