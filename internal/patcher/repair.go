package patcher

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sokinpui/udiff/patch"
)

var errNoAnchor = errors.New("hunk has no context or removed lines to anchor it")

// rawHunk is a hunk as written in a hand-made diff, before its header is
// trusted.
type rawHunk struct {
	section string
	lines   []patch.Line
}

// getTargetBlock creates a "search pattern" from a hunk. It uses only lines
// that must exist in the source (context and removed lines) and ignores
// blank ones, so matching survives whitespace-only drift.
func getTargetBlock(h rawHunk) []string {
	var block []string
	for _, l := range h.lines {
		if l.Op != patch.OpInsert && strings.TrimSpace(l.Text) != "" {
			block = append(block, l.Text)
		}
	}
	return block
}

// leadingBlank counts the old-side lines of h before its first non-blank
// old-side line.
func leadingBlank(h rawHunk) int {
	n := 0
	for _, l := range h.lines {
		if l.Op == patch.OpInsert {
			continue
		}
		if strings.TrimSpace(l.Text) != "" {
			break
		}
		n++
	}
	return n
}

// normalizeLineForMatching trims a line and collapses internal whitespace.
func normalizeLineForMatching(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

// matchBlock finds the 0-based index in source where block starts, looking
// no earlier than from. Blank source lines are skipped and lines are
// compared whitespace-normalized. It returns -1 when there is no match.
func matchBlock(source []string, block []string, from int) int {
	if len(block) == 0 {
		return -1
	}

	normalizedBlock := make([]string, len(block))
	for i, line := range block {
		normalizedBlock[i] = normalizeLineForMatching(line)
	}

	var filteredSource []string
	var originalLineNumbers []int
	for i := from; i < len(source); i++ {
		normalizedLine := normalizeLineForMatching(source[i])
		if normalizedLine != "" {
			filteredSource = append(filteredSource, normalizedLine)
			originalLineNumbers = append(originalLineNumbers, i)
		}
	}

	for i := 0; i <= len(filteredSource)-len(normalizedBlock); i++ {
		match := true
		for j := range normalizedBlock {
			if filteredSource[i+j] != normalizedBlock[j] {
				match = false
				break
			}
		}
		if match {
			return originalLineNumbers[i]
		}
	}
	return -1
}

// parseDiffToHunks splits a loosely formatted diff into hunks. File headers
// and hunk header numbers are ignored. A bare empty line inside a hunk is a
// blank context line whose leading space was stripped.
func parseDiffToHunks(rawDiff string) []rawHunk {
	var hunks []rawHunk
	var current *rawHunk

	flush := func() {
		if current == nil {
			return
		}
		for len(current.lines) > 0 {
			last := current.lines[len(current.lines)-1]
			if last.Op != patch.OpContext || last.Text != "" {
				break
			}
			current.lines = current.lines[:len(current.lines)-1]
		}
		if len(current.lines) > 0 {
			hunks = append(hunks, *current)
		}
		current = nil
	}

	for _, line := range strings.Split(patch.NormalizeLineEndings(rawDiff), "\n") {
		switch {
		case strings.HasPrefix(line, "--- "), strings.HasPrefix(line, "+++ "):
			continue
		case strings.HasPrefix(line, "@@"):
			flush()
			current = &rawHunk{section: hunkSection(line)}
		case current == nil:
			continue
		case strings.HasPrefix(line, `\`):
			if n := len(current.lines); n > 0 {
				current.lines[n-1].NoEOL = true
			}
		case line == "":
			current.lines = append(current.lines, patch.Line{Op: patch.OpContext})
		case line[0] == '+' || line[0] == '-' || line[0] == ' ':
			current.lines = append(current.lines, patch.Line{Op: patch.Op(line[0]), Text: line[1:]})
		}
	}
	flush()
	return hunks
}

// hunkSection returns the text after the closing @@ of a hunk header.
func hunkSection(header string) string {
	rest := strings.TrimPrefix(header, "@@")
	if i := strings.Index(rest, "@@"); i >= 0 {
		return strings.TrimSpace(rest[i+2:])
	}
	return ""
}

// CorrectDiff rebuilds a diff against source: every hunk is located by its
// content, its header is recomputed, and context or removed lines that
// match only after whitespace normalization take the source's spelling.
func CorrectDiff(source, rawDiff, path string) (patch.FilePatch, error) {
	fp := patch.FilePatch{OldName: "a/" + path, NewName: "b/" + path}
	src := splitSource(source)

	hunks := parseDiffToHunks(rawDiff)
	if len(hunks) == 0 {
		return fp, fmt.Errorf("no hunks found in diff for %s", path)
	}

	lineDiffOffset, from := 0, 0
	for i, h := range hunks {
		oldStart, err := anchor(src.lines, h, from)
		if err != nil {
			return fp, fmt.Errorf("hunk %d: %w", i, err)
		}

		lines := alignToSource(src, h.lines, oldStart)
		oldLines, newLines := 0, 0
		for _, l := range lines {
			if l.Op != patch.OpInsert {
				oldLines++
			}
			if l.Op != patch.OpDelete {
				newLines++
			}
		}

		hunk := patch.Hunk{
			OldStart: oldStart + 1,
			OldLines: oldLines,
			NewStart: oldStart + 1 + lineDiffOffset,
			NewLines: newLines,
			Section:  h.section,
			Lines:    lines,
		}
		if oldLines == 0 {
			hunk.OldStart = oldStart
		}
		if newLines == 0 {
			hunk.NewStart = oldStart + lineDiffOffset
		}
		fp.Hunks = append(fp.Hunks, hunk)

		lineDiffOffset += newLines - oldLines
		from = oldStart + oldLines
	}
	return fp, nil
}

// anchor returns the 0-based source index where the old side of h starts.
func anchor(source []string, h rawHunk, from int) (int, error) {
	target := getTargetBlock(h)
	if len(target) == 0 {
		hasOld := false
		for _, l := range h.lines {
			if l.Op != patch.OpInsert {
				hasOld = true
				break
			}
		}
		if len(source) == 0 && !hasOld {
			return 0, nil
		}
		if !hasOld && from == len(source) {
			return from, nil
		}
		return -1, errNoAnchor
	}

	start := matchBlock(source, target, from)
	if start == -1 {
		return -1, errors.New("could not find matching block for a hunk")
	}
	start -= leadingBlank(h)
	if start < from {
		start = from
	}
	return start, nil
}

// alignToSource walks the old side of lines from source[start] and replaces
// each line with the source line when both normalize to the same text.
func alignToSource(source sourceText, lines []patch.Line, start int) []patch.Line {
	out := make([]patch.Line, len(lines))
	copy(out, lines)
	pos := start
	for i, l := range out {
		if l.Op == patch.OpInsert {
			continue
		}
		if pos < len(source.lines) && normalizeLineForMatching(source.lines[pos]) == normalizeLineForMatching(l.Text) {
			out[i].Text = source.lines[pos]
			out[i].NoEOL = source.noEOL && pos == len(source.lines)-1
		}
		pos++
	}
	return out
}

// sourceText is the base file split into lines without terminators.
type sourceText struct {
	lines []string
	noEOL bool // the last line has no trailing newline
}

func splitSource(text string) sourceText {
	text = patch.NormalizeLineEndings(text)
	if text == "" {
		return sourceText{}
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		return sourceText{lines: lines[:len(lines)-1]}
	}
	return sourceText{lines: lines, noEOL: true}
}
