package patch

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@ ?(.*)$`)

// ParsePatch parses unified-diff text into one FilePatch per file, in
// order. Lines before a file header (git extended headers, "Index:" lines,
// prose) are skipped. Input with no file header and no hunk, a garbled hunk
// header or a truncated hunk is reported as a *ParseError.
func ParsePatch(patchText string) ([]FilePatch, error) {
	text := NormalizeLineEndings(patchText)
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	p := &parser{lines: lines}
	return p.parse()
}

type parser struct {
	lines []string
	pos   int
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Line: p.pos + 1, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parse() ([]FilePatch, error) {
	var patches []FilePatch
	var cur *FilePatch

	flush := func() {
		if cur != nil {
			patches = append(patches, *cur)
			cur = nil
		}
	}

	for p.pos < len(p.lines) {
		line := p.lines[p.pos]
		switch {
		case isHeader(line, "---") && p.pos+1 < len(p.lines) && isHeader(p.lines[p.pos+1], "+++"):
			flush()
			cur = &FilePatch{}
			cur.OldName, cur.OldHeader = parseFileHeader(line, "---")
			cur.NewName, cur.NewHeader = parseFileHeader(p.lines[p.pos+1], "+++")
			p.pos += 2
		case isHeader(line, "+++"):
			return nil, p.errorf("+++ header without preceding --- header")
		case strings.HasPrefix(line, "@@"):
			if cur == nil {
				cur = &FilePatch{}
			}
			h, err := p.parseHunk()
			if err != nil {
				return nil, err
			}
			cur.Hunks = append(cur.Hunks, h)
		default:
			p.pos++
		}
	}
	flush()

	if len(patches) == 0 {
		p.pos = 0
		return nil, p.errorf("no file header or hunk found")
	}
	return patches, nil
}

func (p *parser) parseHunk() (Hunk, error) {
	m := hunkHeaderRegex.FindStringSubmatch(p.lines[p.pos])
	if m == nil {
		return Hunk{}, p.errorf("invalid hunk header %q", p.lines[p.pos])
	}
	h := Hunk{
		OldStart: atoi(m[1], 0),
		OldLines: atoi(m[2], 1),
		NewStart: atoi(m[3], 0),
		NewLines: atoi(m[4], 1),
		Section:  m[5],
	}
	p.pos++

	oldSeen, newSeen := 0, 0
	for p.pos < len(p.lines) && (oldSeen < h.OldLines || newSeen < h.NewLines) {
		line := p.lines[p.pos]
		if line == "" {
			// Some tools strip the trailing space of empty context lines.
			line = " "
		}
		switch Op(line[0]) {
		case OpContext:
			oldSeen++
			newSeen++
		case OpDelete:
			oldSeen++
		case OpInsert:
			newSeen++
		case '\\':
			if err := p.markNoEOL(&h); err != nil {
				return Hunk{}, err
			}
			continue
		default:
			return Hunk{}, p.errorf("unexpected line in hunk: %q", line)
		}
		if oldSeen > h.OldLines || newSeen > h.NewLines {
			return Hunk{}, p.errorf("hunk has more lines than its header declares")
		}
		h.Lines = append(h.Lines, Line{Op: Op(line[0]), Text: line[1:]})
		p.pos++
	}

	if oldSeen < h.OldLines || newSeen < h.NewLines {
		return Hunk{}, p.errorf("truncated hunk: header declares -%d +%d lines, found -%d +%d",
			h.OldLines, h.NewLines, oldSeen, newSeen)
	}
	if p.pos < len(p.lines) && strings.HasPrefix(p.lines[p.pos], `\`) {
		if err := p.markNoEOL(&h); err != nil {
			return Hunk{}, err
		}
	}
	return h, nil
}

// markNoEOL consumes a "\ No newline at end of file" marker, which applies
// to the line before it.
func (p *parser) markNoEOL(h *Hunk) error {
	if len(h.Lines) == 0 {
		return p.errorf("%q before any hunk line", p.lines[p.pos])
	}
	h.Lines[len(h.Lines)-1].NoEOL = true
	p.pos++
	return nil
}

func isHeader(line, prefix string) bool {
	return line == prefix || strings.HasPrefix(line, prefix+" ")
}

// parseFileHeader splits a --- or +++ line into the file name and whatever
// follows the first tab.
func parseFileHeader(line, prefix string) (name, header string) {
	rest := strings.TrimPrefix(strings.TrimPrefix(line, prefix), " ")
	name, header, _ = strings.Cut(rest, "\t")
	if strings.HasPrefix(name, `"`) {
		if unquoted, err := strconv.Unquote(name); err == nil {
			name = unquoted
		}
	}
	return name, header
}

func atoi(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
