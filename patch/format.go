package patch

import (
	"strconv"
	"strings"
)

// String renders the patch as unified-diff text. The --- and +++ headers are
// always written, so a patch without hunks still parses.
func (fp FilePatch) String() string {
	var b strings.Builder
	writeFileHeader(&b, "---", fp.OldName, fp.OldHeader)
	writeFileHeader(&b, "+++", fp.NewName, fp.NewHeader)
	for _, h := range fp.Hunks {
		h.write(&b)
	}
	return b.String()
}

// Header returns the @@ line of the hunk without its newline.
func (h Hunk) Header() string {
	s := "@@ -" + formatRange(h.OldStart, h.OldLines) + " +" + formatRange(h.NewStart, h.NewLines) + " @@"
	if h.Section != "" {
		s += " " + h.Section
	}
	return s
}

func (h Hunk) write(b *strings.Builder) {
	b.WriteString(h.Header())
	b.WriteByte('\n')
	for _, l := range h.Lines {
		b.WriteByte(byte(l.Op))
		b.WriteString(l.Text)
		b.WriteByte('\n')
		if l.NoEOL {
			b.WriteString(noNewlineMarker)
			b.WriteByte('\n')
		}
	}
}

func writeFileHeader(b *strings.Builder, prefix, name, header string) {
	b.WriteString(prefix)
	b.WriteByte(' ')
	if strings.ContainsAny(name, "\t\n") || strings.HasPrefix(name, `"`) {
		name = strconv.Quote(name)
	}
	b.WriteString(name)
	if header != "" {
		b.WriteByte('\t')
		b.WriteString(header)
	}
	b.WriteByte('\n')
}

func formatRange(start, count int) string {
	if count == 1 {
		return strconv.Itoa(start)
	}
	return strconv.Itoa(start) + "," + strconv.Itoa(count)
}

// Reverse returns the patch that undoes fp: names and ranges are swapped
// and insertions become deletions. Within each run of changes the
// deletions are listed first.
func Reverse(fp FilePatch) FilePatch {
	rev := FilePatch{
		OldName:   fp.NewName,
		NewName:   fp.OldName,
		OldHeader: fp.NewHeader,
		NewHeader: fp.OldHeader,
		Hunks:     make([]Hunk, 0, len(fp.Hunks)),
	}
	for _, h := range fp.Hunks {
		rh := Hunk{
			OldStart: h.NewStart,
			OldLines: h.NewLines,
			NewStart: h.OldStart,
			NewLines: h.OldLines,
			Section:  h.Section,
			Lines:    make([]Line, 0, len(h.Lines)),
		}
		var dels, ins []Line
		flushRun := func() {
			rh.Lines = append(rh.Lines, dels...)
			rh.Lines = append(rh.Lines, ins...)
			dels, ins = nil, nil
		}
		for _, l := range h.Lines {
			switch l.Op {
			case OpInsert:
				l.Op = OpDelete
				dels = append(dels, l)
			case OpDelete:
				l.Op = OpInsert
				ins = append(ins, l)
			default:
				flushRun()
				rh.Lines = append(rh.Lines, l)
			}
		}
		flushRun()
		rev.Hunks = append(rev.Hunks, rh)
	}
	return rev
}
