package patch

import (
	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
)

// maxScanLines bounds the base size ClosestMatch is willing to scan.
const maxScanLines = 20000

// Match is the base region most similar to the old side of a hunk.
type Match struct {
	Line  int     // 1-based, 0 when nothing was scanned
	Ratio float64 // similarity in [0, 1]
}

// ClosestMatch slides the old side of h over base and returns the window
// with the highest similarity ratio. It is meant for error reporting after
// a hunk failed to apply.
func ClosestMatch(h Hunk, base string) Match {
	lines := splitLines(NormalizeLineEndings(base))
	var want []string
	for _, l := range h.Lines {
		if l.Op != OpInsert {
			want = append(want, l.raw())
		}
	}
	if len(want) == 0 || len(lines) == 0 || len(lines) > maxScanLines {
		return Match{}
	}

	m := difflib.NewMatcher(nil, nil)
	m.SetSeq2(want)
	best := Match{}
	span := min(len(want), len(lines))
	for pos := 0; pos+span <= len(lines); pos++ {
		m.SetSeq1(lines[pos : pos+span])
		if r := m.Ratio(); r > best.Ratio {
			best = Match{Line: pos + 1, Ratio: r}
		}
	}
	return best
}

func (e *Engine) diagnose(fp FilePatch, base string, f *Failure) {
	if ce := e.logger.Check(zap.WarnLevel, "patch did not apply"); ce != nil {
		closest := ClosestMatch(f.Hunk, base)
		ce.Write(
			zap.String("file", fp.NewName),
			zap.Int("hunk", f.HunkIndex),
			zap.String("header", f.Hunk.Header()),
			zap.String("reason", f.Reason),
			zap.Int("closest_line", closest.Line),
			zap.Float64("similarity", closest.Ratio),
		)
	}
	for i, h := range fp.Hunks {
		e.logger.Debug("patch hunk",
			zap.Int("index", i),
			zap.String("header", h.Header()),
			zap.Int("lines", len(h.Lines)),
		)
	}
}
