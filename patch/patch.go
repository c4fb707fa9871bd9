// Package patch creates, parses and applies unified diffs.
//
// Every operation is a pure function of its inputs. Line endings are
// normalized to LF before comparison, so a patch created from CRLF text
// applies to LF text and vice versa.
package patch

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultContext is the number of unchanged lines kept around each change
// when CreatePatch is called without WithContext.
const DefaultContext = 3

const noNewlineMarker = `\ No newline at end of file`

var (
	// ErrMalformedPatch is returned when patch text cannot be parsed.
	ErrMalformedPatch = errors.New("malformed patch")
	// ErrMultipleFiles is returned by ApplyPatch when the patch touches more
	// than one file.
	ErrMultipleFiles = errors.New("patch contains more than one file")
)

// ParseError locates a parse failure inside the patch text.
type ParseError struct {
	Line int // 1-based
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed patch at line %d: %s", e.Line, e.Msg)
}

func (e *ParseError) Unwrap() error { return ErrMalformedPatch }

// Op is the kind of a hunk line.
type Op byte

const (
	OpContext Op = ' '
	OpDelete  Op = '-'
	OpInsert  Op = '+'
)

// Line is one body line of a hunk.
type Line struct {
	Op   Op
	Text string
	// NoEOL is set when the line is the last line of its file and has no
	// trailing newline.
	NoEOL bool
}

// raw returns the line as it appears in the file, terminator included.
func (l Line) raw() string {
	if l.NoEOL {
		return l.Text
	}
	return l.Text + "\n"
}

// Hunk is one contiguous block of changes.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Section  string
	Lines    []Line
}

// FilePatch is the parsed form of the changes to a single file.
type FilePatch struct {
	OldName   string
	NewName   string
	OldHeader string // anything after the name on the --- line, e.g. a timestamp
	NewHeader string
	Hunks     []Hunk
}

// Failure describes why a patch did not apply cleanly.
type Failure struct {
	// PatchIndex is the position of the failing patch in an
	// ApplyMultiplePatches call, and 0 for ApplyPatch.
	PatchIndex int
	HunkIndex  int
	Hunk       Hunk
	Reason     string
}

func (f *Failure) String() string {
	return fmt.Sprintf("patch %d hunk %d (@@ -%d,%d +%d,%d @@): %s",
		f.PatchIndex, f.HunkIndex, f.Hunk.OldStart, f.Hunk.OldLines, f.Hunk.NewStart, f.Hunk.NewLines, f.Reason)
}

// Result is the outcome of applying a patch. Exactly one of Text and
// Failure is meaningful: Text when Applied reports true.
type Result struct {
	Text    string
	Failure *Failure
}

// Applied reports whether the patch applied and Text holds the new content.
func (r Result) Applied() bool { return r.Failure == nil }

func failed(f *Failure) Result { return Result{Failure: f} }

// NormalizeLineEndings converts every CRLF sequence to LF.
func NormalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// splitLines splits s into lines, each keeping its "\n" terminator. The last
// line has no terminator when s does not end in a newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// toLine builds a hunk line from a raw file line.
func toLine(op Op, raw string) Line {
	if strings.HasSuffix(raw, "\n") {
		return Line{Op: op, Text: raw[:len(raw)-1]}
	}
	return Line{Op: op, Text: raw, NoEOL: true}
}
