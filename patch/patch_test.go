package patch

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/sync/errgroup"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestCreatePatch_Scenario(t *testing.T) {
	got := CreatePatch("a.txt", "a.txt", "line1\nline2\n", "line1\nchanged\n")
	want := "--- a.txt\n" +
		"+++ a.txt\n" +
		"@@ -1,2 +1,2 @@\n" +
		" line1\n" +
		"-line2\n" +
		"+changed\n"
	assert.Equal(t, want, got)

	res, err := ApplyPatch(got, "line1\nline2\n")
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, "line1\nchanged\n", res.Text)
}

func TestCreatePatch_NoNewlineAtEOF(t *testing.T) {
	got := CreatePatch("f", "f", "a\nb", "a\nc")
	want := "--- f\n" +
		"+++ f\n" +
		"@@ -1,2 +1,2 @@\n" +
		" a\n" +
		"-b\n" +
		`\ No newline at end of file` + "\n" +
		"+c\n" +
		`\ No newline at end of file` + "\n"
	assert.Equal(t, want, got)
}

func TestCreatePatch_Identical(t *testing.T) {
	const text = "one\ntwo\nthree\n"
	got := CreatePatch("x", "x", text, text)
	assert.Equal(t, "--- x\n+++ x\n", got)

	parsed, err := ParsePatch(got)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Empty(t, parsed[0].Hunks)

	res, err := ApplyPatch(got, text)
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, text, res.Text)
}

func TestCreatePatch_IdenticalWithEmptyLabels(t *testing.T) {
	got := CreatePatch("", "", "same\n", "same\n")
	res, err := ApplyPatch(got, "same\n")
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, "same\n", res.Text)
}

func TestCreatePatch_LineEndingInsensitive(t *testing.T) {
	a := "alpha\nbeta\ngamma\n"
	b := "alpha\nBETA\ngamma\ndelta\n"
	lf := CreatePatch("f", "f", a, b)
	crlf := CreatePatch("f", "f", strings.ReplaceAll(a, "\n", "\r\n"), b)
	assert.Equal(t, lf, crlf)
}

func TestCreatePatch_Context(t *testing.T) {
	var old, updated []string
	for i := 1; i <= 20; i++ {
		old = append(old, fmt.Sprintf("line%d", i))
		updated = append(updated, fmt.Sprintf("line%d", i))
	}
	updated[2] = "CHANGED3"
	updated[16] = "CHANGED17"
	a := strings.Join(old, "\n") + "\n"
	b := strings.Join(updated, "\n") + "\n"

	tests := []struct {
		name    string
		opts    []Option
		hunks   int
		context int
	}{
		{name: "default", hunks: 2, context: DefaultContext},
		{name: "zero", opts: []Option{WithContext(0)}, hunks: 2, context: 0},
		{name: "wide enough to merge", opts: []Option{WithContext(7)}, hunks: 1, context: 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := Default.Diff("f", "f", a, b, tt.opts...)
			require.Len(t, fp.Hunks, tt.hunks)

			first := fp.Hunks[0]
			leading := 0
			for _, l := range first.Lines {
				if l.Op != OpContext {
					break
				}
				leading++
			}
			assert.Equal(t, min(tt.context, 2), leading)

			res, err := ApplyPatch(fp.String(), a)
			require.NoError(t, err)
			require.True(t, res.Applied())
			assert.Equal(t, b, res.Text)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	pairs := []struct {
		name string
		a, b string
	}{
		{"empty to content", "", "hello\nworld\n"},
		{"content to empty", "hello\nworld\n", ""},
		{"both empty", "", ""},
		{"append", "a\nb\n", "a\nb\nc\n"},
		{"prepend", "b\nc\n", "a\nb\nc\n"},
		{"add trailing newline", "a\nb", "a\nb\n"},
		{"drop trailing newline", "a\nb\n", "a\nb"},
		{"no newline anywhere", "x", "y"},
		{"repeated lines", "x\nx\nx\ny\nx\nx\n", "x\ny\nx\nx\nx\nx\n"},
		{"crlf input", "one\r\ntwo\r\nthree\r\n", "one\r\n2\r\nthree\r\n"},
		{"blank lines", "\n\n\na\n\n", "\na\n\n\n\n"},
		{
			"scattered edits",
			"package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"hi\")\n}\n\nfunc other() {}\n",
			"package main\n\nimport (\n\t\"fmt\"\n\t\"os\"\n)\n\nfunc main() {\n\tfmt.Println(\"hi\")\n\tos.Exit(0)\n}\n",
		},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			for _, ctx := range []int{0, 1, DefaultContext} {
				p := CreatePatch("a", "b", tt.a, tt.b, WithContext(ctx))
				res, err := ApplyPatch(p, tt.a)
				require.NoError(t, err, "context %d:\n%s", ctx, p)
				require.True(t, res.Applied(), "context %d: %v\n%s", ctx, res.Failure, p)
				assert.Equal(t, NormalizeLineEndings(tt.b), res.Text, "context %d", ctx)
			}
		})
	}
}

func TestCreatePatch_ManyDistinctLines(t *testing.T) {
	var lines []string
	for i := 0; i < 15; i++ {
		lines = append(lines, fmt.Sprintf("line%d", i))
	}
	a := strings.Join(lines, "\n") + "\n"
	lines[12] = "changed"
	b := strings.Join(lines, "\n") + "\n"

	want := "--- f\n+++ f\n" +
		"@@ -10,6 +10,6 @@\n" +
		" line9\n line10\n line11\n-line12\n+changed\n line13\n line14\n"
	assert.Equal(t, want, CreatePatch("f", "f", a, b))
}

// randomEdit returns a copy of lines with a few lines replaced, inserted
// or removed.
func randomEdit(rng *rand.Rand, lines []string, vocab int) []string {
	out := append([]string(nil), lines...)
	for n := 1 + rng.Intn(4); n > 0; n-- {
		word := fmt.Sprintf("line%d", rng.Intn(vocab))
		switch pos := rng.Intn(len(out) + 1); rng.Intn(3) {
		case 0:
			if pos < len(out) {
				out[pos] = word
			}
		case 1:
			out = append(out[:pos], append([]string{word}, out[pos:]...)...)
		case 2:
			if pos < len(out) {
				out = append(out[:pos], out[pos+1:]...)
			}
		}
	}
	return out
}

func TestRoundTrip_Randomized(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 300; i++ {
		vocab := 20 + rng.Intn(80)
		var lines []string
		for j := 0; j < 40; j++ {
			lines = append(lines, fmt.Sprintf("line%d", rng.Intn(vocab)))
		}
		a := strings.Join(lines, "\n") + "\n"
		b := strings.Join(randomEdit(rng, lines, vocab), "\n") + "\n"

		for _, ctx := range []int{0, DefaultContext} {
			fp := Default.Diff("a", "b", a, b, WithContext(ctx))
			for _, h := range fp.Hunks {
				for _, l := range h.Lines {
					switch l.Op {
					case OpDelete:
						require.Contains(t, a, l.Text+"\n", "case %d: removed line not in the old text", i)
					case OpInsert:
						require.Contains(t, b, l.Text+"\n", "case %d: added line not in the new text", i)
					}
				}
			}

			res, err := ApplyPatch(fp.String(), a)
			require.NoError(t, err, "case %d", i)
			require.True(t, res.Applied(), "case %d context %d: %v\n%s", i, ctx, res.Failure, fp.String())
			require.Equal(t, b, res.Text, "case %d context %d", i, ctx)

			undo, err := ApplyPatch(Reverse(fp).String(), b)
			require.NoError(t, err, "case %d", i)
			require.True(t, undo.Applied(), "case %d context %d: reverse did not apply", i, ctx)
			require.Equal(t, a, undo.Text, "case %d context %d", i, ctx)
		}
	}
}

func TestLineEncoderSkipsSurrogates(t *testing.T) {
	assert.Equal(t, rune(0xD7FF), runeFor(0xD7FF))
	assert.Equal(t, rune(0xE000), runeFor(0xD800))

	enc := newLineEncoder()
	var lines []string
	for i := 0; i < 0xD800+10; i++ {
		lines = append(lines, fmt.Sprintf("%d\n", i))
	}
	runes := enc.encode(lines)
	decoded := []rune(string(runes))
	require.Len(t, decoded, len(lines))
	for i, r := range decoded {
		if enc.line(r) != lines[i] {
			t.Fatalf("line %d decoded as %q", i, enc.line(r))
		}
	}
}

func TestApplyPatch_Mismatch(t *testing.T) {
	p := CreatePatch("f", "f", "alpha\nbeta\ngamma\n", "alpha\nBETA\ngamma\n")

	res, err := ApplyPatch(p, "totally different content")
	require.NoError(t, err)
	assert.False(t, res.Applied())
	require.NotNil(t, res.Failure)
	assert.Empty(t, res.Text)

	res, err = ApplyPatch(p, "one\ntwo\nthree\nfour\n")
	require.NoError(t, err)
	require.False(t, res.Applied())
	assert.Equal(t, 0, res.Failure.HunkIndex)
	assert.Equal(t, reasonNoMatch, res.Failure.Reason)
}

func TestApplyPatch_FuzzFactor(t *testing.T) {
	p := CreatePatch("f", "f", "alpha\nbeta\ngamma\n", "alpha\nBETA\ngamma\n")
	base := "alpha\nbeta\nGAMMA\n"

	res, err := ApplyPatch(p, base)
	require.NoError(t, err)
	assert.False(t, res.Applied())

	res, err = ApplyPatch(p, base, WithFuzzFactor(1))
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, "alpha\nBETA\nGAMMA\n", res.Text)
}

func TestApplyPatch_FuzzNeverMatchesMissingNewline(t *testing.T) {
	p := CreatePatch("f", "f", "a\nb\n", "a\nb\nc\n", WithContext(1))
	res, err := ApplyPatch(p, "B", WithFuzzFactor(5))
	require.NoError(t, err)
	assert.False(t, res.Applied())
}

func TestApplyPatch_Offset(t *testing.T) {
	a := "alpha\nbeta\ngamma\ndelta\n"
	b := "alpha\nbeta\nGAMMA\ndelta\n"
	p := CreatePatch("f", "f", a, b, WithContext(1))

	res, err := ApplyPatch(p, "new first\nnew second\n"+a)
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, "new first\nnew second\n"+b, res.Text)
}

func TestApplyPatch_CRLFBase(t *testing.T) {
	p := CreatePatch("f", "f", "a\nb\n", "a\nc\n")
	res, err := ApplyPatch(p, "a\r\nb\r\n")
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, "a\nc\n", res.Text)
}

func TestApplyPatch_CreationRequiresEmptyBase(t *testing.T) {
	p := "--- /dev/null\n+++ b/new.txt\n@@ -0,0 +1,2 @@\n+first\n+second\n"

	res, err := ApplyPatch(p, "")
	require.NoError(t, err)
	require.True(t, res.Applied())
	assert.Equal(t, "first\nsecond\n", res.Text)

	res, err = ApplyPatch(p, "already here\n")
	require.NoError(t, err)
	require.False(t, res.Applied())
	assert.Equal(t, reasonNotCreate, res.Failure.Reason)
}

func TestApplyPatch_HardFailures(t *testing.T) {
	_, err := ApplyPatch("not a real diff", "anything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPatch))

	two := CreatePatch("a", "a", "1\n", "2\n") + CreatePatch("b", "b", "3\n", "4\n")
	_, err = ApplyPatch(two, "1\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMultipleFiles))
}

func TestApplyMultiplePatches(t *testing.T) {
	x := "one\ntwo\nthree\n"
	y := "one\n2\nthree\n"
	z := "one\n2\nthree\nfour\n"
	p1 := CreatePatch("f", "f", x, y)
	p2 := CreatePatch("f", "f", y, z)

	res, err := ApplyMultiplePatches([]string{p1, p2}, x)
	require.NoError(t, err)
	require.True(t, res.Applied())

	step1, err := ApplyPatch(p1, x)
	require.NoError(t, err)
	step2, err := ApplyPatch(p2, step1.Text)
	require.NoError(t, err)
	assert.Equal(t, step2.Text, res.Text)
	assert.Equal(t, z, res.Text)

	empty, err := ApplyMultiplePatches(nil, "a\r\nb\r\n")
	require.NoError(t, err)
	require.True(t, empty.Applied())
	assert.Equal(t, "a\nb\n", empty.Text)
}

func TestApplyMultiplePatches_StopsAtFirstFailure(t *testing.T) {
	x := "one\ntwo\nthree\n"
	p1 := CreatePatch("f", "f", x, "one\n2\nthree\n")
	unrelated := CreatePatch("f", "f", "red\ngreen\nblue\n", "red\nGREEN\nblue\n")

	// The malformed third patch would surface as an error if it were tried.
	res, err := ApplyMultiplePatches([]string{p1, unrelated, "garbage"}, x)
	require.NoError(t, err)
	require.False(t, res.Applied())
	assert.Equal(t, 1, res.Failure.PatchIndex)
	assert.Empty(t, res.Text)
}

func TestApplyMultiplePatches_HardFailure(t *testing.T) {
	_, err := ApplyMultiplePatches([]string{"@@ broken"}, "x\n")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedPatch))
}

func TestReverse(t *testing.T) {
	a := "alpha\nbeta\ngamma\ndelta\nepsilon\n"
	b := "alpha\nBETA\ngamma\ndelta\nepsilon\nzeta"
	parsed, err := ParsePatch(CreatePatch("old", "new", a, b, WithContext(1)))
	require.NoError(t, err)

	rev := Reverse(parsed[0])
	assert.Equal(t, "new", rev.OldName)
	assert.Equal(t, "old", rev.NewName)

	res := Default.Apply(rev, b)
	require.True(t, res.Applied(), "%v", res.Failure)
	assert.Equal(t, a, res.Text)
}

func TestConcurrentUse(t *testing.T) {
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			a := fmt.Sprintf("worker %d\nshared\n", i)
			b := fmt.Sprintf("worker %d\nshared\nextra %d\n", i, i)
			res, err := ApplyPatch(CreatePatch("f", "f", a, b), a)
			if err != nil {
				return err
			}
			if !res.Applied() || res.Text != b {
				return fmt.Errorf("worker %d: unexpected result %q", i, res.Text)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
}

func TestDiagnosticsLogged(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	engine := NewEngine(zap.New(core))

	p := engine.CreatePatch("f", "f", "one\nbeta\ngamma\n", "one\nBETA\ngamma\n")
	res, err := engine.ApplyPatch(p, "something\nelse\nentirely\n")
	require.NoError(t, err)
	require.False(t, res.Applied())

	entries := logs.FilterMessage("patch did not apply").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(0), entries[0].ContextMap()["hunk"])
}

func TestClosestMatch(t *testing.T) {
	h := Hunk{Lines: []Line{
		{Op: OpContext, Text: "beta"},
		{Op: OpDelete, Text: "gamma"},
		{Op: OpInsert, Text: "GAMMA"},
	}}
	m := ClosestMatch(h, "one\nbeta\ngamma\nthree\n")
	assert.Equal(t, 2, m.Line)
	assert.InDelta(t, 1.0, m.Ratio, 1e-9)

	assert.Equal(t, Match{}, ClosestMatch(h, ""))
}

func TestParsePatch_Structure(t *testing.T) {
	text := "diff --git a/a.txt b/a.txt\n" +
		"index 83db48f..bf269f4 100644\n" +
		"--- a/a.txt\t2024-01-01 00:00:00\n" +
		"+++ b/a.txt\n" +
		"@@ -1,2 +1,2 @@ func main()\n" +
		" line1\n" +
		"-line2\n" +
		"+changed\n"

	got, err := ParsePatch(text)
	require.NoError(t, err)

	want := []FilePatch{{
		OldName:   "a/a.txt",
		NewName:   "b/a.txt",
		OldHeader: "2024-01-01 00:00:00",
		Hunks: []Hunk{{
			OldStart: 1, OldLines: 2, NewStart: 1, NewLines: 2,
			Section: "func main()",
			Lines: []Line{
				{Op: OpContext, Text: "line1"},
				{Op: OpDelete, Text: "line2"},
				{Op: OpInsert, Text: "changed"},
			},
		}},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParsePatch() mismatch (-want +got):\n%s", diff)
	}
}

func TestParsePatch_MultipleFilesAndHeaderless(t *testing.T) {
	text := CreatePatch("a", "a", "1\n", "2\n") + CreatePatch("b", "b", "3\n", "4\n")
	got, err := ParsePatch(text)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].OldName)
	assert.Equal(t, "b", got[1].NewName)

	headerless, err := ParsePatch("@@ -1 +1 @@\n-a\n+b\n")
	require.NoError(t, err)
	require.Len(t, headerless, 1)
	assert.Empty(t, headerless[0].OldName)
	require.Len(t, headerless[0].Hunks, 1)
	assert.Equal(t, 1, headerless[0].Hunks[0].OldLines)
}

func TestParsePatch_StrippedBlankContextLine(t *testing.T) {
	text := "--- f\n+++ f\n@@ -1,3 +1,3 @@\n a\n\n-b\n+c\n"
	got, err := ParsePatch(text)
	require.NoError(t, err)
	require.Len(t, got[0].Hunks[0].Lines, 4)
	assert.Equal(t, Line{Op: OpContext, Text: ""}, got[0].Hunks[0].Lines[1])
}

func TestParsePatch_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
		line int
	}{
		{"not a diff", "not a real diff", 1},
		{"empty", "", 1},
		{"garbled hunk header", "--- a\n+++ a\n@@ -x +y @@\n-a\n", 3},
		{"truncated hunk", "--- a\n+++ a\n@@ -1,3 +1,3 @@\n a\n-b\n", 6},
		{"unexpected line", "--- a\n+++ a\n@@ -1,2 +1,2 @@\n a\n?b\n+c\n", 5},
		{"too many lines", "--- a\n+++ a\n@@ -1 +1 @@\n-a\n-b\n+c\n", 5},
		{"orphan plus header", "+++ b\n@@ -1 +1 @@\n-a\n+b\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePatch(tt.text)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedPatch))

			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, tt.line, perr.Line)
		})
	}
}

func TestFilePatchString_RoundTripsParse(t *testing.T) {
	text := CreatePatch("old.go", "new.go", "a\nb\nc\nd", "a\nB\nc\nd\ne\n", WithContext(1))
	parsed, err := ParsePatch(text)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, text, parsed[0].String())
}

func TestFileHeaderLabelsRoundTrip(t *testing.T) {
	labels := []string{"plain.go", "with space.go", "tab\there.go", `"quoted".go`, "line\nbreak.go"}
	for _, label := range labels {
		t.Run(label, func(t *testing.T) {
			text := CreatePatch(label, label+".new", "a\n", "b\n")
			parsed, err := ParsePatch(text)
			require.NoError(t, err)
			require.Len(t, parsed, 1)
			assert.Equal(t, label, parsed[0].OldName)
			assert.Equal(t, label+".new", parsed[0].NewName)
			assert.Equal(t, text, parsed[0].String())
		})
	}

	fp := FilePatch{OldName: "a\tb", NewName: "a\tb", OldHeader: "2024-01-01"}
	parsed, err := ParsePatch(fp.String() + "@@ -1 +1 @@\n-a\n+b\n")
	require.NoError(t, err)
	assert.Equal(t, "a\tb", parsed[0].OldName)
	assert.Equal(t, "2024-01-01", parsed[0].OldHeader)
}
