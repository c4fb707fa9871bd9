package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/sokinpui/udiff/model"
)

var (
	HeaderColor  = color.New(color.FgBlue, color.Bold)
	InfoColor    = color.New(color.FgCyan)
	SuccessColor = color.New(color.FgGreen)
	WarningColor = color.New(color.FgYellow)
	ErrorColor   = color.New(color.FgRed)
	PathColor    = color.New(color.FgYellow)
	PromptColor  = color.New(color.FgMagenta)

	AddedColor   = color.New(color.FgGreen)
	RemovedColor = color.New(color.FgRed)
	HunkColor    = color.New(color.FgCyan)
)

// Out receives the status messages. Tests may replace it.
var Out io.Writer = os.Stderr

func Header(format string, a ...interface{}) {
	HeaderColor.Fprintf(Out, format+"\n", a...)
}

func Info(format string, a ...interface{}) {
	InfoColor.Fprintf(Out, format+"\n", a...)
}

func Success(format string, a ...interface{}) {
	SuccessColor.Fprintf(Out, format+"\n", a...)
}

func Warning(format string, a ...interface{}) {
	WarningColor.Fprintf(Out, format+"\n", a...)
}

func Error(format string, a ...interface{}) {
	ErrorColor.Fprintf(Out, format+"\n", a...)
}

func Path(format string, a ...interface{}) {
	PathColor.Fprintf(Out, "  "+format+"\n", a...)
}

func Prompt(format string, a ...interface{}) string {
	return PromptColor.Sprintf(format, a...)
}

// PrintDiff writes a unified diff to w, colouring headers and changed lines.
func PrintDiff(w io.Writer, diff string) {
	for _, line := range strings.SplitAfter(diff, "\n") {
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			HeaderColor.Fprint(w, line)
		case strings.HasPrefix(line, "@@"):
			HunkColor.Fprint(w, line)
		case strings.HasPrefix(line, "+"):
			AddedColor.Fprint(w, line)
		case strings.HasPrefix(line, "-"):
			RemovedColor.Fprint(w, line)
		default:
			fmt.Fprint(w, line)
		}
	}
	if !strings.HasSuffix(diff, "\n") && diff != "" {
		fmt.Fprintln(w)
	}
}

// --- Summaries ---

func PrintUpdateSummary(s model.Summary) {
	Header("\n--- Update Summary ---")

	if len(s.Created) == 0 && len(s.Modified) == 0 && len(s.Deleted) == 0 && len(s.Failed) == 0 {
		Info("No files were updated.")
		return
	}

	printGroup(SuccessColor, "Modified %d file(s):", s.Modified)
	printGroup(SuccessColor, "Created %d new file(s):", s.Created)
	printGroup(SuccessColor, "Deleted %d file(s):", s.Deleted)
	printGroup(ErrorColor, "Failed to process %d file(s):", s.Failed)
	if s.Message != "" {
		Info("%s", s.Message)
	}
}

func PrintRevertSummary(reverted, failed []string) {
	Header("\n--- Revert Summary ---")
	printGroup(SuccessColor, "Successfully reverted %d file(s):", reverted)
	printGroup(ErrorColor, "Failed to revert %d file(s):", failed)
}

func PrintRedoSummary(redone, failed []string) {
	Header("\n--- Redo Summary ---")
	printGroup(SuccessColor, "Successfully redid %d file(s):", redone)
	printGroup(ErrorColor, "Failed to redo %d file(s):", failed)
}

func printGroup(c *color.Color, title string, files []string) {
	if len(files) == 0 {
		return
	}
	c.Fprintf(Out, title+"\n", len(files))
	for _, f := range files {
		fmt.Fprintf(Out, "  - %s\n", f)
	}
}

// --- Progress Bar ---

type ProgressBar struct {
	total   int
	prefix  string
	current int
}

func NewProgressBar(total int, prefix string) *ProgressBar {
	return &ProgressBar{total: total, prefix: prefix}
}

func (p *ProgressBar) Start() {
	p.draw()
}

func (p *ProgressBar) Increment() {
	p.current++
	p.draw()
}

func (p *ProgressBar) Finish() {
	if p.total > 0 {
		fmt.Fprintln(Out)
	}
}

func (p *ProgressBar) draw() {
	if p.total == 0 {
		return
	}
	const barLength = 40
	percent := float64(p.current) / float64(p.total)
	filledLength := int(percent * barLength)
	bar := strings.Repeat("█", filledLength) + strings.Repeat("-", barLength-filledLength)

	percentStr := fmt.Sprintf("%.1f%%", percent*100)
	countStr := fmt.Sprintf("[%d/%d]", p.current, p.total)

	fmt.Fprintf(Out, "\r%s |%s| %s %s", p.prefix, bar, countStr, percentStr)
}
