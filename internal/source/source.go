package source

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"

	"github.com/sokinpui/udiff/internal/ui"
)

// SourceProvider determines and retrieves the source content.
type SourceProvider struct {
	stdin     *os.File
	clipboard func() (string, error)
}

// New creates a new SourceProvider reading os.Stdin and the system clipboard.
func New() *SourceProvider {
	return &SourceProvider{stdin: os.Stdin, clipboard: clipboard.ReadAll}
}

// NewWith creates a SourceProvider with explicit inputs.
func NewWith(stdin *os.File, clip func() (string, error)) *SourceProvider {
	return &SourceProvider{stdin: stdin, clipboard: clip}
}

// GetContent retrieves content from stdin (if piped) or the clipboard.
func (sp *SourceProvider) GetContent() (string, error) {
	if sp.isPiped() {
		ui.Header("--- Reading from stdin ---")
		content, err := io.ReadAll(sp.stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read from stdin: %w", err)
		}
		return string(content), nil
	}

	ui.Header("--- Reading from clipboard ---")
	content, err := sp.clipboard()
	if err != nil {
		return "", fmt.Errorf("failed to read from clipboard: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		ui.Warning("Clipboard is empty. Nothing to process.")
		return "", nil
	}
	return content, nil
}

func (sp *SourceProvider) isPiped() bool {
	if sp.stdin == nil {
		return false
	}
	stat, err := sp.stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}
