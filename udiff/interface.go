package udiff

import (
	"context"
	"fmt"

	"github.com/sokinpui/udiff/cli"
	"github.com/sokinpui/udiff/patch"
)

// Config for using udiff as a library.
type Config struct {
	// Write through Neovim buffers instead of directly to disk.
	Nvim bool
	// Update buffers without saving them to disk. Implies Nvim.
	Buffer bool
	// Filter by extension. Use 'diff' to process only diff blocks (e.g., 'py', 'js', 'diff').
	Extensions []string
	// Directories searched for the files named in the content.
	LookupDirs []string
	// Mismatched context lines tolerated per hunk.
	FuzzFactor int
}

// Apply parses the given content string and applies the changes to files.
// It returns a summary of the operations in a map.
func Apply(content string, config Config, opts ...Option) (map[string][]string, error) {
	cliCfg := &cli.Config{
		Nvim:       config.Nvim || config.Buffer,
		Buffer:     config.Buffer,
		Extensions: cli.NormalizeExtensions(config.Extensions),
		LookupDirs: config.LookupDirs,
		FuzzFactor: config.FuzzFactor,
		Context:    patch.DefaultContext,
	}

	app, err := New(cliCfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize udiff app: %w", err)
	}
	defer app.Close()

	summary, err := app.processAndApply(context.Background(), content)
	if err != nil {
		return nil, err
	}

	result := map[string][]string{
		"Created":  summary.Created,
		"Modified": summary.Modified,
		"Deleted":  summary.Deleted,
		"Failed":   summary.Failed,
	}

	return result, nil
}
