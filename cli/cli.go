package cli

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Config holds all the command-line flag values.
type Config struct {
	Buffer        bool
	Nvim          bool
	OutputDiffFix bool
	Diff          bool
	Tool          bool
	Revert        bool
	Redo          bool
	NoAnimation   bool
	NoFix         bool
	Verbose       bool
	FuzzFactor    int
	Context       int
	LookupDirs    []string
	Extensions    []string
	ConfigPath    string
	// Args holds the positional arguments, e.g. the two files for --diff.
	Args []string
}

// ParseFlags parses os.Args.
func ParseFlags() (*Config, error) {
	return Parse(os.Args[1:])
}

// Parse defines and parses command-line flags using pflag. Values from the
// config file become the flag defaults, so flags given explicitly win.
func Parse(args []string) (*Config, error) {
	configPath := findConfigFlag(args)
	file, err := LoadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{ConfigPath: configPath}
	fs := pflag.NewFlagSet("udiff", pflag.ContinueOnError)

	fs.StringVarP(&cfg.ConfigPath, "config", "c", configPath, "Path to a YAML config file (default: .udiff.yaml, then the user config dir).")
	fs.BoolVarP(&cfg.Nvim, "nvim", "n", false, "Write changes through Neovim buffers instead of directly to disk.")
	fs.BoolVarP(&cfg.Buffer, "buffer", "b", false, "Update buffers in Neovim without saving them to disk (implies --nvim).")
	fs.BoolVarP(&cfg.OutputDiffFix, "output-diff-fix", "o", false, "Print the diffs with corrected hunk headers.")
	fs.BoolVarP(&cfg.Diff, "diff", "d", false, "Print a unified diff between two files given as arguments.")
	fs.BoolVarP(&cfg.Tool, "tool", "t", false, "Run a JSON tool call read from the source.")
	fs.BoolVar(&cfg.NoAnimation, "no-animation", file.NoAnimation, "Disable the spinner and print plain progress.")
	fs.BoolVar(&cfg.NoFix, "no-fix", file.NoFix, "Do not repair hunk headers of diffs that fail to apply.")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", file.Verbose, "Log patch diagnostics.")
	fs.IntVarP(&cfg.FuzzFactor, "fuzz", "F", file.FuzzFactor, "Number of mismatched context lines tolerated per hunk.")
	fs.IntVarP(&cfg.Context, "context", "U", file.contextOrDefault(), "Context lines for generated diffs.")
	fs.StringSliceVarP(&cfg.LookupDirs, "lookup-dir", "l", file.LookupDirs, "Change directory to look for files (default: current directory).")
	fs.StringSliceVarP(&cfg.Extensions, "extension", "e", file.Extensions, "Filter by extension. Use 'diff' to process only diff blocks (e.g., 'py', 'js', 'diff').")

	// Mutually exclusive history group
	fs.BoolVarP(&cfg.Revert, "revert", "r", false, "Revert the last operation.")
	fs.BoolVarP(&cfg.Redo, "redo", "R", false, "Redo the last reverted operation.")

	fs.Usage = func() {
		fmt.Println("Usage: udiff [flags] [OLD NEW]")
		fmt.Println("\nApply unified diffs from stdin (pipe) or clipboard to files.")
		fmt.Println("\nExample: pbpaste | udiff -e go")
		fmt.Println("         udiff --diff old.txt new.txt")
		fmt.Println("\nFlags:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Args = fs.Args()

	if cfg.Revert && cfg.Redo {
		return nil, fmt.Errorf("error: --revert and --redo are mutually exclusive")
	}
	if cfg.Diff && len(cfg.Args) != 2 {
		return nil, fmt.Errorf("error: --diff needs exactly two files, got %d", len(cfg.Args))
	}
	if cfg.FuzzFactor < 0 {
		return nil, fmt.Errorf("error: --fuzz must not be negative")
	}
	if cfg.Buffer {
		cfg.Nvim = true
	}

	cfg.Extensions = NormalizeExtensions(cfg.Extensions)
	return cfg, nil
}

// NormalizeExtensions prefixes every extension with a dot.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, len(exts))
	for i, ext := range exts {
		if len(ext) > 0 && ext[0] != '.' {
			ext = "." + ext
		}
		out[i] = ext
	}
	return out
}

// findConfigFlag picks --config/-c out of args before the full parse, since
// the file supplies the defaults of the other flags.
func findConfigFlag(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--config" || arg == "-c":
			if i+1 < len(args) {
				return args[i+1]
			}
		case len(arg) > len("--config=") && arg[:len("--config=")] == "--config=":
			return arg[len("--config="):]
		}
	}
	return ""
}
