package udiff

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/sokinpui/udiff/cli"
	"github.com/sokinpui/udiff/internal/filetool"
	"github.com/sokinpui/udiff/internal/fs"
	"github.com/sokinpui/udiff/internal/logging"
	"github.com/sokinpui/udiff/internal/parser"
	"github.com/sokinpui/udiff/internal/patcher"
	"github.com/sokinpui/udiff/internal/source"
	"github.com/sokinpui/udiff/internal/state"
	"github.com/sokinpui/udiff/internal/ui"
	"github.com/sokinpui/udiff/model"
	"github.com/sokinpui/udiff/patch"
)

// ProgressUpdate is a callback function to report progress.
type ProgressUpdate func(current, total int)

// App orchestrates the entire application logic.
type App struct {
	cfg              *cli.Config
	logger           *zap.Logger
	engine           *patch.Engine
	stateManager     *state.Manager
	pathResolver     *fs.PathResolver
	sourceProvider   *source.SourceProvider
	patcher          *patcher.Patcher
	progressCallback ProgressUpdate
	out              io.Writer
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error { return e.Err }

// Option customizes an App.
type Option func(*App)

// WithSource replaces the stdin/clipboard source.
func WithSource(sp *source.SourceProvider) Option {
	return func(a *App) { a.sourceProvider = sp }
}

// WithStateManager replaces the history kept in the repository root.
func WithStateManager(m *state.Manager) Option {
	return func(a *App) { a.stateManager = m }
}

// WithOutput sets where print modes write; os.Stdout by default.
func WithOutput(w io.Writer) Option {
	return func(a *App) { a.out = w }
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New creates a new App instance.
func New(cfg *cli.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, out: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.New(cfg.Verbose)
	}
	a.engine = patch.NewEngine(a.logger)

	if a.stateManager == nil {
		stateManager, err := state.New(a.engine)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize state manager: %w", err)
		}
		a.stateManager = stateManager
	}
	pathResolver, err := fs.NewPathResolver(cfg.LookupDirs)
	if err != nil {
		return nil, err
	}
	a.pathResolver = pathResolver
	if a.sourceProvider == nil {
		a.sourceProvider = source.New()
	}
	a.patcher = patcher.New(a.engine, pathResolver, patcher.Options{
		FuzzFactor: cfg.FuzzFactor,
		NoFix:      cfg.NoFix,
	})
	return a, nil
}

// SetProgressCallback sets a function to be called for progress updates.
func (a *App) SetProgressCallback(cb ProgressUpdate) {
	a.progressCallback = cb
}

// Close flushes the logger.
func (a *App) Close() {
	_ = a.logger.Sync()
}

// Parse creates a plan from content and returns a map of file paths to their new content.
func (a *App) Parse(ctx context.Context, content string) (map[string]string, error) {
	plan, err := a.createPlan(ctx, content)
	if err != nil {
		return nil, err
	}

	changes := make(map[string]string, len(plan.Changes))
	for _, change := range plan.Changes {
		if change.Action == model.ActionDelete {
			continue
		}
		changes[change.Path] = change.Content
	}
	return changes, nil
}

// Apply takes a map of file paths to content and applies the changes.
func (a *App) Apply(changes map[string]string) (model.Summary, error) {
	planChanges := make([]model.FileChange, 0, len(changes))
	targetPaths := make([]string, 0, len(changes))
	for path, content := range changes {
		original, _, err := fs.ReadText(path)
		if err != nil {
			return model.Summary{}, err
		}
		planChanges = append(planChanges, model.FileChange{
			Path:     path,
			Content:  content,
			Original: original,
			Source:   "library",
		})
		targetPaths = append(targetPaths, path)
	}

	actions, dirs := fs.GetFileActionsAndDirs(targetPaths, nil)
	for i := range planChanges {
		planChanges[i].Action = actions[planChanges[i].Path]
	}
	plan := &parser.ExecutionPlan{
		Changes:      planChanges,
		FileActions:  actions,
		DirsToCreate: dirs,
	}

	if err := fs.CreateDirs(plan.DirsToCreate); err != nil {
		return model.Summary{}, err
	}
	return a.applyChanges(plan)
}

// Execute executes the main application logic based on parsed flags.
func (a *App) Execute(ctx context.Context) (summary model.Summary, err error) {
	// Centralized panic recovery.
	defer func() {
		if r := recover(); r != nil {
			err = &DetailedError{
				Err:   fmt.Errorf("internal panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	switch {
	case a.cfg.Revert:
		return a.undoLastOperation()
	case a.cfg.Redo:
		return a.redoLastOperation()
	case a.cfg.Diff:
		return a.printDiff()
	case a.cfg.Tool:
		return a.callToolFromSource(ctx)
	case a.cfg.OutputDiffFix:
		return a.fixAndPrintDiffs()
	default:
		return a.processContent(ctx)
	}
}

// IsPrintMode reports whether the configured mode writes its result to
// stdout instead of changing files.
func IsPrintMode(cfg *cli.Config) bool {
	return cfg.Diff || cfg.OutputDiffFix || cfg.Tool
}

// processContent parses the source, plans the changes and applies them.
func (a *App) processContent(ctx context.Context) (model.Summary, error) {
	content, err := a.sourceProvider.GetContent()
	if err != nil {
		return model.Summary{}, err
	}
	return a.processAndApply(ctx, content)
}

func (a *App) processAndApply(ctx context.Context, content string) (model.Summary, error) {
	if strings.TrimSpace(content) == "" {
		return model.Summary{Message: "Source is empty. Nothing to process."}, nil
	}

	plan, err := a.createPlan(ctx, content)
	if err != nil {
		return model.Summary{}, err
	}
	if len(plan.Changes) == 0 && len(plan.Failed) == 0 {
		return model.Summary{Message: "No valid changes were generated. Nothing to do."}, nil
	}
	if err := ctx.Err(); err != nil {
		return model.Summary{}, err
	}

	if err := fs.CreateDirs(plan.DirsToCreate); err != nil {
		return model.Summary{}, err
	}
	return a.applyChanges(plan)
}

func (a *App) createPlan(ctx context.Context, content string) (*parser.ExecutionPlan, error) {
	plan, err := parser.CreatePlan(ctx, content, a.pathResolver, a.patcher, a.cfg.Extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to create execution plan: %w", err)
	}
	return plan, nil
}

// applyChanges writes the planned changes and records them in history.
func (a *App) applyChanges(plan *parser.ExecutionPlan) (model.Summary, error) {
	writer, err := a.openWriter()
	if err != nil {
		return model.Summary{}, err
	}
	defer writer.Close()

	updatedFiles, failedFiles := writer.ApplyChanges(plan.Changes, a.progress(len(plan.Changes)))
	allFailedFiles := append(append([]string{}, plan.Failed...), failedFiles...)

	summary := categorize(plan.Changes, updatedFiles)
	summary.Failed = allFailedFiles

	if len(updatedFiles) > 0 {
		saved, err := writer.Save()
		if err != nil {
			return model.Summary{}, err
		}
		if saved {
			if _, err := a.stateManager.Record(selectChanges(plan.Changes, updatedFiles)); err != nil {
				return model.Summary{}, fmt.Errorf("failed to record history: %w", err)
			}
		} else {
			summary.Message = "Buffers updated in Neovim but not saved; history was not recorded."
		}
	}

	a.relativizeSummaryPaths(&summary)
	return summary, nil
}

func (a *App) progress(total int) func(int) {
	if a.progressCallback == nil {
		return nil
	}
	a.progressCallback(0, total)
	return func(current int) {
		a.progressCallback(current, total)
	}
}

// printDiff writes the diff between the two files named on the command line.
func (a *App) printDiff() (model.Summary, error) {
	if len(a.cfg.Args) != 2 {
		return model.Summary{}, fmt.Errorf("diff needs exactly two files, got %d", len(a.cfg.Args))
	}
	oldPath, newPath := a.cfg.Args[0], a.cfg.Args[1]
	oldText, oldExists, err := fs.ReadText(oldPath)
	if err != nil {
		return model.Summary{}, err
	}
	newText, newExists, err := fs.ReadText(newPath)
	if err != nil {
		return model.Summary{}, err
	}
	if !oldExists && !newExists {
		return model.Summary{}, fmt.Errorf("neither %s nor %s exists", oldPath, newPath)
	}

	oldLabel, newLabel := oldPath, newPath
	if !oldExists {
		oldLabel = "/dev/null"
	}
	if !newExists {
		newLabel = "/dev/null"
	}
	fp := a.engine.Diff(oldLabel, newLabel, oldText, newText, patch.WithContext(a.cfg.Context))
	if len(fp.Hunks) == 0 {
		return model.Summary{Message: "Files are identical."}, nil
	}
	ui.PrintDiff(a.out, fp.String())
	return model.Summary{}, nil
}

// fixAndPrintDiffs corrects diffs from the source and prints them to stdout.
func (a *App) fixAndPrintDiffs() (model.Summary, error) {
	content, err := a.sourceProvider.GetContent()
	if err != nil {
		return model.Summary{}, err
	}
	if content == "" {
		return model.Summary{}, nil
	}

	blocks, err := parser.ExtractCodeBlocks([]byte(content))
	if err != nil {
		return model.Summary{}, err
	}
	diffs := parser.ExtractDiffBlocks(blocks)

	var failed []string
	for _, diff := range diffs {
		corrected, err := a.patcher.FixDiffs([]model.DiffBlock{diff})
		if err != nil {
			ui.Warning("Could not correct diff for %s: %v", diff.FilePath, err)
			failed = append(failed, diff.FilePath)
			continue
		}
		for _, c := range corrected {
			fmt.Fprint(a.out, c)
		}
	}
	return model.Summary{Failed: failed}, nil
}

// CallTool runs a JSON tool call and returns its result. Files written by
// the tool are recorded in history.
func (a *App) CallTool(ctx context.Context, raw string) (*filetool.Result, model.Summary, error) {
	var written []model.FileChange
	env := &filetool.Env{
		Engine:   a.engine,
		Logger:   a.logger,
		Recorder: func(c model.FileChange) { written = append(written, c) },
	}
	registry := filetool.NewRegistryWith(env)

	result, err := registry.Dispatch(ctx, []byte(strings.TrimSpace(raw)))
	if err != nil {
		return nil, model.Summary{}, err
	}

	paths := make([]string, len(written))
	for i, c := range written {
		paths[i] = c.Path
	}
	summary := categorize(written, paths)
	if len(written) > 0 {
		if _, err := a.stateManager.Record(written); err != nil {
			return nil, model.Summary{}, fmt.Errorf("failed to record history: %w", err)
		}
	}
	if !result.Success {
		summary.Message = result.Message
	}
	a.relativizeSummaryPaths(&summary)
	return result, summary, nil
}

func (a *App) callToolFromSource(ctx context.Context) (model.Summary, error) {
	content, err := a.sourceProvider.GetContent()
	if err != nil {
		return model.Summary{}, err
	}
	if strings.TrimSpace(content) == "" {
		return model.Summary{Message: "Source is empty. Nothing to process."}, nil
	}
	result, summary, err := a.CallTool(ctx, content)
	if err != nil {
		return model.Summary{}, err
	}
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return model.Summary{}, err
	}
	fmt.Fprintln(a.out, string(encoded))
	return summary, nil
}

// undoLastOperation reverts the current history entry.
func (a *App) undoLastOperation() (model.Summary, error) {
	if !a.stateManager.CanUndo() {
		return model.Summary{Message: "No operation to undo."}, nil
	}
	changes, failed, err := a.stateManager.PlanUndo()
	if err != nil {
		return model.Summary{}, err
	}
	return a.replay(changes, failed, "Undid last operation.")
}

// redoLastOperation reapplies the last reverted history entry.
func (a *App) redoLastOperation() (model.Summary, error) {
	if !a.stateManager.CanRedo() {
		return model.Summary{Message: "No operation to redo."}, nil
	}
	changes, failed, err := a.stateManager.PlanRedo()
	if err != nil {
		return model.Summary{}, err
	}
	return a.replay(changes, failed, "Redid last undone operation.")
}

func (a *App) replay(changes []model.FileChange, failed []string, message string) (model.Summary, error) {
	if len(changes) == 0 {
		summary := model.Summary{Failed: failed, Message: "No file could be restored; the history entry was kept."}
		a.relativizeSummaryPaths(&summary)
		return summary, nil
	}

	writer, err := a.openWriter()
	if err != nil {
		return model.Summary{}, err
	}
	defer writer.Close()

	updated, writeFailed := writer.ApplyChanges(changes, a.progress(len(changes)))
	if len(updated) > 0 {
		if _, err := writer.Save(); err != nil {
			return model.Summary{}, err
		}
	}

	summary := categorize(changes, updated)
	summary.Failed = append(failed, writeFailed...)
	summary.Message = message
	a.relativizeSummaryPaths(&summary)
	return summary, nil
}

// categorize sorts the updated paths of changes by action.
func categorize(changes []model.FileChange, updated []string) model.Summary {
	done := make(map[string]bool, len(updated))
	for _, p := range updated {
		done[p] = true
	}
	var summary model.Summary
	for _, change := range changes {
		if !done[change.Path] {
			continue
		}
		switch change.Action {
		case model.ActionCreate:
			summary.Created = append(summary.Created, change.Path)
		case model.ActionDelete:
			summary.Deleted = append(summary.Deleted, change.Path)
		default:
			summary.Modified = append(summary.Modified, change.Path)
		}
	}
	return summary
}

func selectChanges(changes []model.FileChange, paths []string) []model.FileChange {
	keep := make(map[string]bool, len(paths))
	for _, p := range paths {
		keep[p] = true
	}
	var out []model.FileChange
	for _, c := range changes {
		if keep[c.Path] {
			out = append(out, c)
		}
	}
	return out
}

// relativizeSummaryPaths converts absolute file paths in a summary to be
// relative to the current working directory for cleaner display.
func (a *App) relativizeSummaryPaths(summary *model.Summary) {
	wd, err := os.Getwd()
	if err != nil {
		return
	}

	makeRelative := func(absPaths []string) []string {
		if absPaths == nil {
			return nil
		}
		relPaths := make([]string, len(absPaths))
		for i, p := range absPaths {
			rel, err := filepath.Rel(wd, p)
			if err != nil || !filepath.IsAbs(p) {
				relPaths[i] = p
			} else {
				relPaths[i] = rel
			}
		}
		return relPaths
	}

	summary.Created = makeRelative(summary.Created)
	summary.Modified = makeRelative(summary.Modified)
	summary.Deleted = makeRelative(summary.Deleted)
	summary.Failed = makeRelative(summary.Failed)
}
