package filetool

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/sokinpui/udiff/internal/fs"
	"github.com/sokinpui/udiff/model"
	"github.com/sokinpui/udiff/patch"
)

// MsgPatchDiverged is returned when a patch parses but does not fit the file.
const MsgPatchDiverged = "patch did not apply cleanly; the file content may have diverged from what the patch expects"

// ErrPatchFailed wraps hard patch failures surfaced to tool callers.
var ErrPatchFailed = errors.New("file_apply_patch failed")

// pathLocks serializes read-modify-write cycles per file.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *pathLocks) lock(path string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m, ok := l.locks[path]
	if !ok {
		m = &sync.Mutex{}
		l.locks[path] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Env is shared by the file tools.
type Env struct {
	BasePath string
	Engine   *patch.Engine
	Logger   *zap.Logger
	// Recorder, when set, receives every change a tool writes.
	Recorder func(model.FileChange)

	locks pathLocks
}

func (e *Env) preparePath(path string) string {
	if e.BasePath == "" {
		return filepath.Clean(path)
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(e.BasePath, path)
}

func (e *Env) engine() *patch.Engine {
	if e.Engine == nil {
		return patch.Default
	}
	return e.Engine
}

func (e *Env) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *Env) write(change model.FileChange) error {
	if err := fs.WriteChange(change); err != nil {
		return err
	}
	if e.Recorder != nil {
		e.Recorder(change)
	}
	return nil
}

// NewRegistryWith registers the file tools bound to env.
func NewRegistryWith(env *Env) *Registry {
	r := NewRegistry()
	for _, tool := range []Tool{
		&WriteFileTool{Env: env},
		&ApplyPatchTool{Env: env},
		&DiffTool{Env: env},
	} {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
	return r
}

// WriteFileTool writes content to disk and returns the review patch.
type WriteFileTool struct {
	Env *Env
}

func (t *WriteFileTool) Name() string        { return "file_write" }
func (t *WriteFileTool) Description() string { return "Writes content to a file and returns the diff." }
func (t *WriteFileTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Type: "string", Required: true},
		{Name: "content", Type: "string", Required: true},
	}
}
func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	path := t.Env.preparePath(rel)
	defer t.Env.locks.lock(path)()

	current, exists, err := fs.ReadText(path)
	if err != nil {
		return nil, err
	}
	diff := t.Env.engine().CreatePatch(rel, rel, current, content)

	action := model.ActionModify
	if !exists {
		action = model.ActionCreate
	}
	change := model.FileChange{Path: path, Content: content, Original: current, Action: action, Source: "tool"}
	if err := t.Env.write(change); err != nil {
		return nil, err
	}
	return &Result{Success: true, Data: map[string]any{"path": path, "patch": diff}}, nil
}

// ApplyPatchTool applies a unified diff to a file.
type ApplyPatchTool struct {
	Env *Env
}

func (t *ApplyPatchTool) Name() string { return "file_apply_patch" }
func (t *ApplyPatchTool) Description() string {
	return "Applies a single-file unified diff to a file on disk."
}
func (t *ApplyPatchTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Type: "string", Required: true},
		{Name: "patch", Type: "string", Required: true},
		{Name: "fuzz", Type: "integer", Default: 0},
	}
}
func (t *ApplyPatchTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	patchText, err := stringArg(args, "patch")
	if err != nil {
		return nil, err
	}
	fuzz, err := intArg(args, "fuzz", 0)
	if err != nil {
		return nil, err
	}
	path := t.Env.preparePath(rel)
	defer t.Env.locks.lock(path)()

	current, exists, err := fs.ReadText(path)
	if err != nil {
		return nil, err
	}
	res, err := t.Env.engine().ApplyPatch(patchText, current, patch.WithFuzzFactor(fuzz))
	if err != nil {
		t.Env.logger().Warn("patch rejected", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrPatchFailed, err)
	}
	if !res.Applied() {
		data := map[string]any{"path": path, "failure": res.Failure.String()}
		if m := patch.ClosestMatch(res.Failure.Hunk, current); m.Line > 0 {
			data["closest_line"] = m.Line
			data["similarity"] = m.Ratio
		}
		return &Result{Success: false, Message: MsgPatchDiverged, Data: data}, nil
	}

	action := model.ActionModify
	if !exists {
		action = model.ActionCreate
	}
	change := model.FileChange{Path: path, Content: res.Text, Original: current, Action: action, Source: "tool"}
	if err := t.Env.write(change); err != nil {
		return nil, err
	}
	return &Result{Success: true, Data: map[string]any{"path": path, "size": len(res.Text)}}, nil
}

// DiffTool returns the patch that would turn a file into content.
type DiffTool struct {
	Env *Env
}

func (t *DiffTool) Name() string        { return "file_diff" }
func (t *DiffTool) Description() string { return "Shows the diff between a file and new content without writing." }
func (t *DiffTool) Parameters() []Parameter {
	return []Parameter{
		{Name: "path", Type: "string", Required: true},
		{Name: "content", Type: "string", Required: true},
		{Name: "context", Type: "integer", Default: patch.DefaultContext},
	}
}
func (t *DiffTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	rel, err := stringArg(args, "path")
	if err != nil {
		return nil, err
	}
	content, err := stringArg(args, "content")
	if err != nil {
		return nil, err
	}
	n, err := intArg(args, "context", patch.DefaultContext)
	if err != nil {
		return nil, err
	}
	current, _, err := fs.ReadText(t.Env.preparePath(rel))
	if err != nil {
		return nil, err
	}
	fp := t.Env.engine().Diff(rel, rel, current, content, patch.WithContext(n))
	return &Result{Success: true, Data: map[string]any{"patch": fp.String(), "changed": len(fp.Hunks) > 0}}, nil
}
