package state

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sokinpui/udiff/internal/fs"
	"github.com/sokinpui/udiff/model"
	"github.com/sokinpui/udiff/patch"
)

const (
	stateDirName  = ".udiff"
	stateFileName = "state.yaml"
	PatchesDir    = "patches"
)

// Operation represents a single file operation.
type Operation struct {
	Path   string `yaml:"path"`
	Action string `yaml:"action"`
	// OriginalHash and ContentHash are the SHA-256 of the file before and
	// after the operation; empty when the file does not exist.
	OriginalHash string `yaml:"original_hash,omitempty"`
	ContentHash  string `yaml:"content_hash,omitempty"`
	// Patch is the forward patch file name under PatchesDir.
	Patch string `yaml:"patch"`
}

// HistoryEntry represents one complete run of the tool.
type HistoryEntry struct {
	ID         string      `yaml:"id"`
	Timestamp  int64       `yaml:"timestamp"`
	Operations []Operation `yaml:"operations"`
}

// State represents the entire state file.
type State struct {
	CurrentIndex int            `yaml:"current_index"`
	History      []HistoryEntry `yaml:"history"`
}

// Manager handles the lifecycle of the state file.
type Manager struct {
	statePath string
	state     *State
	engine    *patch.Engine
	rootDir   string
	StateDir  string
}

// findGitRoot finds the root of the git repository.
func findGitRoot() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// New creates and loads a state manager rooted at the enclosing git
// repository, or the working directory outside one.
func New(engine *patch.Engine) (*Manager, error) {
	rootDir, err := findGitRoot()
	if err != nil {
		rootDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not get current working directory: %w", err)
		}
	}
	return NewAt(rootDir, engine)
}

// NewAt creates a state manager keeping its files under rootDir.
func NewAt(rootDir string, engine *patch.Engine) (*Manager, error) {
	if engine == nil {
		engine = patch.Default
	}
	stateDir := filepath.Join(rootDir, stateDirName)
	if err := os.MkdirAll(filepath.Join(stateDir, PatchesDir), 0755); err != nil {
		return nil, fmt.Errorf("could not create state directory: %w", err)
	}
	m := &Manager{
		statePath: filepath.Join(stateDir, stateFileName),
		engine:    engine,
		rootDir:   rootDir,
		StateDir:  stateDir,
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	m.state = &State{CurrentIndex: -1}
	data, err := os.ReadFile(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, m.state); err != nil {
		return fmt.Errorf("invalid state file %s: %w", m.statePath, err)
	}
	if m.state.CurrentIndex >= len(m.state.History) || m.state.CurrentIndex < -1 {
		return fmt.Errorf("invalid state file %s: index %d out of range", m.statePath, m.state.CurrentIndex)
	}
	return nil
}

func (m *Manager) save() error {
	data, err := yaml.Marshal(m.state)
	if err != nil {
		return fmt.Errorf("could not encode state: %w", err)
	}
	if err := os.WriteFile(m.statePath, data, 0644); err != nil {
		return fmt.Errorf("could not write state file: %w", err)
	}
	return nil
}

// CanUndo reports whether there is an entry to revert.
func (m *Manager) CanUndo() bool { return m.state.CurrentIndex >= 0 }

// CanRedo reports whether there is a reverted entry to reapply.
func (m *Manager) CanRedo() bool { return m.state.CurrentIndex+1 < len(m.state.History) }

// Record adds the applied changes as a new history entry. Entries after the
// current one are dropped along with their patch files.
func (m *Manager) Record(changes []model.FileChange) (*HistoryEntry, error) {
	if len(changes) == 0 {
		return nil, nil
	}
	for _, dropped := range m.state.History[m.state.CurrentIndex+1:] {
		m.removePatches(dropped)
	}
	m.state.History = m.state.History[:m.state.CurrentIndex+1]

	entry := HistoryEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Unix(),
	}
	for i, change := range changes {
		op, err := m.operation(entry.ID, i, change)
		if err != nil {
			m.removePatches(entry)
			return nil, err
		}
		entry.Operations = append(entry.Operations, op)
	}

	m.state.History = append(m.state.History, entry)
	m.state.CurrentIndex++
	if err := m.save(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (m *Manager) operation(id string, n int, change model.FileChange) (Operation, error) {
	rel := m.relative(change.Path)
	oldLabel, newLabel := "a/"+rel, "b/"+rel
	op := Operation{Path: change.Path, Action: change.Action}

	switch change.Action {
	case model.ActionCreate:
		oldLabel = "/dev/null"
		op.ContentHash = fs.HashContent(change.Content)
	case model.ActionDelete:
		newLabel = "/dev/null"
		op.OriginalHash = fs.HashContent(change.Original)
	default:
		op.OriginalHash = fs.HashContent(change.Original)
		op.ContentHash = fs.HashContent(change.Content)
	}

	content := change.Content
	if change.Action == model.ActionDelete {
		content = ""
	}
	forward := m.engine.CreatePatch(oldLabel, newLabel, change.Original, content)

	op.Patch = fmt.Sprintf("%s-%d.diff", id, n)
	if err := os.WriteFile(m.patchPath(op.Patch), []byte(forward), 0644); err != nil {
		return op, fmt.Errorf("could not store patch for %s: %w", change.Path, err)
	}
	return op, nil
}

// PlanUndo returns the changes that revert the current entry and moves the
// history pointer back. Files edited since the entry was recorded are
// returned in failed and left alone. When no file can be reverted the
// pointer stays, so the undo can be retried.
func (m *Manager) PlanUndo() (changes []model.FileChange, failed []string, err error) {
	if !m.CanUndo() {
		return nil, nil, nil
	}
	entry := m.state.History[m.state.CurrentIndex]
	for i := len(entry.Operations) - 1; i >= 0; i-- {
		op := entry.Operations[i]
		change, err := m.undoOperation(op)
		if err != nil {
			failed = append(failed, op.Path)
			continue
		}
		changes = append(changes, change)
	}
	if len(changes) == 0 {
		return nil, failed, nil
	}
	m.state.CurrentIndex--
	if err := m.save(); err != nil {
		return nil, nil, err
	}
	return changes, failed, nil
}

// PlanRedo returns the changes that reapply the next entry and moves the
// history pointer forward, unless no file could be reapplied.
func (m *Manager) PlanRedo() (changes []model.FileChange, failed []string, err error) {
	if !m.CanRedo() {
		return nil, nil, nil
	}
	entry := m.state.History[m.state.CurrentIndex+1]
	for _, op := range entry.Operations {
		change, err := m.redoOperation(op)
		if err != nil {
			failed = append(failed, op.Path)
			continue
		}
		changes = append(changes, change)
	}
	if len(changes) == 0 {
		return nil, failed, nil
	}
	m.state.CurrentIndex++
	if err := m.save(); err != nil {
		return nil, nil, err
	}
	return changes, failed, nil
}

func (m *Manager) undoOperation(op Operation) (model.FileChange, error) {
	current, err := m.checkHash(op.Path, op.ContentHash)
	if err != nil {
		return model.FileChange{}, err
	}
	fp, err := m.loadPatch(op.Patch)
	if err != nil {
		return model.FileChange{}, err
	}
	res := m.engine.Apply(patch.Reverse(fp), current)
	if !res.Applied() {
		return model.FileChange{}, errors.New(res.Failure.String())
	}

	change := model.FileChange{Path: op.Path, Content: res.Text, Original: current, Action: model.ActionModify, Source: "history"}
	switch op.Action {
	case model.ActionCreate:
		change.Action = model.ActionDelete
	case model.ActionDelete:
		change.Action = model.ActionCreate
	}
	return change, nil
}

func (m *Manager) redoOperation(op Operation) (model.FileChange, error) {
	current, err := m.checkHash(op.Path, op.OriginalHash)
	if err != nil {
		return model.FileChange{}, err
	}
	fp, err := m.loadPatch(op.Patch)
	if err != nil {
		return model.FileChange{}, err
	}
	res := m.engine.Apply(fp, current)
	if !res.Applied() {
		return model.FileChange{}, errors.New(res.Failure.String())
	}
	return model.FileChange{Path: op.Path, Content: res.Text, Original: current, Action: op.Action, Source: "history"}, nil
}

// checkHash returns the file content when its hash matches want. An empty
// want means the file must not exist.
func (m *Manager) checkHash(path, want string) (string, error) {
	content, exists, err := fs.ReadText(path)
	if err != nil {
		return "", err
	}
	switch {
	case want == "" && exists:
		return "", fmt.Errorf("%s exists but should not", path)
	case want != "" && !exists:
		return "", fmt.Errorf("%s no longer exists", path)
	case want != "" && fs.HashContent(content) != want:
		return "", fmt.Errorf("%s was modified since the operation", path)
	}
	return content, nil
}

func (m *Manager) loadPatch(name string) (patch.FilePatch, error) {
	data, err := os.ReadFile(m.patchPath(name))
	if err != nil {
		return patch.FilePatch{}, fmt.Errorf("could not read stored patch: %w", err)
	}
	patches, err := patch.ParsePatch(string(data))
	if err != nil {
		return patch.FilePatch{}, err
	}
	return patches[0], nil
}

func (m *Manager) removePatches(entry HistoryEntry) {
	for _, op := range entry.Operations {
		_ = os.Remove(m.patchPath(op.Patch))
	}
}

func (m *Manager) patchPath(name string) string {
	return filepath.Join(m.StateDir, PatchesDir, name)
}

func (m *Manager) relative(path string) string {
	rel, err := filepath.Rel(m.rootDir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(filepath.Base(path))
	}
	return filepath.ToSlash(rel)
}
