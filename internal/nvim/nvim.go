package nvim

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/neovim/go-client/nvim"

	"github.com/sokinpui/udiff/internal/fs"
	"github.com/sokinpui/udiff/model"
)

// Manager handles the connection and interaction with a Neovim instance.
type Manager struct {
	nvim          *nvim.Nvim
	isSelfStarted bool
	cmd           *exec.Cmd
	socketPath    string
}

// New creates a new Neovim manager, connecting to an existing instance
// or starting a new headless one.
func New() (*Manager, error) {
	// Try to connect to a running instance first.
	for _, env := range []string{"NVIM", "NVIM_LISTEN_ADDRESS"} {
		if addr := os.Getenv(env); addr != "" {
			if v, err := nvim.Dial(addr); err == nil {
				return &Manager{nvim: v}, nil
			}
		}
	}

	tmpDir, err := os.MkdirTemp("", "udiff-nvim-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir for nvim: %w", err)
	}
	socketPath := filepath.Join(tmpDir, "nvim.sock")

	cmd := exec.Command("nvim", "--headless", "--clean", "--listen", socketPath)
	if err := cmd.Start(); err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to start headless nvim: %w. Is 'nvim' in your PATH?", err)
	}

	// Wait for the socket file to appear.
	for i := 0; i < 20; i++ {
		if _, err := os.Stat(socketPath); err == nil {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	v, err := nvim.Dial(socketPath)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("failed to connect to headless nvim: %w", err)
	}

	m := &Manager{
		nvim:          v,
		isSelfStarted: true,
		cmd:           cmd,
		socketPath:    socketPath,
	}
	if err := m.configureTempInstance(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) configureTempInstance() error {
	b := m.nvim.NewBatch()
	b.Command("set noswapfile")
	b.Command("set hidden")
	if err := b.Execute(); err != nil {
		return fmt.Errorf("failed to configure headless nvim: %w", err)
	}
	return nil
}

// Close disconnects from Neovim and cleans up if it was self-started.
func (m *Manager) Close() {
	if m.nvim != nil {
		m.nvim.Close()
	}
	if m.isSelfStarted && m.cmd != nil && m.cmd.Process != nil {
		if err := m.cmd.Process.Kill(); err == nil {
			m.cmd.Wait()
			os.RemoveAll(filepath.Dir(m.socketPath))
		}
	}
}

// processSequentially is a generic helper function to run a set of jobs sequentially.
func processSequentially[T any](
	items []T,
	processFn func(item T) (path string, success bool),
	progressCb func(int),
) (succeeded, failed []string) {
	if len(items) == 0 {
		return nil, nil
	}

	for i, item := range items {
		path, success := processFn(item)
		if success {
			succeeded = append(succeeded, path)
		} else {
			failed = append(failed, path)
		}
		if progressCb != nil {
			progressCb(i + 1)
		}
	}

	return succeeded, failed
}

// ApplyChanges updates Neovim buffers with the provided file contents.
// Deletions wipe the buffer and remove the file from disk.
func (m *Manager) ApplyChanges(changes []model.FileChange, progressCb func(int)) (updated, failed []string) {
	processFn := func(change model.FileChange) (string, bool) {
		if change.Action == model.ActionDelete {
			return change.Path, m.deleteFile(change.Path)
		}
		return change.Path, m.updateBuffer(change.Path, change.Content)
	}
	return processSequentially(changes, processFn, progressCb)
}

func (m *Manager) updateBuffer(filePath string, content string) bool {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return false
	}

	b := m.nvim.NewBatch()
	b.Command(fmt.Sprintf("edit %s", escapePath(absPath)))
	b.SetBufferLines(0, 0, -1, true, bufferLines(content))
	b.SetBufferOption(0, "endofline", !(content != "" && !strings.HasSuffix(content, "\n")))
	b.SetBufferOption(0, "fixendofline", false)

	return b.Execute() == nil
}

func (m *Manager) deleteFile(filePath string) bool {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return false
	}
	// The buffer may not be loaded.
	_ = m.nvim.Command(fmt.Sprintf("silent! bwipeout! %s", escapePath(absPath)))
	return fs.WriteChange(model.FileChange{Path: absPath, Action: model.ActionDelete}) == nil
}

// SaveAllBuffers writes all modified buffers to disk.
func (m *Manager) SaveAllBuffers() error {
	if err := m.nvim.Command("wa!"); err != nil {
		return fmt.Errorf("failed to save buffers: %w", err)
	}
	return nil
}

// bufferLines splits content the way Neovim stores it: one entry per
// line, terminators dropped.
func bufferLines(content string) [][]byte {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return [][]byte{}
	}
	parts := strings.Split(content, "\n")
	lines := make([][]byte, len(parts))
	for i, s := range parts {
		lines[i] = []byte(s)
	}
	return lines
}

func escapePath(path string) string {
	return strings.NewReplacer(" ", `\ `, "%", `\%`, "#", `\#`).Replace(path)
}
