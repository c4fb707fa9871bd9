package udiff

import (
	"github.com/sokinpui/udiff/internal/fs"
	"github.com/sokinpui/udiff/internal/nvim"
	"github.com/sokinpui/udiff/model"
)

// changeWriter puts planned changes into effect.
type changeWriter interface {
	ApplyChanges(changes []model.FileChange, progressCb func(int)) (updated, failed []string)
	// Save persists the changes and reports whether they reached disk.
	Save() (bool, error)
	Close()
}

type diskWriter struct {
	fs.DiskWriter
}

func (diskWriter) Save() (bool, error) { return true, nil }
func (diskWriter) Close()              {}

type nvimWriter struct {
	*nvim.Manager
	bufferOnly bool
}

func (w nvimWriter) Save() (bool, error) {
	if w.bufferOnly {
		return false, nil
	}
	if err := w.SaveAllBuffers(); err != nil {
		return false, err
	}
	return true, nil
}

func (a *App) openWriter() (changeWriter, error) {
	if !a.cfg.Nvim {
		return diskWriter{}, nil
	}
	manager, err := nvim.New()
	if err != nil {
		return nil, err
	}
	return nvimWriter{Manager: manager, bufferOnly: a.cfg.Buffer}, nil
}
