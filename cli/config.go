package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sokinpui/udiff/patch"
)

// DefaultConfigName is looked up in the working directory.
const DefaultConfigName = ".udiff.yaml"

// FileConfig is the optional YAML config file.
type FileConfig struct {
	FuzzFactor  int      `yaml:"fuzz_factor"`
	Context     *int     `yaml:"context"`
	LookupDirs  []string `yaml:"lookup_dirs"`
	Extensions  []string `yaml:"extensions"`
	Verbose     bool     `yaml:"verbose"`
	NoFix       bool     `yaml:"no_fix"`
	NoAnimation bool     `yaml:"no_animation"`
}

func (f *FileConfig) contextOrDefault() int {
	if f.Context == nil {
		return patch.DefaultContext
	}
	return *f.Context
}

// LoadFile reads the config file at path. With an empty path it tries
// DefaultConfigName in the working directory and then udiff/config.yaml in
// the user config dir; a missing file yields the zero config.
func LoadFile(path string) (*FileConfig, error) {
	explicit := path != ""
	candidates := []string{path}
	if !explicit {
		candidates = defaultConfigPaths()
	}

	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && !explicit {
				continue
			}
			return nil, fmt.Errorf("failed to read config %s: %w", candidate, err)
		}
		cfg := &FileConfig{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", candidate, err)
		}
		if cfg.FuzzFactor < 0 {
			return nil, fmt.Errorf("invalid config %s: fuzz_factor must not be negative", candidate)
		}
		return cfg, nil
	}
	return &FileConfig{}, nil
}

func defaultConfigPaths() []string {
	paths := []string{DefaultConfigName}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "udiff", "config.yaml"))
	}
	return paths
}
