package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/udiff/patch"
)

// isolate keeps the user's real config out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestParse_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, patch.DefaultContext, cfg.Context)
	assert.Zero(t, cfg.FuzzFactor)
	assert.False(t, cfg.Nvim)
	assert.Empty(t, cfg.Extensions)
}

func TestParse_Flags(t *testing.T) {
	isolate(t)

	cfg, err := Parse([]string{"-e", "go,py", "--fuzz", "2", "-U", "1", "--buffer", "-l", "src"})
	require.NoError(t, err)
	assert.Equal(t, []string{".go", ".py"}, cfg.Extensions)
	assert.Equal(t, 2, cfg.FuzzFactor)
	assert.Equal(t, 1, cfg.Context)
	assert.True(t, cfg.Buffer)
	assert.True(t, cfg.Nvim, "--buffer implies --nvim")
	assert.Equal(t, []string{"src"}, cfg.LookupDirs)
}

func TestParse_Errors(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"revert and redo", []string{"--revert", "--redo"}},
		{"diff without files", []string{"--diff", "only-one"}},
		{"negative fuzz", []string{"--fuzz", "-1"}},
		{"unknown flag", []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestParse_DiffArgs(t *testing.T) {
	isolate(t)

	cfg, err := Parse([]string{"--diff", "old.txt", "new.txt"})
	require.NoError(t, err)
	assert.True(t, cfg.Diff)
	assert.Equal(t, []string{"old.txt", "new.txt"}, cfg.Args)
}

func TestParse_ConfigFileSuppliesDefaults(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "udiff.yaml")
	data := "fuzz_factor: 2\ncontext: 5\nextensions: [go]\nverbose: true\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Parse([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.FuzzFactor)
	assert.Equal(t, 5, cfg.Context)
	assert.Equal(t, []string{".go"}, cfg.Extensions)
	assert.True(t, cfg.Verbose)

	// Flags win over the file.
	cfg, err = Parse([]string{"--config=" + path, "--fuzz", "0", "-U", "3"})
	require.NoError(t, err)
	assert.Zero(t, cfg.FuzzFactor)
	assert.Equal(t, 3, cfg.Context)
}

func TestLoadFile(t *testing.T) {
	isolate(t)

	t.Run("missing default is empty", func(t *testing.T) {
		cfg, err := LoadFile("")
		require.NoError(t, err)
		assert.Nil(t, cfg.Context)
	})

	t.Run("working directory file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(DefaultConfigName, []byte("lookup_dirs: [a, b]\n"), 0644))
		t.Cleanup(func() { _ = os.Remove(DefaultConfigName) })

		cfg, err := LoadFile("")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, cfg.LookupDirs)
	})

	t.Run("explicit missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("fuzz_factor: [\n"), 0644))
		_, err := LoadFile(path)
		assert.Error(t, err)
	})

	t.Run("negative fuzz", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "neg.yaml")
		require.NoError(t, os.WriteFile(path, []byte("fuzz_factor: -2\n"), 0644))
		_, err := LoadFile(path)
		assert.Error(t, err)
	})
}

func TestNormalizeExtensions(t *testing.T) {
	assert.Equal(t, []string{".go", ".py", ""}, NormalizeExtensions([]string{"go", ".py", ""}))
}
