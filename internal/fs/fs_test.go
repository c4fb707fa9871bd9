package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/udiff/model"
)

func TestPathResolver(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(second, "only-second.txt"), []byte("x"), 0644))

	r, err := NewPathResolver([]string{first, second})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(second, "only-second.txt"), r.Resolve("only-second.txt"))
	assert.Equal(t, filepath.Join(first, "new.txt"), r.Resolve("new.txt"))
	assert.Empty(t, r.ResolveExisting("new.txt"))

	abs := filepath.Join(second, "only-second.txt")
	assert.Equal(t, abs, r.ResolveExisting(abs))
}

func TestGetFileActionsAndDirs(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	gone := filepath.Join(dir, "gone.txt")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(gone, []byte("x"), 0644))
	fresh := filepath.Join(dir, "sub", "new.txt")

	actions, dirs := GetFileActionsAndDirs([]string{existing, gone, fresh}, map[string]bool{gone: true})
	assert.Equal(t, map[string]string{
		existing: model.ActionModify,
		gone:     model.ActionDelete,
		fresh:    model.ActionCreate,
	}, actions)
	assert.Contains(t, dirs, filepath.Join(dir, "sub"))

	require.NoError(t, CreateDirs(dirs))
	assert.DirExists(t, filepath.Join(dir, "sub"))
}

func TestReadTextAndHashContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")

	content, exists, err := ReadText(path)
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, content)

	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))
	content, exists, err = ReadText(path)
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "hello\n", content)

	assert.Len(t, HashContent(content), 64)
	assert.NotEqual(t, HashContent(content), HashContent("hello"))
}

func TestDiskWriter(t *testing.T) {
	dir := t.TempDir()
	modified := filepath.Join(dir, "m.txt")
	deleted := filepath.Join(dir, "d.txt")
	created := filepath.Join(dir, "nested", "c.txt")
	require.NoError(t, os.WriteFile(modified, []byte("old\n"), 0600))
	require.NoError(t, os.WriteFile(deleted, []byte("bye\n"), 0644))

	var progress []int
	ok, failed := DiskWriter{}.ApplyChanges([]model.FileChange{
		{Path: modified, Content: "new\n", Action: model.ActionModify},
		{Path: deleted, Action: model.ActionDelete},
		{Path: created, Content: "hi\n", Action: model.ActionCreate},
	}, func(n int) { progress = append(progress, n) })

	assert.Empty(t, failed)
	assert.Equal(t, []string{modified, deleted, created}, ok)
	assert.Equal(t, []int{1, 2, 3}, progress)

	data, err := os.ReadFile(modified)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(data))
	info, err := os.Stat(modified)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm(), "mode is preserved")

	assert.NoFileExists(t, deleted)
	data, err = os.ReadFile(created)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(data))
}
