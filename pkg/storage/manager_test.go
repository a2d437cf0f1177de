package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "imgbatch/pkg/errors"
)

func TestEnsureFolderCreatesOnce(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	calls := 0
	m.mkdirAll = func(path string, perm os.FileMode) error {
		calls++
		return os.MkdirAll(path, perm)
	}

	f1, err := m.EnsureFolder("1", "2", "3")
	require.NoError(t, err)
	assert.Equal(t, "1_2_3", f1.Key)
	assert.Equal(t, filepath.Join(dir, "1_2_3"), f1.Path)
	assert.DirExists(t, f1.Path)

	f2, err := m.EnsureFolder("1", "2", "3")
	require.NoError(t, err)
	assert.Equal(t, f1, f2)
	assert.Equal(t, 1, calls)

	_, err = m.EnsureFolder("1", "2", "4")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 2, m.FolderCount())
}

func TestEnsureFolderExistingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "1_2_3"), 0755))

	_, err := NewManager(dir).EnsureFolder("1", "2", "3")
	assert.NoError(t, err)
}

func TestEnsureFolderInvalidComponents(t *testing.T) {
	tests := []struct {
		name                    string
		company, account, user string
	}{
		{"empty company", "", "2", "3"},
		{"blank user", "1", "2", " "},
		{"dot dot", "1", "..", "3"},
		{"slash", "1", "a/b", "3"},
		{"backslash", "1", "2", `x\y`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(t.TempDir())
			m.mkdirAll = func(string, os.FileMode) error {
				t.Fatal("mkdir must not be attempted for an invalid path")
				return nil
			}

			_, err := m.EnsureFolder(tt.company, tt.account, tt.user)
			require.Error(t, err)
			assert.Equal(t, errs.KindFolderCreation, errs.KindOf(err))
			assert.Contains(t, err.Error(), "invalid path")
		})
	}
}

func TestEnsureFolderFailureIsCached(t *testing.T) {
	dir := t.TempDir()
	// a regular file where the folder should go
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_2_3"), []byte("x"), 0644))

	m := NewManager(dir)
	calls := 0
	m.mkdirAll = func(path string, perm os.FileMode) error {
		calls++
		return os.MkdirAll(path, perm)
	}

	_, err := m.EnsureFolder("1", "2", "3")
	require.Error(t, err)
	assert.Equal(t, errs.KindFolderCreation, errs.KindOf(err))

	_, err2 := m.EnsureFolder("1", "2", "3")
	assert.Equal(t, err, err2)
	assert.Equal(t, 1, calls)
}

func TestWriteAtomic(t *testing.T) {
	m := NewManager(t.TempDir())
	folder, err := m.EnsureFolder("1", "2", "3")
	require.NoError(t, err)

	assert.False(t, m.Exists(folder, "a.jpg"))

	data := []byte("image bytes")
	n, err := m.WriteAtomic(folder, "a.jpg", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), n)

	got, err := os.ReadFile(filepath.Join(folder.Path, "a.jpg"))
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.True(t, m.Exists(folder, "a.jpg"))

	// only the final file remains
	entries, err := os.ReadDir(folder.Path)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteAtomicReaderFailureLeavesNothing(t *testing.T) {
	m := NewManager(t.TempDir())
	folder, err := m.EnsureFolder("1", "2", "3")
	require.NoError(t, err)

	r := iotest.ErrReader(errors.New("connection reset"))
	_, err = m.WriteAtomic(folder, "a.jpg", r)
	require.Error(t, err)
	assert.Equal(t, errs.KindWrite, errs.KindOf(err))

	entries, err := os.ReadDir(folder.Path)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestWriteAtomicMissingFolder(t *testing.T) {
	m := NewManager(t.TempDir())
	folder := TargetFolder{Key: "x", Path: filepath.Join(m.WorkDir(), "missing")}

	_, err := m.WriteAtomic(folder, "a.jpg", strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, errs.KindWrite, errs.KindOf(err))
}

func TestWriteAtomicRejectsPathNames(t *testing.T) {
	m := NewManager(t.TempDir())
	folder, err := m.EnsureFolder("1", "2", "3")
	require.NoError(t, err)

	for _, name := range []string{"", "../a.jpg", "sub/a.jpg"} {
		_, err := m.WriteAtomic(folder, name, strings.NewReader("x"))
		assert.Equal(t, errs.KindWrite, errs.KindOf(err), name)
	}
}
