package manifest

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/blake2b"

	"imgbatch/pkg/models"
)

func writeImage(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestDigest(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg", "hello")

	size, digest, err := Digest(filepath.Join(dir, "a.jpg"))
	require.NoError(t, err)

	sum := blake2b.Sum256([]byte("hello"))
	assert.Equal(t, int64(5), size)
	assert.Equal(t, hex.EncodeToString(sum[:]), digest)

	_, _, err = Digest(filepath.Join(dir, "missing.jpg"))
	assert.Error(t, err)
}

func TestWriterFlush(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "0102150405.jpg", "one")
	writeImage(t, dir, "0102150405_1.jpg", "two")

	w := NewWriter()
	w.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	rec := &models.Record{Row: 4, AccountID: "a", CompanyID: "c", UserID: "u", ImageURL: "https://x/1.jpg", CreateTime: 1700000000}
	require.NoError(t, w.Add(dir, rec, "0102150405_1.jpg"))
	require.NoError(t, w.Add(dir, rec, "0102150405.jpg"))
	require.NoError(t, w.Flush("run-1"))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-1", m.RunID)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, "0102150405.jpg", m.Entries[0].FileName)
	assert.Equal(t, int64(3), m.Entries[0].Size)
	assert.Equal(t, 4, m.Entries[0].Row)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), m.Entries[0].TakenAt)
}

func TestFlushMergesWithExisting(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "a.jpg", "a")
	writeImage(t, dir, "b.jpg", "b")

	rec := &models.Record{AccountID: "1"}

	w := NewWriter()
	require.NoError(t, w.Add(dir, rec, "a.jpg"))
	require.NoError(t, w.Flush("run-1"))

	writeImage(t, dir, "a.jpg", "changed")
	require.NoError(t, w.Add(dir, rec, "a.jpg"))
	require.NoError(t, w.Add(dir, rec, "b.jpg"))
	require.NoError(t, w.Flush("run-2"))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "run-2", m.RunID)
	require.Len(t, m.Entries, 2)
	assert.Equal(t, int64(len("changed")), m.Entries[0].Size)
}

func TestAddMissingFile(t *testing.T) {
	w := NewWriter()
	err := w.Add(t.TempDir(), &models.Record{}, "nope.jpg")
	assert.Error(t, err)
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, m.Entries)

	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{"), 0644))
	_, err = Load(dir)
	assert.Error(t, err)
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	writeImage(t, dir, "keep.jpg", "k")
	writeImage(t, dir, "gone.jpg", "g")

	w := NewWriter()
	require.NoError(t, w.Add(dir, &models.Record{}, "keep.jpg"))
	require.NoError(t, w.Add(dir, &models.Record{}, "gone.jpg"))
	require.NoError(t, w.Flush("run"))

	require.NoError(t, os.Remove(filepath.Join(dir, "gone.jpg")))

	removed, err := Prune(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	m, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, m.Entries, 1)
	assert.Equal(t, "keep.jpg", m.Entries[0].FileName)

	removed, err = Prune(dir)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
