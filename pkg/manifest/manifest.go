// Package manifest maintains a manifest.json per target folder describing
// each stored image and its source record.
package manifest

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"imgbatch/pkg/models"
	"imgbatch/pkg/storage"
)

// FileName is the manifest file written into each folder
const FileName = "manifest.json"

// Entry describes one stored image
type Entry struct {
	FileName   string `json:"file_name"`
	Row        int    `json:"row"`
	AccountID  string `json:"account_id"`
	CompanyID  string `json:"company_id"`
	UserID     string `json:"user_id"`
	ImageURL   string `json:"image_url"`
	Title      string `json:"title,omitempty"`
	CreateTime int64  `json:"create_time"`

	TakenAt      time.Time `json:"taken_at"`
	DownloadedAt time.Time `json:"downloaded_at"`

	Size int64 `json:"size"`
	// Digest is the hex BLAKE2b-256 of the file content
	Digest string `json:"blake2b"`
}

// Manifest is the on-disk document
type Manifest struct {
	RunID     string    `json:"run_id"`
	UpdatedAt time.Time `json:"updated_at"`
	Entries   []Entry   `json:"entries"`
}

// Writer collects entries per folder during a run
type Writer struct {
	pending map[string][]Entry
	now     func() time.Time
	mu      sync.Mutex
}

// NewWriter creates an empty manifest writer
func NewWriter() *Writer {
	return &Writer{
		pending: make(map[string][]Entry),
		now:     time.Now,
	}
}

// Add records a stored file. The digest is computed from the file on disk.
func (w *Writer) Add(folder string, rec *models.Record, fileName string) error {
	size, digest, err := Digest(filepath.Join(folder, fileName))
	if err != nil {
		return err
	}

	entry := Entry{
		FileName:     fileName,
		Row:          rec.Row,
		AccountID:    rec.AccountID,
		CompanyID:    rec.CompanyID,
		UserID:       rec.UserID,
		ImageURL:     rec.ImageURL,
		Title:        rec.Title,
		CreateTime:   rec.CreateTime,
		TakenAt:      time.Unix(rec.CreateTime, 0).UTC(),
		DownloadedAt: w.now().UTC(),
		Size:         size,
		Digest:       digest,
	}

	w.mu.Lock()
	w.pending[folder] = append(w.pending[folder], entry)
	w.mu.Unlock()
	return nil
}

// Flush merges pending entries into each folder's manifest. Entries with the
// same file name replace the previous ones.
func (w *Writer) Flush(runID string) error {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string][]Entry)
	w.mu.Unlock()

	folders := make([]string, 0, len(pending))
	for f := range pending {
		folders = append(folders, f)
	}
	sort.Strings(folders)

	for _, folder := range folders {
		m, err := Load(folder)
		if err != nil {
			return err
		}

		byName := make(map[string]int, len(m.Entries))
		for i, e := range m.Entries {
			byName[e.FileName] = i
		}
		for _, e := range pending[folder] {
			if i, ok := byName[e.FileName]; ok {
				m.Entries[i] = e
				continue
			}
			byName[e.FileName] = len(m.Entries)
			m.Entries = append(m.Entries, e)
		}
		sort.SliceStable(m.Entries, func(i, j int) bool {
			return m.Entries[i].FileName < m.Entries[j].FileName
		})

		m.RunID = runID
		m.UpdatedAt = w.now().UTC()
		if err := Save(folder, m); err != nil {
			return err
		}
	}
	return nil
}

// Load reads folder's manifest. A missing manifest yields an empty one.
func Load(folder string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(folder, FileName))
	if os.IsNotExist(err) {
		return &Manifest{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal manifest: %w", err)
	}
	return &m, nil
}

// Save writes m into folder atomically
func Save(folder string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	if _, err := storage.WriteFileAtomic(folder, FileName, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// Prune drops entries whose image no longer exists in folder and returns
// how many were removed.
func Prune(folder string) (int, error) {
	m, err := Load(folder)
	if err != nil {
		return 0, err
	}

	kept := m.Entries[:0]
	for _, e := range m.Entries {
		if _, err := os.Stat(filepath.Join(folder, e.FileName)); os.IsNotExist(err) {
			continue
		}
		kept = append(kept, e)
	}

	removed := len(m.Entries) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	m.Entries = kept
	return removed, Save(folder, m)
}

// Digest returns the size and hex BLAKE2b-256 of the file at path
func Digest(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return 0, "", err
	}
	n, err := io.Copy(h, f)
	if err != nil {
		return 0, "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
