package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"imgbatch/pkg/errors"
)

// TargetFolder is a resolved per-entity directory
type TargetFolder struct {
	// Key is company_account_user
	Key string
	// Path is WorkDir/Key
	Path string
}

type folderState struct {
	folder TargetFolder
	err    error
}

// Manager resolves target folders and writes image files atomically
type Manager struct {
	workDir  string
	folders  map[string]folderState
	mkdirAll func(path string, perm os.FileMode) error
	mu       sync.Mutex
}

// NewManager creates a storage manager rooted at workDir. No filesystem work
// happens until a folder is requested.
func NewManager(workDir string) *Manager {
	return &Manager{
		workDir:  workDir,
		folders:  make(map[string]folderState),
		mkdirAll: os.MkdirAll,
	}
}

// EnsureFolder returns the folder for the company/account/user triple,
// creating it on first use. The result, success or failure, is cached so a
// folder is created at most once per run.
func (m *Manager) EnsureFolder(companyID, accountID, userID string) (TargetFolder, error) {
	key := strings.Join([]string{companyID, accountID, userID}, "_")

	m.mu.Lock()
	defer m.mu.Unlock()

	if st, ok := m.folders[key]; ok {
		return st.folder, st.err
	}

	folder := TargetFolder{Key: key, Path: filepath.Join(m.workDir, key)}
	err := m.createFolder(folder, companyID, accountID, userID)
	m.folders[key] = folderState{folder: folder, err: err}
	return folder, err
}

func (m *Manager) createFolder(folder TargetFolder, components ...string) error {
	names := []string{"company_id", "account_id", "user_id"}
	for i, c := range components {
		if err := checkComponent(c); err != nil {
			return errors.New(errors.KindFolderCreation, "invalid path: %s %q %s", names[i], c, err)
		}
	}

	if err := m.mkdirAll(folder.Path, 0755); err != nil {
		return errors.Wrap(errors.KindFolderCreation, err, "creating %s", folder.Path)
	}
	return nil
}

func checkComponent(c string) error {
	switch {
	case strings.TrimSpace(c) == "":
		return fmt.Errorf("is empty")
	case c == "." || c == "..":
		return fmt.Errorf("is a relative path element")
	case strings.ContainsAny(c, `/\`) || strings.ContainsRune(c, filepath.Separator):
		return fmt.Errorf("contains a path separator")
	case strings.ContainsRune(c, 0):
		return fmt.Errorf("contains a NUL byte")
	}
	return nil
}

// Exists reports whether name is already present in folder
func (m *Manager) Exists(folder TargetFolder, name string) bool {
	info, err := os.Stat(filepath.Join(folder.Path, name))
	return err == nil && info.Mode().IsRegular()
}

// WriteAtomic stores r as folder/name. Data goes to a temporary file in the
// same folder first and is renamed into place, so name either holds the full
// content or does not exist.
func (m *Manager) WriteAtomic(folder TargetFolder, name string, r io.Reader) (int64, error) {
	return WriteFileAtomic(folder.Path, name, r)
}

// WriteFileAtomic writes r to dir/name through a temporary file and rename.
// Errors are classified as errors.KindWrite.
func WriteFileAtomic(dir, name string, r io.Reader) (int64, error) {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return 0, errors.New(errors.KindWrite, "invalid file name %q", name)
	}
	target := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return 0, errors.Wrap(errors.KindWrite, err, "creating temporary file for %s", target)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return 0, errors.Wrap(errors.KindWrite, err, "writing %s", target)
	}
	if err := tmp.Sync(); err != nil {
		return 0, errors.Wrap(errors.KindWrite, err, "syncing %s", target)
	}
	if err := tmp.Close(); err != nil {
		return 0, errors.Wrap(errors.KindWrite, err, "closing %s", target)
	}
	if err := os.Rename(tmpName, target); err != nil {
		return 0, errors.Wrap(errors.KindWrite, err, "renaming into %s", target)
	}

	committed = true
	return n, nil
}

// WorkDir returns the root directory
func (m *Manager) WorkDir() string {
	return m.workDir
}

// FolderCount returns the number of folders resolved so far
func (m *Manager) FolderCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.folders)
}
