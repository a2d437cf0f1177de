package records

import (
	"io/fs"
	"path/filepath"
	"strings"

	"imgbatch/pkg/errors"
)

// updatedSuffix marks files written by a previous run
const updatedSuffix = "_updated"

// FindInputs lists the CSV files in dir in lexical order, descending into
// subdirectories when recursive is set. Outputs of earlier runs
// (<name>_updated.csv) and hidden entries are skipped.
func FindInputs(dir string, recursive bool) ([]string, error) {
	var found []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !recursive || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isInput(d.Name()) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindRecordStore, err, "failed to scan %s", dir)
	}
	return found, nil
}

func isInput(name string) bool {
	if strings.HasPrefix(name, ".") {
		return false
	}
	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, ".csv") {
		return false
	}
	return !strings.HasSuffix(strings.TrimSuffix(name, ext), updatedSuffix)
}
