// Package storage manages the per-entity output folders and writes image
// files into them.
//
// Folders are named company_account_user under the work directory and are
// created on first use; the outcome is cached for the rest of the run. Files
// are written through a temporary file in the destination folder followed by
// a rename, so a reader never observes a partially written image.
//
//	m := storage.NewManager("/data/images")
//	folder, err := m.EnsureFolder("7", "42", "1001")
//	if err != nil {
//	    // errors.KindFolderCreation
//	}
//	n, err := m.WriteAtomic(folder, "0115093000.jpg", body)
package storage
