package models

import (
	"fmt"
	"time"
)

// Record is one row of the input dataset describing an image
type Record struct {
	// Row is the zero-based position in the input and identifies the record on write-back
	Row int `json:"row"`

	AccountID string `json:"account_id"`
	CompanyID string `json:"company_id"`
	UserID    string `json:"user_id"`
	ImageURL  string `json:"image_url"`
	Title     string `json:"title,omitempty"`

	// CreateTimeRaw is the unparsed create_time cell
	CreateTimeRaw string `json:"create_time_raw"`
	// CreateTime is seconds since the Unix epoch, set once the record is validated
	CreateTime int64 `json:"create_time"`

	// FileName is nil until the image has been stored successfully
	FileName *string `json:"file_name"`
}

// SetFileName records the stored filename
func (r *Record) SetFileName(name string) {
	r.FileName = &name
}

// FileNameOrEmpty returns the stored filename or "" when it is null
func (r *Record) FileNameOrEmpty() string {
	if r.FileName == nil {
		return ""
	}
	return *r.FileName
}

// Group is the ordered set of records sharing an account id
type Group struct {
	AccountID string
	Records   []*Record
}

// Status tracks a record through a run
type Status string

const (
	StatusPending     Status = "pending"
	StatusFolderReady Status = "folder_ready"
	StatusDownloading Status = "downloading"
	StatusSucceeded   Status = "succeeded"
	StatusFailed      Status = "failed"
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusFolderReady, StatusFailed},
	StatusFolderReady: {StatusDownloading, StatusSucceeded, StatusFailed},
	StatusDownloading: {StatusSucceeded, StatusFailed},
}

// Terminal reports whether no further transition is possible
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Transition returns the next status or an error when the move is not allowed
func (s Status) Transition(to Status) (Status, error) {
	for _, next := range transitions[s] {
		if next == to {
			return to, nil
		}
	}
	return s, fmt.Errorf("illegal status transition %s -> %s", s, to)
}

// Outcome is the per-record result of a run
type Outcome struct {
	Record   *Record
	FileName string
	Status   Status
	Err      error
	Attempts int
	Bytes    int64
	// Skipped is set when the file already existed and no request was made
	Skipped bool
	// Elapsed is the wall time spent on the record, retries included
	Elapsed time.Duration
}

// Succeeded reports whether the record ended with a stored file
func (o Outcome) Succeeded() bool {
	return o.Status == StatusSucceeded
}
