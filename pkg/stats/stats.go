// Package stats accumulates per-run counters. A Stats value belongs to one
// run; Merge folds finished runs into a total.
package stats

import (
	"fmt"
	"sort"
	"strings"

	"imgbatch/pkg/errors"
	"imgbatch/pkg/models"
)

// Stats counts record outcomes for a single run
type Stats struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped is the subset of Succeeded whose file already existed
	Skipped int `json:"skipped"`
	// Rejected is the subset of Failed that never passed validation
	Rejected int                 `json:"rejected"`
	ByClass  map[errors.Kind]int `json:"by_class"`
	// Attempts is the total number of download attempts issued
	Attempts int `json:"attempts"`
}

// New returns empty stats
func New() Stats {
	return Stats{ByClass: make(map[errors.Kind]int)}
}

// Record folds one outcome into the counters
func (s *Stats) Record(o models.Outcome) {
	if s.ByClass == nil {
		s.ByClass = make(map[errors.Kind]int)
	}

	s.Total++
	s.Attempts += o.Attempts

	if o.Succeeded() {
		s.Succeeded++
		if o.Skipped {
			s.Skipped++
		}
		return
	}

	s.Failed++
	kind := errors.KindOf(o.Err)
	if kind == "" {
		kind = errors.KindUnknown
	}
	if kind == errors.KindDataValidation {
		s.Rejected++
	}
	s.ByClass[kind]++
}

// Merge adds the counters of o
func (s *Stats) Merge(o Stats) {
	if s.ByClass == nil {
		s.ByClass = make(map[errors.Kind]int)
	}
	s.Total += o.Total
	s.Succeeded += o.Succeeded
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Rejected += o.Rejected
	s.Attempts += o.Attempts
	for k, n := range o.ByClass {
		s.ByClass[k] += n
	}
}

// Fields returns the counters as log fields
func (s Stats) Fields() map[string]interface{} {
	fields := map[string]interface{}{
		"total":     s.Total,
		"succeeded": s.Succeeded,
		"failed":    s.Failed,
		"skipped":   s.Skipped,
		"rejected":  s.Rejected,
		"attempts":  s.Attempts,
	}
	for kind, n := range s.ByClass {
		fields["failed_"+string(kind)] = n
	}
	return fields
}

// Summary renders a one-line human readable summary
func (s Stats) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "total=%d succeeded=%d failed=%d skipped=%d", s.Total, s.Succeeded, s.Failed, s.Skipped)

	kinds := make([]string, 0, len(s.ByClass))
	for k := range s.ByClass {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(&b, " %s=%d", k, s.ByClass[errors.Kind(k)])
	}
	return b.String()
}

// ExitCode is 0 when every record succeeded and 2 otherwise
func (s Stats) ExitCode() int {
	if s.Failed > 0 {
		return 2
	}
	return 0
}
