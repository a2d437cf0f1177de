// Package grouping validates records and arranges them into per-account
// groups ordered by creation time. Everything here is pure; no I/O.
package grouping

import (
	"math/big"
	"sort"
	"strconv"
	"strings"

	"imgbatch/pkg/errors"
	"imgbatch/pkg/models"
)

// Validate parses create_time and checks required fields. Every input record
// ends up in exactly one of the two results, in input order.
func Validate(records []*models.Record) ([]*models.Record, []Rejection) {
	valid := make([]*models.Record, 0, len(records))
	var rejected []Rejection

	for _, r := range records {
		if err := validateRecord(r); err != nil {
			rejected = append(rejected, Rejection{Record: r, Err: err})
			continue
		}
		valid = append(valid, r)
	}
	return valid, rejected
}

// Rejection pairs a record with the reason it failed validation
type Rejection struct {
	Record *models.Record
	Err    *errors.Error
}

func validateRecord(r *models.Record) *errors.Error {
	required := []struct {
		name, value string
	}{
		{"account_id", r.AccountID},
		{"company_id", r.CompanyID},
		{"user_id", r.UserID},
		{"image_url", r.ImageURL},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return errors.New(errors.KindDataValidation, "row %d: %s is empty", r.Row, f.name)
		}
	}

	ts, err := ParseCreateTime(r.CreateTimeRaw)
	if err != nil {
		return errors.Wrap(errors.KindDataValidation, err, "row %d: create_time %q", r.Row, r.CreateTimeRaw)
	}
	r.CreateTime = ts
	return nil
}

// ParseCreateTime parses a non-negative integer Unix timestamp. A trailing
// ".0" fraction, as produced by spreadsheet exports, is accepted.
func ParseCreateTime(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if whole, frac, ok := strings.Cut(s, "."); ok && strings.Trim(frac, "0") == "" && frac != "" {
		s = whole
	}
	if s == "" {
		return 0, strconv.ErrSyntax
	}

	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if ts < 0 {
		return 0, strconv.ErrRange
	}
	return ts, nil
}

// Filter keeps records whose account id is in accountIDs. An empty filter keeps everything.
func Filter(records []*models.Record, accountIDs []string) []*models.Record {
	if len(accountIDs) == 0 {
		return records
	}

	allowed := make(map[string]bool, len(accountIDs))
	for _, id := range accountIDs {
		allowed[strings.TrimSpace(id)] = true
	}

	out := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if allowed[r.AccountID] {
			out = append(out, r)
		}
	}
	return out
}

// GroupByAccount partitions records by account id. Groups are ordered by
// account id, numerically when both ids are integers. Within a group records
// are ordered by create_time, ties broken by input row.
func GroupByAccount(records []*models.Record) []models.Group {
	index := make(map[string]int)
	var groups []models.Group

	for _, r := range records {
		i, ok := index[r.AccountID]
		if !ok {
			i = len(groups)
			index[r.AccountID] = i
			groups = append(groups, models.Group{AccountID: r.AccountID})
		}
		groups[i].Records = append(groups[i].Records, r)
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return accountLess(groups[i].AccountID, groups[j].AccountID)
	})

	for _, g := range groups {
		members := g.Records
		sort.SliceStable(members, func(i, j int) bool {
			if members[i].CreateTime != members[j].CreateTime {
				return members[i].CreateTime < members[j].CreateTime
			}
			return members[i].Row < members[j].Row
		})
	}

	return groups
}

func accountLess(a, b string) bool {
	na, okA := new(big.Int).SetString(a, 10)
	nb, okB := new(big.Int).SetString(b, 10)
	if okA && okB {
		if c := na.Cmp(nb); c != 0 {
			return c < 0
		}
	}
	return a < b
}
