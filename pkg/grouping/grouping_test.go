package grouping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imgbatch/pkg/errors"
	"imgbatch/pkg/models"
)

func rec(row int, account, created string) *models.Record {
	return &models.Record{
		Row:           row,
		AccountID:     account,
		CompanyID:     "1",
		UserID:        "9",
		ImageURL:      "http://h/a.jpg",
		CreateTimeRaw: created,
	}
}

func TestParseCreateTime(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"1700000000", 1700000000, false},
		{" 42 ", 42, false},
		{"1700000000.0", 1700000000, false},
		{"1700000000.000", 1700000000, false},
		{"0", 0, false},
		{"1700000000.5", 0, true},
		{"-5", 0, true},
		{"", 0, true},
		{".0", 0, true},
		{"abc", 0, true},
		{"1.7e9", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseCreateTime(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	noURL := rec(2, "10", "5")
	noURL.ImageURL = " "

	records := []*models.Record{
		rec(0, "10", "100"),
		rec(1, "10", "yesterday"),
		noURL,
		rec(3, "11", "7.0"),
	}

	valid, rejected := Validate(records)

	require.Len(t, valid, 2)
	assert.Equal(t, 0, valid[0].Row)
	assert.Equal(t, int64(100), valid[0].CreateTime)
	assert.Equal(t, int64(7), valid[1].CreateTime)

	require.Len(t, rejected, 2)
	assert.Equal(t, 1, rejected[0].Record.Row)
	assert.Equal(t, errors.KindDataValidation, rejected[0].Err.Kind)
	assert.Contains(t, rejected[0].Err.Error(), "create_time")
	assert.Contains(t, rejected[1].Err.Error(), "image_url is empty")
}

func TestFilter(t *testing.T) {
	records := []*models.Record{rec(0, "10", "1"), rec(1, "11", "1"), rec(2, "12", "1")}

	assert.Len(t, Filter(records, nil), 3)

	kept := Filter(records, []string{"12", " 10"})
	require.Len(t, kept, 2)
	assert.Equal(t, "10", kept[0].AccountID)
	assert.Equal(t, "12", kept[1].AccountID)
}

func TestGroupByAccountOrdering(t *testing.T) {
	records := []*models.Record{
		rec(0, "10", "300"),
		rec(1, "9", "50"),
		rec(2, "10", "100"),
		rec(3, "10", "100"),
		rec(4, "abc", "1"),
		rec(5, "9", "20"),
	}
	valid, rejected := Validate(records)
	require.Empty(t, rejected)

	groups := GroupByAccount(valid)
	require.Len(t, groups, 3)

	// numeric order puts 9 before 10, lexical puts digits before letters
	assert.Equal(t, "9", groups[0].AccountID)
	assert.Equal(t, "10", groups[1].AccountID)
	assert.Equal(t, "abc", groups[2].AccountID)

	rows := func(g models.Group) []int {
		var out []int
		for _, r := range g.Records {
			out = append(out, r.Row)
		}
		return out
	}
	assert.Equal(t, []int{5, 1}, rows(groups[0]))
	// equal create_time keeps input order
	assert.Equal(t, []int{2, 3, 0}, rows(groups[1]))
}

func TestGroupByAccountPreservesCount(t *testing.T) {
	var records []*models.Record
	for i := 0; i < 50; i++ {
		r := rec(i, []string{"1", "2", "3"}[i%3], "10")
		r.CreateTime = int64(100 - i)
		records = append(records, r)
	}

	groups := GroupByAccount(records)
	total := 0
	for _, g := range groups {
		total += len(g.Records)
		for i := 1; i < len(g.Records); i++ {
			assert.LessOrEqual(t, g.Records[i-1].CreateTime, g.Records[i].CreateTime)
		}
	}
	assert.Equal(t, 50, total)
}

func TestAccountLess(t *testing.T) {
	assert.True(t, accountLess("2", "10"))
	assert.False(t, accountLess("10", "2"))
	assert.True(t, accountLess("123456789012345678901", "123456789012345678902"))
	assert.True(t, accountLess("10", "a"))
	// same number, different spelling falls back to lexical order
	assert.True(t, accountLess("007", "7"))
}
