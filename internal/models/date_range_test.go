package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		period string
		from   string
		to     string
	}{
		{"2024", "2024-01-01", "2024-12-31"},
		{"2024-02", "2024-02-01", "2024-02-29"},
		{" 2023-12 ", "2023-12-01", "2023-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			r, err := ParsePeriod(tt.period)
			require.NoError(t, err)
			assert.Equal(t, tt.from, r.FromDay())
			assert.Equal(t, tt.to, r.ToDay())
		})
	}

	for _, bad := range []string{"", "24", "2024-13", "2024-00", "2024/01", "abcd", "2024-1"} {
		_, err := ParsePeriod(bad)
		assert.ErrorIs(t, err, ErrInvalidPeriod, bad)
	}
}

func TestNewDateRange(t *testing.T) {
	r, err := NewDateRange("2024-01-02", "")
	require.NoError(t, err)
	assert.True(t, r.ContainsDay("2024-01-02"))
	assert.True(t, r.ContainsDay("2030-01-01"))
	assert.False(t, r.ContainsDay("2024-01-01"))

	_, err = NewDateRange("2024-02-01", "2024-01-01")
	assert.Error(t, err)

	_, err = NewDateRange("01/02/2024", "")
	assert.Error(t, err)

	assert.Equal(t, "*..*", DateRange{}.String())
}

func TestDateRange_JSON(t *testing.T) {
	r := DateRange{From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"2024-01-01","to":null}`, string(data))

	var back DateRange
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r, back)
}

func TestIngestionReport_Merge(t *testing.T) {
	t1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	merged := &IngestionReport{}
	merged.Merge(&IngestionReport{RowsRead: 2, Inserted: 1, Rejected: 1, Errors: []RowError{{Row: 2}}, StartedAt: t2, FinishedAt: t2})
	merged.Merge(&IngestionReport{RowsRead: 1, SkippedDuplicate: 1, StartedAt: t1, FinishedAt: t1})
	merged.Merge(nil)

	assert.Equal(t, 3, merged.RowsRead)
	assert.Equal(t, 2, merged.Accepted())
	assert.Len(t, merged.Errors, 1)
	assert.Equal(t, t1, merged.StartedAt)
	assert.Equal(t, t2, merged.FinishedAt)

	run := NewIngestionRun(merged, nil)
	assert.Equal(t, RunStatusCompleted, run.Status)
}
