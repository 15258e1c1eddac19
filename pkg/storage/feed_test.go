package storage

import (
	"testing"
	"time"
)

func TestTimeRange_Since(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		timeRange   TimeRange
		wantSince   time.Time
		wantBounded bool
	}{
		{
			name:        "week bounds to seven days back",
			timeRange:   TimeRangeWeek,
			wantSince:   time.Date(2025, 6, 8, 12, 0, 0, 0, time.UTC),
			wantBounded: true,
		},
		{
			name:        "month bounds to thirty days back",
			timeRange:   TimeRangeMonth,
			wantSince:   time.Date(2025, 5, 16, 12, 0, 0, 0, time.UTC),
			wantBounded: true,
		},
		{
			name:        "all is unbounded",
			timeRange:   TimeRangeAll,
			wantBounded: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			since, bounded := tt.timeRange.Since(now)
			if bounded != tt.wantBounded {
				t.Fatalf("want bounded %v, got %v", tt.wantBounded, bounded)
			}
			if bounded && !since.Equal(tt.wantSince) {
				t.Errorf("want since %v, got %v", tt.wantSince, since)
			}
		})
	}
}

func TestTimeRange_Valid(t *testing.T) {
	tests := []struct {
		in   TimeRange
		want bool
	}{
		{TimeRangeWeek, true},
		{TimeRangeMonth, true},
		{TimeRangeAll, true},
		{TimeRange("day"), false},
		{TimeRange("WEEK"), false},
		{TimeRange(""), false},
	}

	for _, tt := range tests {
		if got := tt.in.Valid(); got != tt.want {
			t.Errorf("TimeRange(%q).Valid(): want %v, got %v", string(tt.in), tt.want, got)
		}
	}
}

func TestSortBy_Valid(t *testing.T) {
	tests := []struct {
		in   SortBy
		want bool
	}{
		{SortByVotes, true},
		{SortByComments, true},
		{SortByRecent, true},
		{SortBy("title"), false},
		{SortBy(""), false},
	}

	for _, tt := range tests {
		if got := tt.in.Valid(); got != tt.want {
			t.Errorf("SortBy(%q).Valid(): want %v, got %v", string(tt.in), tt.want, got)
		}
	}
}
