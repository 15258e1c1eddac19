package storage

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
)

type TimeRange string

const (
	TimeRangeWeek  TimeRange = "week"
	TimeRangeMonth TimeRange = "month"
	TimeRangeAll   TimeRange = "all"
)

func (t TimeRange) Valid() bool {
	switch t {
	case TimeRangeWeek, TimeRangeMonth, TimeRangeAll:
		return true
	}
	return false
}

// Since returns the lower bound of the time window relative to now.
// The second return value is false when the range does not filter at all.
func (t TimeRange) Since(now time.Time) (time.Time, bool) {
	switch t {
	case TimeRangeWeek:
		return now.Add(-7 * 24 * time.Hour), true
	case TimeRangeMonth:
		return now.Add(-30 * 24 * time.Hour), true
	}
	return time.Time{}, false
}

type SortBy string

const (
	SortByVotes    SortBy = "votes"
	SortByComments SortBy = "comments"
	SortByRecent   SortBy = "recent"
)

func (s SortBy) Valid() bool {
	switch s {
	case SortByVotes, SortByComments, SortByRecent:
		return true
	}
	return false
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
)

// FeedQuery selects one page of the post feed. Page is 1-indexed. Identity
// is the requesting voter identity used for the voted join.
type FeedQuery struct {
	TimeRange TimeRange
	SortBy    SortBy
	Page      int
	PageSize  int
	Identity  string
}

// Feed runs the full feed pipeline over db: one page of posts filtered,
// sorted and paginated by q, with each item's comments_count overwritten by
// a live grouped count and its voted flag joined in for q.Identity. Both
// joins are single batched lookups over the page's post IDs, never one per
// item. The returned total counts every post matching the time-range filter.
//
// Sorting by comments deliberately orders on the stored counter while the
// returned counts are live, so the order and the displayed numbers can
// disagree while a stored counter is skewed.
func Feed(ctx context.Context, db Storage, q FeedQuery) ([]Post, int, error) {
	items, total, err := db.Posts(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	if len(items) == 0 {
		return items, total, nil
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, p := range items {
		ids = append(ids, p.ID)
	}

	counts, err := db.CommentCounts(ctx, ids...)
	if err != nil {
		return nil, 0, err
	}
	voted, err := db.Voted(ctx, q.Identity, ids...)
	if err != nil {
		return nil, 0, err
	}

	for i := range items {
		items[i].CommentsCount = counts[items[i].ID]
		items[i].Voted = voted[items[i].ID]
	}

	return items, total, nil
}
