package memdb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid"

	"ideaboard/pkg/storage"
)

type voteKey struct {
	postID   uuid.UUID
	identity string
}

// Store is an in-memory storage.Storage used in development mode, in tests,
// and as a fallback when Mongo is unreachable. The mutex serializes every
// operation, so the vote toggle's lookup-then-act sequence cannot race.
type Store struct {
	mu       sync.Mutex
	posts    map[uuid.UUID]storage.Post
	votes    map[voteKey]storage.Vote
	comments map[uuid.UUID]storage.Comment
}

func New() *Store {
	db := Store{
		posts:    make(map[uuid.UUID]storage.Post),
		votes:    make(map[voteKey]storage.Vote),
		comments: make(map[uuid.UUID]storage.Comment),
	}

	return &db
}

func (db *Store) AddPost(ctx context.Context, post storage.Post) (storage.Post, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if post.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return storage.Post{}, err
		}
		post.ID = id
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = post.CreatedAt
	}

	db.posts[post.ID] = post

	return post, nil
}

func (db *Store) Post(ctx context.Context, id uuid.UUID) (storage.Post, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	post, ok := db.posts[id]
	if !ok {
		return storage.Post{}, storage.ErrPostNotFound
	}

	return post, nil
}

func (db *Store) Posts(ctx context.Context, q storage.FeedQuery) ([]storage.Post, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = storage.DefaultPageSize
	}
	if q.PageSize > storage.MaxPageSize {
		q.PageSize = storage.MaxPageSize
	}

	since, bounded := q.TimeRange.Since(time.Now().UTC())

	db.mu.Lock()
	matched := make([]storage.Post, 0, len(db.posts))
	for _, p := range db.posts {
		if bounded && p.CreatedAt.Before(since) {
			continue
		}
		matched = append(matched, p)
	}
	db.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return feedLess(matched[i], matched[j], q.SortBy)
	})

	total := len(matched)
	// Compared with division: (q.Page-1)*q.PageSize overflows int for huge
	// page numbers, and any page past the last is just the empty page.
	if q.Page-1 > (total-1)/q.PageSize {
		return []storage.Post{}, total, nil
	}
	start := (q.Page - 1) * q.PageSize
	end := start + q.PageSize
	if end > total {
		end = total
	}

	return matched[start:end], total, nil
}

// feedLess orders posts descending by the selected sort key, breaking ties
// by creation time and then ID so pagination stays stable.
func feedLess(a, b storage.Post, key storage.SortBy) bool {
	switch key {
	case storage.SortByComments:
		if a.CommentsCount != b.CommentsCount {
			return a.CommentsCount > b.CommentsCount
		}
	case storage.SortByRecent:
	default:
		if a.VotesCount != b.VotesCount {
			return a.VotesCount > b.VotesCount
		}
	}

	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func (db *Store) ToggleVote(ctx context.Context, postID uuid.UUID, identity string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	post, ok := db.posts[postID]
	if !ok {
		return false, storage.ErrPostNotFound
	}

	key := voteKey{postID, identity}
	now := time.Now().UTC()

	if _, ok := db.votes[key]; ok {
		delete(db.votes, key)
		post.VotesCount--
		post.UpdatedAt = now
		db.posts[postID] = post

		return false, nil
	}

	id, err := uuid.NewV4()
	if err != nil {
		return false, err
	}
	db.votes[key] = storage.Vote{ID: id, PostID: postID, Identity: identity, CreatedAt: now}
	post.VotesCount++
	post.UpdatedAt = now
	db.posts[postID] = post

	return true, nil
}

func (db *Store) Voted(ctx context.Context, identity string, postIDs ...uuid.UUID) (map[uuid.UUID]bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	voted := make(map[uuid.UUID]bool, len(postIDs))
	for _, id := range postIDs {
		if _, ok := db.votes[voteKey{id, identity}]; ok {
			voted[id] = true
		}
	}

	return voted, nil
}

func (db *Store) AddComment(ctx context.Context, comment storage.Comment) (storage.Comment, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	post, ok := db.posts[comment.PostID]
	if !ok {
		return storage.Comment{}, storage.ErrPostNotFound
	}

	if comment.ParentID != nil {
		parent, ok := db.comments[*comment.ParentID]
		if !ok || parent.PostID != comment.PostID {
			return storage.Comment{}, storage.ErrInvalidParent
		}
	}

	if comment.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return storage.Comment{}, err
		}
		comment.ID = id
	}
	now := time.Now().UTC()
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = now
	}

	db.comments[comment.ID] = comment
	post.CommentsCount++
	post.UpdatedAt = now
	db.posts[post.ID] = post

	return comment, nil
}

func (db *Store) Comments(ctx context.Context, postID uuid.UUID) ([]storage.Comment, error) {
	db.mu.Lock()
	if _, ok := db.posts[postID]; !ok {
		db.mu.Unlock()
		return nil, storage.ErrPostNotFound
	}

	comments := make([]storage.Comment, 0)
	for _, c := range db.comments {
		if c.PostID == postID {
			comments = append(comments, c)
		}
	}
	db.mu.Unlock()

	sort.Slice(comments, func(i, j int) bool {
		if !comments[i].CreatedAt.Equal(comments[j].CreatedAt) {
			return comments[i].CreatedAt.After(comments[j].CreatedAt)
		}
		return comments[i].ID.String() < comments[j].ID.String()
	})

	return comments, nil
}

func (db *Store) CommentCounts(ctx context.Context, postIDs ...uuid.UUID) (map[uuid.UUID]int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	want := make(map[uuid.UUID]bool, len(postIDs))
	for _, id := range postIDs {
		want[id] = true
	}

	counts := make(map[uuid.UUID]int, len(postIDs))
	for _, c := range db.comments {
		if want[c.PostID] {
			counts[c.PostID]++
		}
	}

	return counts, nil
}

func (db *Store) ReconcileVoteCounts(ctx context.Context) (int, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tallies := make(map[uuid.UUID]int, len(db.posts))
	for key := range db.votes {
		tallies[key.postID]++
	}

	var fixed int
	for id, post := range db.posts {
		if want := tallies[id]; post.VotesCount != want {
			post.VotesCount = want
			db.posts[id] = post
			fixed++
		}
	}

	return fixed, nil
}

func (db *Store) Reset(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.posts = make(map[uuid.UUID]storage.Post)
	db.votes = make(map[voteKey]storage.Vote)
	db.comments = make(map[uuid.UUID]storage.Comment)

	return nil
}

func (db *Store) Stats(ctx context.Context) (storage.Stats, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	return storage.Stats{
		Backend:  "memdb",
		Posts:    len(db.posts),
		Votes:    len(db.votes),
		Comments: len(db.comments),
	}, nil
}
