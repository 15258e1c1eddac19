package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

var (
	ErrPostNotFound  = fmt.Errorf("post not found")
	ErrInvalidParent = fmt.Errorf("parent comment invalid")
	ErrInvalidInput  = fmt.Errorf("invalid input")
)

// Post is an idea submitted to the board.
//
// VotesCount is a denormalized cache of the vote ledger cardinality for this
// post, updated atomically on every vote toggle. CommentsCount is also stored
// and kept in step by AddComment, but readers treat it as advisory: list
// responses overwrite it with a live count over the comment collection.
// Voted is never persisted; it is joined in per requesting identity.
type Post struct {
	ID            uuid.UUID `bson:"_id" json:"id"`
	Title         string    `bson:"title" json:"title"`
	Description   string    `bson:"description" json:"description"`
	URL           string    `bson:"url,omitempty" json:"url,omitempty"`
	VotesCount    int       `bson:"votes_count" json:"votes_count"`
	CommentsCount int       `bson:"comments_count" json:"comments_count"`
	Voted         bool      `bson:"-" json:"voted"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updated_at"`
}

// Vote is one active entry in the vote ledger. At most one vote exists per
// (post, identity) pair; toggling off removes the entry rather than marking it.
type Vote struct {
	ID        uuid.UUID `bson:"_id" json:"id"`
	PostID    uuid.UUID `bson:"post_id" json:"post_id"`
	Identity  string    `bson:"identity" json:"identity"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// Comment belongs to a post. ParentID is nil for top-level comments;
// otherwise it references another comment on the same post. Threading is
// reconstructed by the client from the flat list. The pointer keeps the
// field out of serialized top-level comments entirely: omitempty never
// fires on a uuid value, which is a 16-byte array.
type Comment struct {
	ID        uuid.UUID  `bson:"_id" json:"id"`
	PostID    uuid.UUID  `bson:"post_id" json:"post_id"`
	ParentID  *uuid.UUID `bson:"parent_id,omitempty" json:"parent_id,omitempty"`
	Author    string     `bson:"author,omitempty" json:"author,omitempty"`
	Content   string     `bson:"content" json:"content"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
}

// Stats reports per-collection document counts for diagnostics.
type Stats struct {
	Backend  string `json:"backend"`
	DBName   string `json:"db_name,omitempty"`
	Posts    int    `json:"posts"`
	Votes    int    `json:"votes"`
	Comments int    `json:"comments"`
}

// Storage is the document store surface the API is built on. Implementations
// must be safe for concurrent use.
type Storage interface {
	// AddPost inserts a post and returns it with ID and timestamps assigned.
	// A zero ID or zero timestamps are generated; supplied values are kept.
	AddPost(ctx context.Context, post Post) (Post, error)

	// Post returns a single post by ID or ErrPostNotFound.
	Post(ctx context.Context, id uuid.UUID) (Post, error)

	// Posts returns one page of the feed plus the total number of posts
	// matching the time-range filter. Sorting by comments orders on the
	// stored comments_count field; callers overwrite the returned counts
	// with live values (see Feed).
	Posts(ctx context.Context, q FeedQuery) ([]Post, int, error)

	// ToggleVote flips the (post, identity) vote state and adjusts the
	// post's votes_count by the matching delta. It reports the resulting
	// state: true if the identity now has an active vote on the post.
	// Returns ErrPostNotFound if the post does not exist.
	ToggleVote(ctx context.Context, postID uuid.UUID, identity string) (bool, error)

	// Voted reports which of the given posts the identity has an active
	// vote on. Posts absent from the result map are unvoted.
	Voted(ctx context.Context, identity string, postIDs ...uuid.UUID) (map[uuid.UUID]bool, error)

	// AddComment inserts a comment and returns it with ID and timestamp
	// assigned. The post must exist (ErrPostNotFound) and a non-nil parent
	// must reference a comment on the same post (ErrInvalidParent).
	AddComment(ctx context.Context, comment Comment) (Comment, error)

	// Comments returns all comments for a post, newest first. Returns
	// ErrPostNotFound if the post does not exist; a post with no comments
	// yields an empty, non-nil slice.
	Comments(ctx context.Context, postID uuid.UUID) ([]Comment, error)

	// CommentCounts counts comments per post with one grouped query.
	// Posts with no comments are absent from the result map.
	CommentCounts(ctx context.Context, postIDs ...uuid.UUID) (map[uuid.UUID]int, error)

	// ReconcileVoteCounts rewrites votes_count to the vote ledger
	// cardinality on every post where the two disagree and reports how
	// many posts were repaired. It does not touch updated_at.
	ReconcileVoteCounts(ctx context.Context) (int, error)

	// Reset deletes every document in all collections.
	Reset(ctx context.Context) error

	// Stats returns document counts for diagnostics.
	Stats(ctx context.Context) (Stats, error)
}
