package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"ideaboard/pkg/storage"
)

var (
	ErrConnectDB       = fmt.Errorf("unable to establish DB connection")
	ErrDBNotResponding = fmt.Errorf("DB not responding")
)

const (
	postCollection    = "post"
	voteCollection    = "vote"
	commentCollection = "comment"
)

type Storage struct {
	client *mongo.Client
	dbName string
}

// New connects to Mongo and prepares the three collections. The vote
// collection carries a unique compound index on (post_id, identity); the
// toggle relies on it to turn concurrent duplicate inserts into
// duplicate-key errors instead of double votes.
func New(ctx context.Context, conf *Config) (*Storage, error) {
	client, err := mongo.Connect(ctx, conf.Options())
	if err != nil {
		return nil, err
	}

	s := Storage{client: client, dbName: conf.DBName}
	for _, name := range []string{postCollection, voteCollection, commentCollection} {
		if err := s.createCollection(ctx, name); err != nil {
			return nil, err
		}
	}
	if err := s.createVoteIndex(ctx); err != nil {
		return nil, err
	}

	return &s, nil
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Storage) Close(ctx context.Context) {
	s.client.Disconnect(ctx)
}

func (s *Storage) collection(name string) *mongo.Collection {
	return s.client.Database(s.dbName).Collection(name)
}

func (s *Storage) AddPost(ctx context.Context, post storage.Post) (storage.Post, error) {
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

	if _, err := s.collection(postCollection).InsertOne(ctx, post); err != nil {
		return storage.Post{}, err
	}

	return post, nil
}

func (s *Storage) Post(ctx context.Context, id uuid.UUID) (storage.Post, error) {
	var post storage.Post
	err := s.collection(postCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return storage.Post{}, storage.ErrPostNotFound
		}
		return storage.Post{}, err
	}

	return post, nil
}

func (s *Storage) Posts(ctx context.Context, q storage.FeedQuery) ([]storage.Post, int, error) {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = storage.DefaultPageSize
	}
	if q.PageSize > storage.MaxPageSize {
		q.PageSize = storage.MaxPageSize
	}

	filter := bson.M{}
	if since, bounded := q.TimeRange.Since(time.Now().UTC()); bounded {
		filter["created_at"] = bson.M{"$gte": since}
	}

	sortField := "votes_count"
	switch q.SortBy {
	case storage.SortByComments:
		sortField = "comments_count"
	case storage.SortByRecent:
		sortField = "created_at"
	}

	total, err := s.collection(postCollection).CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	// Compared with division: (q.Page-1)*q.PageSize overflows for huge page
	// numbers and would hand Find a negative skip. Any page past the last is
	// just the empty page.
	if int64(q.Page-1) > (total-1)/int64(q.PageSize) {
		return []storage.Post{}, int(total), nil
	}

	opts := options.Find().
		SetSort(bson.D{{Key: sortField, Value: -1}}).
		SetSkip(int64((q.Page - 1) * q.PageSize)).
		SetLimit(int64(q.PageSize))

	cur, err := s.collection(postCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}

	posts := make([]storage.Post, 0, q.PageSize)
	if err := cur.All(ctx, &posts); err != nil {
		return nil, 0, err
	}

	return posts, int(total), nil
}

// ToggleVote flips the vote state with conditional-write primitives instead
// of a lookup-then-act sequence: DeleteOne proves the pair was voted, an
// InsertOne guarded by the unique index proves it was not. A duplicate-key
// error on insert means a concurrent toggle already recorded the vote, so
// the pair is voted and the winner already bumped the counter.
func (s *Storage) ToggleVote(ctx context.Context, postID uuid.UUID, identity string) (bool, error) {
	n, err := s.collection(postCollection).CountDocuments(ctx, bson.M{"_id": postID})
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, storage.ErrPostNotFound
	}

	votes := s.collection(voteCollection)

	res, err := votes.DeleteOne(ctx, bson.M{"post_id": postID, "identity": identity})
	if err != nil {
		return false, err
	}
	if res.DeletedCount > 0 {
		return false, s.bumpVotes(ctx, postID, -1)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return false, err
	}
	vote := storage.Vote{ID: id, PostID: postID, Identity: identity, CreatedAt: time.Now().UTC()}
	if _, err := votes.InsertOne(ctx, vote); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return true, nil
		}
		return false, err
	}

	return true, s.bumpVotes(ctx, postID, +1)
}

// bumpVotes applies one atomic counter mutation and refreshes updated_at.
func (s *Storage) bumpVotes(ctx context.Context, postID uuid.UUID, delta int) error {
	res, err := s.collection(postCollection).UpdateOne(ctx,
		bson.M{"_id": postID},
		bson.M{
			"$inc": bson.M{"votes_count": delta},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return storage.ErrPostNotFound
	}

	return nil
}

func (s *Storage) Voted(ctx context.Context, identity string, postIDs ...uuid.UUID) (map[uuid.UUID]bool, error) {
	cur, err := s.collection(voteCollection).Find(ctx, bson.M{
		"identity": identity,
		"post_id":  bson.M{"$in": postIDs},
	})
	if err != nil {
		return nil, err
	}

	var votes []storage.Vote
	if err := cur.All(ctx, &votes); err != nil {
		return nil, err
	}

	voted := make(map[uuid.UUID]bool, len(votes))
	for _, v := range votes {
		voted[v.PostID] = true
	}

	return voted, nil
}

func (s *Storage) AddComment(ctx context.Context, comment storage.Comment) (storage.Comment, error) {
	n, err := s.collection(postCollection).CountDocuments(ctx, bson.M{"_id": comment.PostID})
	if err != nil {
		return storage.Comment{}, err
	}
	if n == 0 {
		return storage.Comment{}, storage.ErrPostNotFound
	}

	if comment.ParentID != nil {
		cnt, err := s.collection(commentCollection).CountDocuments(ctx, bson.M{
			"_id":     *comment.ParentID,
			"post_id": comment.PostID,
		})
		if err != nil {
			return storage.Comment{}, err
		}
		if cnt == 0 {
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
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}

	if _, err := s.collection(commentCollection).InsertOne(ctx, comment); err != nil {
		return storage.Comment{}, err
	}

	// The stored counter tracks AddComment activity; list responses still
	// recount live via CommentCounts.
	_, err = s.collection(postCollection).UpdateOne(ctx,
		bson.M{"_id": comment.PostID},
		bson.M{
			"$inc": bson.M{"comments_count": 1},
			"$set": bson.M{"updated_at": time.Now().UTC()},
		})
	if err != nil {
		return storage.Comment{}, err
	}

	return comment, nil
}

func (s *Storage) Comments(ctx context.Context, postID uuid.UUID) ([]storage.Comment, error) {
	n, err := s.collection(postCollection).CountDocuments(ctx, bson.M{"_id": postID})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, storage.ErrPostNotFound
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.collection(commentCollection).Find(ctx, bson.M{"post_id": postID}, opts)
	if err != nil {
		return nil, err
	}

	comments := make([]storage.Comment, 0)
	if err := cur.All(ctx, &comments); err != nil {
		return nil, err
	}

	return comments, nil
}

func (s *Storage) CommentCounts(ctx context.Context, postIDs ...uuid.UUID) (map[uuid.UUID]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"post_id": bson.M{"$in": postIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$post_id", "count": bson.M{"$sum": 1}}}},
	}

	cur, err := s.collection(commentCollection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		PostID uuid.UUID `bson:"_id"`
		Count  int       `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		counts[row.PostID] = row.Count
	}

	return counts, nil
}

func (s *Storage) ReconcileVoteCounts(ctx context.Context) (int, error) {
	cur, err := s.collection(voteCollection).Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{"_id": "$post_id", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return 0, err
	}

	var rows []struct {
		PostID uuid.UUID `bson:"_id"`
		Count  int       `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, err
	}

	tallies := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		tallies[row.PostID] = row.Count
	}

	posts := s.collection(postCollection)
	cur, err = posts.Find(ctx, bson.M{})
	if err != nil {
		return 0, err
	}

	var all []storage.Post
	if err := cur.All(ctx, &all); err != nil {
		return 0, err
	}

	var fixed int
	for _, p := range all {
		want := tallies[p.ID]
		if p.VotesCount == want {
			continue
		}
		// No updated_at refresh: repair is not user activity.
		_, err := posts.UpdateOne(ctx, bson.M{"_id": p.ID}, bson.M{"$set": bson.M{"votes_count": want}})
		if err != nil {
			return fixed, err
		}
		fixed++
	}

	return fixed, nil
}

func (s *Storage) Reset(ctx context.Context) error {
	for _, name := range []string{postCollection, voteCollection, commentCollection} {
		if _, err := s.collection(name).DeleteMany(ctx, bson.M{}); err != nil {
			return err
		}
	}

	return nil
}

func (s *Storage) Stats(ctx context.Context) (storage.Stats, error) {
	st := storage.Stats{Backend: "mongo", DBName: s.dbName}

	posts, err := s.collection(postCollection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return storage.Stats{}, err
	}
	votes, err := s.collection(voteCollection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return storage.Stats{}, err
	}
	comments, err := s.collection(commentCollection).CountDocuments(ctx, bson.M{})
	if err != nil {
		return storage.Stats{}, err
	}

	st.Posts, st.Votes, st.Comments = int(posts), int(votes), int(comments)

	return st, nil
}

// createCollection creates a collection with the given name in the database if it doesn't already exist.
func (s *Storage) createCollection(ctx context.Context, collName string) error {
	collExists, err := collectionExists(ctx, s.client.Database(s.dbName), collName)
	if err != nil {
		return err
	}

	if !collExists {
		err := s.client.Database(s.dbName).CreateCollection(ctx, collName)
		if err != nil {
			return err
		}
	}

	return nil
}

// collectionExists checks if a collection with the given name exists in the database.
func collectionExists(ctx context.Context, db *mongo.Database, collName string) (bool, error) {
	names, err := db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return false, fmt.Errorf("failed to list collection names: %w", err)
	}

	for _, name := range names {
		if name == collName {
			return true, nil
		}
	}

	return false, nil
}

func (s *Storage) createVoteIndex(ctx context.Context) error {
	_, err := s.collection(voteCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "post_id", Value: 1}, {Key: "identity", Value: 1}},
		Options: options.Index().SetUnique(true),
	})

	return err
}
