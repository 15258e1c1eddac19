package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"

	"ideaboard/pkg/storage"
	"ideaboard/pkg/storage/memdb"
)

const testRequestID = "9b4f6c5d-1a32-4d8f-b5a6-23c9e1f7d2a1"

func TestMain(m *testing.M) {
	log.SetLevel(log.PanicLevel)
	exitCode := m.Run()
	os.Exit(exitCode)
}

func newTestAPI(t *testing.T) (*API, *memdb.Store) {
	t.Helper()

	db := memdb.New()
	return New("ideaboard-test", db, nil, ""), db
}

func doRequest(t *testing.T, api *API, method, target, remoteAddr string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		rd = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("X-Request-Id", testRequestID)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rr := httptest.NewRecorder()
	api.Router().ServeHTTP(rr, req)

	return rr
}

func mustAddPost(t *testing.T, db *memdb.Store, title string) storage.Post {
	t.Helper()

	post, err := db.AddPost(context.Background(), storage.Post{
		Title:       title,
		Description: "Test description",
	})
	if err != nil {
		t.Fatalf("failed to add post %q: %v", title, err)
	}

	return post
}

func TestAPI_createPost(t *testing.T) {
	api, _ := newTestAPI(t)

	payload := PostCreate{
		Title:       "AI Code Review Buddy",
		Description: "Reviews pull requests and suggests fixes before a human ever looks.",
		URL:         "https://example.com/review-buddy",
	}
	rr := doRequest(t, api, http.MethodPost, "/api/posts", "", payload)
	if rr.Code != http.StatusCreated {
		t.Fatalf("want status code %v, got status code %v: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}

	var created storage.Post
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if created.ID == uuid.Nil {
		t.Error("want generated post ID in response")
	}
	if created.Title != payload.Title {
		t.Errorf("want title %q, got %q", payload.Title, created.Title)
	}
	if created.VotesCount != 0 || created.CommentsCount != 0 {
		t.Errorf("want zero counters on a new post, got votes %d comments %d",
			created.VotesCount, created.CommentsCount)
	}
	if created.CreatedAt.IsZero() {
		t.Error("want created_at set on a new post")
	}
}

func TestAPI_createPostInvalid(t *testing.T) {
	api, _ := newTestAPI(t)

	tests := []struct {
		name    string
		payload PostCreate
	}{
		{
			name:    "title too short",
			payload: PostCreate{Title: "ab", Description: "Long enough description"},
		},
		{
			name:    "description too short",
			payload: PostCreate{Title: "Fine title", Description: "ab"},
		},
		{
			name:    "broken url",
			payload: PostCreate{Title: "Fine title", Description: "Long enough description", URL: "not-a-url"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, api, http.MethodPost, "/api/posts", "", tt.payload)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("want status code %v, got status code %v", http.StatusBadRequest, rr.Code)
			}
		})
	}

	t.Run("malformed json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/posts", strings.NewReader("{"))
		req.Header.Set("X-Request-Id", testRequestID)
		rr := httptest.NewRecorder()
		api.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("want status code %v, got status code %v", http.StatusBadRequest, rr.Code)
		}
	})
}

func TestAPI_feed(t *testing.T) {
	api, db := newTestAPI(t)
	ctx := context.Background()

	first := mustAddPost(t, db, "First idea")
	second := mustAddPost(t, db, "Second idea")

	if _, err := db.ToggleVote(ctx, first.ID, "192.0.2.50"); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	if _, err := db.AddComment(ctx, storage.Comment{PostID: second.ID, Content: "nice"}); err != nil {
		t.Fatalf("unexpected comment error: %v", err)
	}

	rr := doRequest(t, api, http.MethodGet, "/api/posts?sort_by=recent", "192.0.2.50:4321", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	var resp FeedResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("want total 2, got %d", resp.Total)
	}
	if resp.Page != 1 || resp.PageSize != storage.DefaultPageSize {
		t.Errorf("want default page 1 and page_size %d, got %d and %d",
			storage.DefaultPageSize, resp.Page, resp.PageSize)
	}
	if len(resp.Items) != 2 {
		t.Fatalf("want 2 items, got %d", len(resp.Items))
	}

	for _, item := range resp.Items {
		switch item.ID {
		case first.ID:
			if !item.Voted {
				t.Error("want voted=true for the caller's voted post")
			}
		case second.ID:
			if item.CommentsCount != 1 {
				t.Errorf("want live comments_count 1, got %d", item.CommentsCount)
			}
			if item.Voted {
				t.Error("want voted=false for a post the caller has not voted on")
			}
		default:
			t.Errorf("unexpected post %v in feed", item.ID)
		}
	}
}

func TestAPI_feedBadParams(t *testing.T) {
	api, _ := newTestAPI(t)

	tests := []struct {
		name   string
		target string
	}{
		{name: "unknown time_range", target: "/api/posts?time_range=daily"},
		{name: "unknown sort_by", target: "/api/posts?sort_by=title"},
		{name: "zero page", target: "/api/posts?page=0"},
		{name: "non-numeric page", target: "/api/posts?page=abc"},
		{name: "page_size above cap", target: "/api/posts?page_size=100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, api, http.MethodGet, tt.target, "", nil)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("want status code %v, got status code %v", http.StatusBadRequest, rr.Code)
			}
		})
	}
}

func TestAPI_feedPageBeyondEnd(t *testing.T) {
	api, db := newTestAPI(t)
	mustAddPost(t, db, "Only")

	// Any page past the last is a valid request for an empty page, up to
	// and including the largest value Atoi accepts.
	for _, target := range []string{
		"/api/posts?page=2",
		"/api/posts?page=9223372036854775807",
	} {
		rr := doRequest(t, api, http.MethodGet, target, "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: want status code %v, got status code %v: %s", target, http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp FeedResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("%s: failed to decode response: %v", target, err)
		}
		if len(resp.Items) != 0 {
			t.Errorf("%s: want empty items, got %d", target, len(resp.Items))
		}
		if resp.Total != 1 {
			t.Errorf("%s: want total 1, got %d", target, resp.Total)
		}
	}
}

func TestAPI_voteScenario(t *testing.T) {
	api, db := newTestAPI(t)
	post := mustAddPost(t, db, "Widget")

	steps := []struct {
		remoteAddr string
		wantVoted  bool
		wantCount  int
	}{
		{"192.0.2.1:1111", true, 1},
		{"192.0.2.1:2222", false, 0}, // same host, different port: same identity
		{"192.0.2.2:1111", true, 1},
	}

	for i, step := range steps {
		rr := doRequest(t, api, http.MethodPost, "/api/posts/"+post.ID.String()+"/vote", step.remoteAddr, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("step %d: want status code %v, got status code %v: %s",
				i+1, http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp VoteResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("step %d: failed to decode response: %v", i+1, err)
		}
		if resp.Voted != step.wantVoted {
			t.Errorf("step %d: want voted %v, got %v", i+1, step.wantVoted, resp.Voted)
		}
		if resp.Post.VotesCount != step.wantCount {
			t.Errorf("step %d: want votes_count %d, got %d", i+1, step.wantCount, resp.Post.VotesCount)
		}
		if resp.Post.Voted != step.wantVoted {
			t.Errorf("step %d: want post voted flag %v, got %v", i+1, step.wantVoted, resp.Post.Voted)
		}
	}
}

func TestAPI_voteUnknownPost(t *testing.T) {
	api, _ := newTestAPI(t)

	target := "/api/posts/" + uuid.Must(uuid.NewV4()).String() + "/vote"
	rr := doRequest(t, api, http.MethodPost, target, "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("want status code %v, got status code %v", http.StatusNotFound, rr.Code)
	}
}

func TestAPI_malformedPostID(t *testing.T) {
	api, db := newTestAPI(t)
	mustAddPost(t, db, "Widget")

	tests := []struct {
		name   string
		method string
		target string
	}{
		{name: "detail", method: http.MethodGet, target: "/api/posts/123"},
		{name: "vote", method: http.MethodPost, target: "/api/posts/not-a-uuid/vote"},
		{name: "comments", method: http.MethodGet, target: "/api/posts/123/comments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, api, tt.method, tt.target, "", nil)
			if rr.Code != http.StatusNotFound {
				t.Fatalf("want status code %v, got status code %v", http.StatusNotFound, rr.Code)
			}
		})
	}
}

func TestAPI_postDetail(t *testing.T) {
	api, db := newTestAPI(t)
	ctx := context.Background()
	post := mustAddPost(t, db, "Widget")

	if _, err := db.ToggleVote(ctx, post.ID, "192.0.2.9"); err != nil {
		t.Fatalf("unexpected toggle error: %v", err)
	}
	for _, content := range []string{"first", "second"} {
		if _, err := db.AddComment(ctx, storage.Comment{PostID: post.ID, Content: content}); err != nil {
			t.Fatalf("unexpected comment error: %v", err)
		}
	}

	rr := doRequest(t, api, http.MethodGet, "/api/posts/"+post.ID.String(), "192.0.2.9:7777", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v: %s", http.StatusOK, rr.Code, rr.Body.String())
	}

	var got storage.Post
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !got.Voted {
		t.Error("want voted=true for the voting caller")
	}
	if got.CommentsCount != 2 {
		t.Errorf("want live comments_count 2, got %d", got.CommentsCount)
	}

	// A different caller sees the same post unvoted.
	rr = doRequest(t, api, http.MethodGet, "/api/posts/"+post.ID.String(), "192.0.2.100:7777", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
	}
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Voted {
		t.Error("want voted=false for a caller who has not voted")
	}
}

func TestAPI_comments(t *testing.T) {
	api, db := newTestAPI(t)
	post := mustAddPost(t, db, "Widget")
	other := mustAddPost(t, db, "Other")

	target := "/api/posts/" + post.ID.String() + "/comments"

	rr := doRequest(t, api, http.MethodPost, target, "", CommentCreate{Author: "Maya", Content: "Count me in"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("want status code %v, got status code %v: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	rawRoot := rr.Body.String()
	var root storage.Comment
	if err := json.Unmarshal([]byte(rawRoot), &root); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if root.ID == uuid.Nil || root.PostID != post.ID {
		t.Errorf("want stored comment for post %v, got %+v", post.ID, root)
	}
	// A top-level comment has no parent_id field at all, not a zero UUID.
	if strings.Contains(rawRoot, "parent_id") {
		t.Errorf("want parent_id omitted from a top-level comment, got %s", rawRoot)
	}

	rr = doRequest(t, api, http.MethodPost, target, "", CommentCreate{Content: "Me too", ParentID: &root.ID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("want status code %v for reply, got status code %v: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	var reply storage.Comment
	if err := json.NewDecoder(rr.Body).Decode(&reply); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if reply.ParentID == nil || *reply.ParentID != root.ID {
		t.Errorf("want reply parent %v, got %v", root.ID, reply.ParentID)
	}

	t.Run("parent on another post", func(t *testing.T) {
		otherTarget := "/api/posts/" + other.ID.String() + "/comments"
		rr := doRequest(t, api, http.MethodPost, otherTarget, "", CommentCreate{Content: "wrong thread", ParentID: &root.ID})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("want status code %v, got status code %v", http.StatusBadRequest, rr.Code)
		}
	})

	t.Run("empty content", func(t *testing.T) {
		rr := doRequest(t, api, http.MethodPost, target, "", CommentCreate{Author: "Maya"})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("want status code %v, got status code %v", http.StatusBadRequest, rr.Code)
		}
	})

	t.Run("unknown post", func(t *testing.T) {
		missing := "/api/posts/" + uuid.Must(uuid.NewV4()).String() + "/comments"
		rr := doRequest(t, api, http.MethodGet, missing, "", nil)
		if rr.Code != http.StatusNotFound {
			t.Fatalf("want status code %v, got status code %v", http.StatusNotFound, rr.Code)
		}
	})

	rr = doRequest(t, api, http.MethodGet, target, "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
	}
	var list []storage.Comment
	if err := json.NewDecoder(rr.Body).Decode(&list); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("want 2 comments, got %d", len(list))
	}
	if list[0].ID != reply.ID {
		t.Errorf("want newest comment first, got %+v", list[0])
	}
}

func TestAPI_nilStore(t *testing.T) {
	api := New("ideaboard-test", nil, nil, "")
	postID := uuid.Must(uuid.NewV4()).String()

	tests := []struct {
		name   string
		method string
		target string
	}{
		{name: "feed", method: http.MethodGet, target: "/api/posts"},
		{name: "create post", method: http.MethodPost, target: "/api/posts"},
		{name: "detail", method: http.MethodGet, target: "/api/posts/" + postID},
		{name: "vote", method: http.MethodPost, target: "/api/posts/" + postID + "/vote"},
		{name: "comments", method: http.MethodGet, target: "/api/posts/" + postID + "/comments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, api, tt.method, tt.target, "", nil)
			if rr.Code != http.StatusServiceUnavailable {
				t.Fatalf("want status code %v, got status code %v", http.StatusServiceUnavailable, rr.Code)
			}
		})
	}

	t.Run("root still answers", func(t *testing.T) {
		rr := doRequest(t, api, http.MethodGet, "/", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
		}
	})

	t.Run("diagnostics reports missing store", func(t *testing.T) {
		rr := doRequest(t, api, http.MethodGet, "/test", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("want status code %v, got status code %v", http.StatusOK, rr.Code)
		}
		var resp DiagnosticsResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != "running" || resp.Database != "not configured" {
			t.Errorf("want running/not configured, got %q/%q", resp.Status, resp.Database)
		}
	})
}

func TestAPI_seed(t *testing.T) {
	t.Run("locked without configured token", func(t *testing.T) {
		api, _ := newTestAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/seed", nil)
		req.Header.Set("X-Request-Id", testRequestID)
		req.Header.Set("X-Admin-Token", "anything")
		rr := httptest.NewRecorder()
		api.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("want status code %v, got status code %v", http.StatusForbidden, rr.Code)
		}
	})

	db := memdb.New()
	api := New("ideaboard-test", db, nil, "hunter2")

	t.Run("wrong token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/seed", nil)
		req.Header.Set("X-Request-Id", testRequestID)
		req.Header.Set("X-Admin-Token", "guess")
		rr := httptest.NewRecorder()
		api.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Fatalf("want status code %v, got status code %v", http.StatusForbidden, rr.Code)
		}
	})

	t.Run("valid token reseeds", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/seed", nil)
		req.Header.Set("X-Request-Id", testRequestID)
		req.Header.Set("X-Admin-Token", "hunter2")
		rr := httptest.NewRecorder()
		api.Router().ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("want status code %v, got status code %v: %s", http.StatusOK, rr.Code, rr.Body.String())
		}

		var resp SeedResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Status != "reseeded" {
			t.Errorf("want status %q, got %q", "reseeded", resp.Status)
		}
		if resp.Posts != 4 || resp.Votes != 55 || resp.Comments != 13 {
			t.Errorf("want 4 posts, 55 votes, 13 comments, got %+v", resp)
		}
	})
}
