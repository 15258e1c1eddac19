package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofrs/uuid"
	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"ideaboard/pkg/storage"
)

const uuidPattern = "[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}"

type API struct {
	ServiceName string
	db          storage.Storage
	r           *mux.Router
	kw          *kafka.Writer
	adminToken  string
}

// New assembles the API with its routes and middleware. db may be nil when
// no store could be configured; handlers then answer with 503 instead of
// failing at startup. kafkaWriter and adminToken are optional: without a
// writer no request logs are shipped, without a token /seed stays locked.
func New(name string, db storage.Storage, kafkaWriter *kafka.Writer, adminToken string) *API {
	api := API{
		ServiceName: name,
		db:          db,
		r:           mux.NewRouter(),
		kw:          kafkaWriter,
		adminToken:  adminToken,
	}
	api.endpoints()

	return &api
}

func (api *API) Router() *mux.Router {
	return api.r
}

func (api *API) endpoints() {
	api.r.Use(api.requestIDMiddleware)
	api.r.Use(api.headerMiddleware)

	if api.kw != nil {
		api.r.Use(api.loggingMiddleware(api.kw))
	}

	api.r.HandleFunc("/", api.rootHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/test", api.diagnosticsHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/seed", api.seedHandler).Methods(http.MethodPost)
	api.r.HandleFunc("/api/posts", api.feedHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/api/posts", api.createPostHandler).Methods(http.MethodPost)
	api.r.HandleFunc("/api/posts/{id:"+uuidPattern+"}", api.postDetailHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/api/posts/{id:"+uuidPattern+"}/vote", api.voteHandler).Methods(http.MethodPost)
	api.r.HandleFunc("/api/posts/{id:"+uuidPattern+"}/comments", api.listCommentsHandler).Methods(http.MethodGet)
	api.r.HandleFunc("/api/posts/{id:"+uuidPattern+"}/comments", api.addCommentHandler).Methods(http.MethodPost)
}

func (api *API) rootHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	if err := json.NewEncoder(w).Encode(MessageResponse{Message: "Idea Board API running"}); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[rootHandler][%s] failed to encode response data: %v", sID, err)
		return
	}

	log.Debugf("[rootHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}

func (api *API) diagnosticsHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	resp := DiagnosticsResponse{Status: "running", Database: "not configured"}
	if api.db != nil {
		stats, err := api.db.Stats(r.Context())
		if err != nil {
			resp.Database = "error"
			log.Errorf("[diagnosticsHandler][%s] Stats() returned error: %v", sID, err)
		} else {
			resp.Database = "connected"
			resp.Backend = stats.Backend
			resp.DBName = stats.DBName
			resp.Posts = stats.Posts
			resp.Votes = stats.Votes
			resp.Comments = stats.Comments
		}
	}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[diagnosticsHandler][%s] failed to encode response data: %v", sID, err)
		return
	}

	log.Debugf("[diagnosticsHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}

func (api *API) feedHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	if api.db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		log.Warnf("[feedHandler][%s] request rejected, storage not configured", sID)
		return
	}

	q, err := parseFeedQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		log.Debugf("[feedHandler][%s] bad query: %v", sID, err)
		return
	}

	items, total, err := storage.Feed(r.Context(), api.db, q)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[feedHandler][%s] Feed() returned error: %v", sID, err)
		return
	}

	resp := FeedResponse{Items: items, Total: total, Page: q.Page, PageSize: q.PageSize}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[feedHandler][%s] failed to encode response data: %v", sID, err)
		return
	}

	log.Debugf("[feedHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}

func (api *API) createPostHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	if api.db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		log.Warnf("[createPostHandler][%s] request rejected, storage not configured", sID)
		return
	}

	var payload PostCreate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		log.Debugf("[createPostHandler][%s] failed to decode request body: %v", sID, err)
		return
	}
	defer r.Body.Close()

	post := storage.Post{
		Title:       payload.Title,
		Description: payload.Description,
		URL:         payload.URL,
	}
	if err := storage.ValidatePost(post); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		log.Debugf("[createPostHandler][%s] invalid post: %v", sID, err)
		return
	}

	post, err := api.db.AddPost(r.Context(), post)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[createPostHandler][%s] AddPost() returned error: %v", sID, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(post); err != nil {
		log.Errorf("[createPostHandler][%s] failed to encode post data: %v", sID, err)
		return
	}

	log.Debugf("[createPostHandler][%s] post %v created by: %v", sID, post.ID, r.RemoteAddr)
}

func (api *API) postDetailHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	if api.db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		log.Warnf("[postDetailHandler][%s] request rejected, storage not configured", sID)
		return
	}

	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		log.Debugf("[postDetailHandler][%s] failed to parse post ID: %v", sID, err)
		return
	}

	post, err := api.db.Post(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrPostNotFound) {
			http.Error(w, "Post not found", http.StatusNotFound)
			log.Debugf("[postDetailHandler][%s] failed to retrieve post: %v", sID, err)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[postDetailHandler][%s] post ID:%v: %v", sID, id, err)
		return
	}

	post, err = api.joinLiveFields(r, post)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[postDetailHandler][%s] post ID:%v: %v", sID, id, err)
		return
	}

	if err := json.NewEncoder(w).Encode(post); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[postDetailHandler][%s] failed to encode post data: %v", sID, err)
		return
	}

	log.Debugf("[postDetailHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}

func (api *API) voteHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	if api.db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		log.Warnf("[voteHandler][%s] request rejected, storage not configured", sID)
		return
	}

	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		log.Debugf("[voteHandler][%s] failed to parse post ID: %v", sID, err)
		return
	}

	identity := ClientIdentity(r)
	voted, err := api.db.ToggleVote(r.Context(), id, identity)
	if err != nil {
		if errors.Is(err, storage.ErrPostNotFound) {
			http.Error(w, "Post not found", http.StatusNotFound)
			log.Debugf("[voteHandler][%s] failed to toggle vote: %v", sID, err)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[voteHandler][%s] ToggleVote() post ID:%v: %v", sID, id, err)
		return
	}

	post, err := api.db.Post(r.Context(), id)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[voteHandler][%s] post ID:%v: %v", sID, id, err)
		return
	}

	post, err = api.joinLiveFields(r, post)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[voteHandler][%s] post ID:%v: %v", sID, id, err)
		return
	}

	resp := VoteResponse{Voted: voted, Post: post}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[voteHandler][%s] failed to encode response data: %v", sID, err)
		return
	}

	log.Debugf("[voteHandler][%s] identity %s toggled post %v to voted=%v", sID, identity, id, voted)
}

func (api *API) addCommentHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	if api.db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		log.Warnf("[addCommentHandler][%s] request rejected, storage not configured", sID)
		return
	}

	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		log.Debugf("[addCommentHandler][%s] failed to parse post ID: %v", sID, err)
		return
	}

	var payload CommentCreate
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		log.Debugf("[addCommentHandler][%s] failed to decode request body: %v", sID, err)
		return
	}
	defer r.Body.Close()

	comment := storage.Comment{
		PostID:   id,
		ParentID: payload.ParentID,
		Author:   payload.Author,
		Content:  payload.Content,
	}
	if err := storage.ValidateComment(comment); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		log.Debugf("[addCommentHandler][%s] invalid comment: %v", sID, err)
		return
	}

	comment, err = api.db.AddComment(r.Context(), comment)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrPostNotFound):
			http.Error(w, "Post not found", http.StatusNotFound)
			log.Debugf("[addCommentHandler][%s] failed to add comment: %v", sID, err)
		case errors.Is(err, storage.ErrInvalidParent):
			http.Error(w, err.Error(), http.StatusBadRequest)
			log.Debugf("[addCommentHandler][%s] failed to add comment: %v", sID, err)
		default:
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			log.Errorf("[addCommentHandler][%s] AddComment() post ID:%v: %v", sID, id, err)
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(comment); err != nil {
		log.Errorf("[addCommentHandler][%s] failed to encode comment data: %v", sID, err)
		return
	}

	log.Debugf("[addCommentHandler][%s] comment %v added to post %v", sID, comment.ID, id)
}

func (api *API) listCommentsHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	if api.db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		log.Warnf("[listCommentsHandler][%s] request rejected, storage not configured", sID)
		return
	}

	id, err := uuid.FromString(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		log.Debugf("[listCommentsHandler][%s] failed to parse post ID: %v", sID, err)
		return
	}

	comments, err := api.db.Comments(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrPostNotFound) {
			http.Error(w, "Post not found", http.StatusNotFound)
			log.Debugf("[listCommentsHandler][%s] failed to list comments: %v", sID, err)
			return
		}
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[listCommentsHandler][%s] Comments() post ID:%v: %v", sID, id, err)
		return
	}

	if err := json.NewEncoder(w).Encode(comments); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[listCommentsHandler][%s] failed to encode comments data: %v", sID, err)
		return
	}

	log.Debugf("[listCommentsHandler][%s] response sent to: %v", sID, r.RemoteAddr)
}

func (api *API) seedHandler(w http.ResponseWriter, r *http.Request) {
	reqID := GetRequestID(r.Context())
	sID := shorten(reqID)

	if api.adminToken == "" || r.Header.Get("X-Admin-Token") != api.adminToken {
		http.Error(w, "Forbidden", http.StatusForbidden)
		log.Warnf("[seedHandler][%s] rejected seed request from %v", sID, r.RemoteAddr)
		return
	}

	if api.db == nil {
		http.Error(w, "Database not configured", http.StatusServiceUnavailable)
		log.Warnf("[seedHandler][%s] request rejected, storage not configured", sID)
		return
	}

	if err := storage.Reseed(r.Context(), api.db); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[seedHandler][%s] Reseed() returned error: %v", sID, err)
		return
	}

	stats, err := api.db.Stats(r.Context())
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[seedHandler][%s] Stats() returned error: %v", sID, err)
		return
	}

	resp := SeedResponse{Status: "reseeded", Posts: stats.Posts, Votes: stats.Votes, Comments: stats.Comments}

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		log.Errorf("[seedHandler][%s] failed to encode response data: %v", sID, err)
		return
	}

	log.Infof("[seedHandler][%s] database reseeded by %v", sID, r.RemoteAddr)
}

// joinLiveFields fills the per-request fields of a single post: the live
// comment count and the voted flag for the requesting identity.
func (api *API) joinLiveFields(r *http.Request, post storage.Post) (storage.Post, error) {
	counts, err := api.db.CommentCounts(r.Context(), post.ID)
	if err != nil {
		return post, err
	}
	voted, err := api.db.Voted(r.Context(), ClientIdentity(r), post.ID)
	if err != nil {
		return post, err
	}

	post.CommentsCount = counts[post.ID]
	post.Voted = voted[post.ID]

	return post, nil
}

// parseFeedQuery reads the feed parameters, rejecting values outside the
// documented sets instead of silently correcting them. Absent parameters
// fall back to the defaults: last week, most voted, first page of 20.
func parseFeedQuery(r *http.Request) (storage.FeedQuery, error) {
	q := storage.FeedQuery{
		TimeRange: storage.TimeRangeWeek,
		SortBy:    storage.SortByVotes,
		Page:      1,
		PageSize:  storage.DefaultPageSize,
		Identity:  ClientIdentity(r),
	}

	params := r.URL.Query()
	if v := params.Get("time_range"); v != "" {
		tr := storage.TimeRange(v)
		if !tr.Valid() {
			return q, fmt.Errorf("unknown time_range %q", v)
		}
		q.TimeRange = tr
	}
	if v := params.Get("sort_by"); v != "" {
		sb := storage.SortBy(v)
		if !sb.Valid() {
			return q, fmt.Errorf("unknown sort_by %q", v)
		}
		q.SortBy = sb
	}
	if v := params.Get("page"); v != "" {
		page, err := strconv.Atoi(v)
		if err != nil || page < 1 {
			return q, fmt.Errorf("invalid page %q", v)
		}
		q.Page = page
	}
	if v := params.Get("page_size"); v != "" {
		size, err := strconv.Atoi(v)
		if err != nil || size < 1 || size > storage.MaxPageSize {
			return q, fmt.Errorf("invalid page_size %q", v)
		}
		q.PageSize = size
	}

	return q, nil
}

// GetRequestID extracts the request ID from the context.
// It returns the request ID as a string if present, otherwise returns an empty string.
func GetRequestID(ctx context.Context) string {
	if v, ok := ctx.Value(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

// shorten truncates a string to 6 characters if it is longer than 6, appends '...' at the end,
// otherwise it returns the string unchanged.
func shorten(s string) string {
	if len(s) > 6 {
		return s[:6] + "..."
	}
	return s
}
