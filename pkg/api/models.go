package api

import (
	"time"

	"github.com/gofrs/uuid"

	"ideaboard/pkg/storage"
)

type PostCreate struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
}

type CommentCreate struct {
	Author   string     `json:"author"`
	Content  string     `json:"content"`
	ParentID *uuid.UUID `json:"parent_id"`
}

type FeedResponse struct {
	Items    []storage.Post `json:"items"`
	Total    int            `json:"total"`
	Page     int            `json:"page"`
	PageSize int            `json:"page_size"`
}

type VoteResponse struct {
	Voted bool         `json:"voted"`
	Post  storage.Post `json:"post"`
}

type SeedResponse struct {
	Status   string `json:"status"`
	Posts    int    `json:"posts"`
	Votes    int    `json:"votes"`
	Comments int    `json:"comments"`
}

type DiagnosticsResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Backend  string `json:"backend,omitempty"`
	DBName   string `json:"db_name,omitempty"`
	Posts    int    `json:"posts"`
	Votes    int    `json:"votes"`
	Comments int    `json:"comments"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	IP         string    `json:"ip"`
	StatusCode int       `json:"status_code"`
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	Duration   float64   `json:"duration_sec"`
	Size       int       `json:"size"`
	Service    string    `json:"service"`
}
