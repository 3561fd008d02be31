// Package session keeps track of in-flight chunked uploads. Sessions live
// in an expiring key-value store, never in the database.
package session

import (
	"context"
	"errors"
	"slices"
	"time"
)

var (
	ErrNotFound = errors.New("upload session not found")
	ErrExists   = errors.New("upload session already exists")
)

type Session struct {
	Token          string    `json:"token"`
	UserID         string    `json:"user_id"`
	Filename       string    `json:"filename"`
	MimeType       string    `json:"mime_type"`
	TotalSize      int64     `json:"total_size"`
	Folder         string    `json:"folder"`
	ChunkSize      int64     `json:"chunk_size"`
	ExpectedChunks int       `json:"expected_chunks"`
	Received       []int     `json:"received,omitempty"` // Sorted, no duplicates
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ChunkCount is ceil(total / chunk), but never less than 1
func ChunkCount(total, chunk int64) int {
	if total <= 0 || chunk <= 0 {
		return 1
	}

	return int((total + chunk - 1) / chunk)
}

// ChunkLength returns the exact size chunk n has to be
func (s *Session) ChunkLength(n int) int64 {
	if n < s.ExpectedChunks {
		return s.ChunkSize
	}

	return s.TotalSize - int64(s.ExpectedChunks-1)*s.ChunkSize
}

func (s *Session) ValidChunk(n int) bool {
	return n >= 1 && n <= s.ExpectedChunks
}

func (s *Session) Complete() bool {
	return len(s.Received) == s.ExpectedChunks
}

// Missing lists every chunk number that hasn't been received yet
func (s *Session) Missing() []int {
	missing := []int{}
	for n := 1; n <= s.ExpectedChunks; n++ {
		if _, found := slices.BinarySearch(s.Received, n); !found {
			missing = append(missing, n)
		}
	}

	return missing
}

func (s *Session) markReceived(n int) {
	i, found := slices.BinarySearch(s.Received, n)
	if !found {
		s.Received = slices.Insert(s.Received, i, n)
	}
}

func (s *Session) clone() *Session {
	c := *s
	c.Received = slices.Clone(s.Received)
	return &c
}

// Store is an expiring session store. Every successful MarkReceived pushes
// the expiry of the session forward by the store's TTL.
type Store interface {
	Create(ctx context.Context, s *Session) error
	Get(ctx context.Context, token string) (*Session, error)
	MarkReceived(ctx context.Context, token string, n int) (*Session, error)

	// Claim removes the session and returns it. Only one caller can ever
	// claim a given session, everyone else gets ErrNotFound.
	Claim(ctx context.Context, token string) (*Session, error)
	Delete(ctx context.Context, token string) error
	Exists(ctx context.Context, token string) (bool, error)
	TTL() time.Duration
	Close() error
}
