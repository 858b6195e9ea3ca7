// Package content provides the post and reaction model and the content store
// consumed by preference computation, ranking, and event ingestion.
package content

import (
	"errors"
	"time"
)

// Common errors for content operations.
var (
	ErrPostNotFound     = errors.New("post not found")
	ErrReactionNotFound = errors.New("reaction not found")
	ErrAlreadyExists    = errors.New("record already exists")
)

// ReactionType is the kind of reaction a user left on a post.
type ReactionType string

// Supported reaction types.
const (
	ReactionLike    ReactionType = "LIKE"
	ReactionDislike ReactionType = "DISLIKE"
)

// Valid reports whether t is a known reaction type.
func (t ReactionType) Valid() bool {
	return t == ReactionLike || t == ReactionDislike
}

// Post is a content item mirrored from the upstream event stream.
//
// Embedding is present iff Text was non-empty at the last write; it is never
// a zero vector standing in for "no embedding". LikesCount is the popularity
// proxy used by the no-preference ranking fallback and is maintained by the
// ingestor inside the same transaction as the reaction mutation.
type Post struct {
	ID         string
	AuthorID   string
	Text       string
	PhotoURL   string
	Embedding  []float32 // nil when no embedding exists
	LikesCount int
	CreatedAt  time.Time
}

// Reaction is a single user reaction to a post. One row per reaction ID;
// updates mutate only Type.
type Reaction struct {
	ID        string
	TargetID  string
	AuthorID  string
	Type      ReactionType
	CreatedAt time.Time
}

// CandidateFilter restricts candidate post listings.
type CandidateFilter struct {
	// ExcludeAuthorID drops posts authored by this user when non-empty.
	ExcludeAuthorID string

	// ExcludeIDs drops the given post IDs (posts the user already reacted to).
	ExcludeIDs []string

	// Limit caps the number of returned posts; zero means no cap.
	Limit int
}
