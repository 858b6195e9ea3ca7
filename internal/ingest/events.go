package ingest

import (
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
)

// Topics carrying the upstream event stream.
const (
	TopicPosts     = "pastach.posts"
	TopicReactions = "pastach.reactions"
)

// Event kinds routed by the ingestor.
const (
	EventPostCreated     = "post.created"
	EventPostUpdated     = "post.updated"
	EventPostDeleted     = "post.deleted"
	EventReactionCreated = "reaction.created"
	EventReactionUpdated = "reaction.updated"
	EventReactionDeleted = "reaction.deleted"
)

// Envelope is the outer event structure: a kind plus an untyped payload
// decoded per kind.
type Envelope struct {
	EventType string            `json:"eventType"`
	Payload   gojson.RawMessage `json:"payload"`
}

// PostPayload is the payload of post.* events. Text is optional; an empty
// text clears the post's embedding on update.
type PostPayload struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"authorId"`
	Text      string    `json:"text"`
	PhotoURL  string    `json:"photoUrl"`
	CreatedAt Timestamp `json:"createdAt"`
}

// ReactionPayload is the payload of reaction.* events.
type ReactionPayload struct {
	ID        string    `json:"id"`
	TargetID  string    `json:"targetId"`
	AuthorID  string    `json:"authorId"`
	Type      string    `json:"type"`
	CreatedAt Timestamp `json:"createdAt"`
}

// Timestamp accepts both event timestamp encodings seen upstream: an RFC 3339
// string or a numeric Unix epoch (seconds, possibly fractional).
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := gojson.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("parse timestamp string: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	var epoch float64
	if err := gojson.Unmarshal(data, &epoch); err != nil {
		return fmt.Errorf("parse timestamp epoch: %w", err)
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	t.Time = time.Unix(sec, nsec).UTC()
	return nil
}
