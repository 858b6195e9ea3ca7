package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	gojson "github.com/goccy/go-json"

	"github.com/pastach/recsvc/internal/content"
)

// fakeOracle returns a fixed vector for any text.
type fakeOracle struct {
	vector []float32
	broken bool
}

func (o *fakeOracle) Embed(_ context.Context, _ string) ([]float32, error) {
	if o.broken {
		return nil, errors.New("model offline")
	}
	out := make([]float32, len(o.vector))
	copy(out, o.vector)
	return out, nil
}

func (o *fakeOracle) Dimensions() int { return len(o.vector) }

// fakeInvalidator records invalidation calls.
type fakeInvalidator struct {
	mu     sync.Mutex
	users  []string
	broken bool
}

func (f *fakeInvalidator) InvalidateAndRecompute(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.broken {
		return errors.New("store down")
	}
	f.users = append(f.users, userID)
	return nil
}

func (f *fakeInvalidator) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.users))
	copy(out, f.users)
	return out
}

type ingestFixture struct {
	ingestor    *Ingestor
	store       *content.InMemoryStore
	oracle      *fakeOracle
	invalidator *fakeInvalidator
}

func newIngestFixture() *ingestFixture {
	store := content.NewInMemoryStore()
	oracle := &fakeOracle{vector: []float32{0.6, 0.8}}
	invalidator := &fakeInvalidator{}
	return &ingestFixture{
		ingestor:    NewIngestor(store, oracle, invalidator, nil, nil),
		store:       store,
		oracle:      oracle,
		invalidator: invalidator,
	}
}

func envelope(t *testing.T, eventType string, payload any) *message.Message {
	t.Helper()
	raw, err := gojson.Marshal(payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, err := gojson.Marshal(Envelope{EventType: eventType, Payload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return message.NewMessage(watermill.NewUUID(), body)
}

func postPayload(id, text string) map[string]any {
	return map[string]any{
		"id":        id,
		"authorId":  "author-" + id,
		"text":      text,
		"createdAt": "2025-06-15T10:00:00Z",
	}
}

func reactionPayload(id, target, author, typ string) map[string]any {
	return map[string]any{
		"id":        id,
		"targetId":  target,
		"authorId":  author,
		"type":      typ,
		"createdAt": "2025-06-15T10:00:00Z",
	}
}

func TestPostCreated(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	msg := envelope(t, EventPostCreated, postPayload("p1", "hello"))
	if err := f.ingestor.handleMessage(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	post, err := f.store.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.Text != "hello" {
		t.Errorf("text = %q, want %q", post.Text, "hello")
	}
	if len(post.Embedding) != 2 {
		t.Errorf("expected embedding of dimension 2, got %v", post.Embedding)
	}
	if !post.CreatedAt.Equal(time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected created_at: %v", post.CreatedAt)
	}
}

func TestPostCreatedIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	for i := 0; i < 2; i++ {
		msg := envelope(t, EventPostCreated, postPayload("p1", "hello"))
		if err := f.ingestor.handleMessage(ctx, msg); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
	}

	if _, err := f.store.GetPost(ctx, "p1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPostCreatedWithoutText(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	msg := envelope(t, EventPostCreated, postPayload("p1", ""))
	if err := f.ingestor.handleMessage(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	post, err := f.store.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.Embedding != nil {
		t.Errorf("expected no embedding for empty text, got %v", post.Embedding)
	}
}

func TestPostCreatedEmbeddingUnavailable(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()
	f.oracle.broken = true

	msg := envelope(t, EventPostCreated, postPayload("p1", "hello"))
	if err := f.ingestor.handleMessage(ctx, msg); err != nil {
		t.Fatalf("expected post stored without vector, got error: %v", err)
	}

	post, err := f.store.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.Embedding != nil {
		t.Errorf("expected no embedding when the oracle is down, got %v", post.Embedding)
	}
}

func TestPostUpdated(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	if err := f.ingestor.handleMessage(ctx, envelope(t, EventPostCreated, postPayload("p1", "hello"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.oracle.vector = []float32{0, 1}
	if err := f.ingestor.handleMessage(ctx, envelope(t, EventPostUpdated, postPayload("p1", "changed"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	post, err := f.store.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.Text != "changed" {
		t.Errorf("text = %q, want %q", post.Text, "changed")
	}
	if post.Embedding[0] != 0 || post.Embedding[1] != 1 {
		t.Errorf("embedding not recomputed: %v", post.Embedding)
	}

	// Clearing the text clears the embedding.
	if err := f.ingestor.handleMessage(ctx, envelope(t, EventPostUpdated, postPayload("p1", ""))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	post, err = f.store.GetPost(ctx, "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if post.Embedding != nil {
		t.Errorf("expected embedding cleared, got %v", post.Embedding)
	}
}

func TestPostUpdatedBeforeCreateIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	msg := envelope(t, EventPostUpdated, postPayload("ghost", "text"))
	if err := f.ingestor.handleMessage(ctx, msg); err != nil {
		t.Fatalf("expected dropped update, got error: %v", err)
	}
	if _, err := f.store.GetPost(ctx, "ghost"); !errors.Is(err, content.ErrPostNotFound) {
		t.Errorf("expected no post, got %v", err)
	}
}

func TestPostDeleted(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	if err := f.ingestor.handleMessage(ctx, envelope(t, EventPostCreated, postPayload("p1", "hello"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.ingestor.handleMessage(ctx, envelope(t, EventPostDeleted, postPayload("p1", ""))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.store.GetPost(ctx, "p1"); !errors.Is(err, content.ErrPostNotFound) {
		t.Errorf("expected post deleted, got %v", err)
	}

	// Deleting again is a no-op, not a failure.
	if err := f.ingestor.handleMessage(ctx, envelope(t, EventPostDeleted, postPayload("p1", ""))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReactionCreatedInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	msg := envelope(t, EventReactionCreated, reactionPayload("r1", "p1", "u1", "LIKE"))
	if err := f.ingestor.handleMessage(ctx, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.store.GetReaction(ctx, "r1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := f.invalidator.calls(); len(calls) != 1 || calls[0] != "u1" {
		t.Errorf("expected one invalidation for u1, got %v", calls)
	}
}

// TestReactionCreatedDuplicateStillInvalidates verifies a redelivered
// reaction.created skips the insert but re-runs invalidation, so a failed
// invalidation on the first delivery converges on retry.
func TestReactionCreatedDuplicateStillInvalidates(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	for i := 0; i < 2; i++ {
		msg := envelope(t, EventReactionCreated, reactionPayload("r1", "p1", "u1", "LIKE"))
		if err := f.ingestor.handleMessage(ctx, msg); err != nil {
			t.Fatalf("delivery %d: unexpected error: %v", i, err)
		}
	}

	if calls := f.invalidator.calls(); len(calls) != 2 {
		t.Errorf("expected invalidation on both deliveries, got %v", calls)
	}
}

func TestReactionUpdated(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	if err := f.ingestor.handleMessage(ctx, envelope(t, EventReactionCreated, reactionPayload("r1", "p1", "u1", "LIKE"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.ingestor.handleMessage(ctx, envelope(t, EventReactionUpdated, reactionPayload("r1", "p1", "u1", "DISLIKE"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r, err := f.store.GetReaction(ctx, "r1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Type != content.ReactionDislike {
		t.Errorf("type = %q, want DISLIKE", r.Type)
	}
	if calls := f.invalidator.calls(); len(calls) != 2 {
		t.Errorf("expected two invalidations, got %v", calls)
	}
}

func TestReactionUpdatedMissingIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	msg := envelope(t, EventReactionUpdated, reactionPayload("ghost", "p1", "u1", "LIKE"))
	if err := f.ingestor.handleMessage(ctx, msg); err != nil {
		t.Fatalf("expected skipped update, got error: %v", err)
	}
	if calls := f.invalidator.calls(); len(calls) != 0 {
		t.Errorf("expected no invalidation for a missing reaction, got %v", calls)
	}
}

func TestReactionDeleted(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	if err := f.ingestor.handleMessage(ctx, envelope(t, EventReactionCreated, reactionPayload("r1", "p1", "u1", "LIKE"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := f.ingestor.handleMessage(ctx, envelope(t, EventReactionDeleted, reactionPayload("r1", "p1", "u1", "LIKE"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := f.store.GetReaction(ctx, "r1"); !errors.Is(err, content.ErrReactionNotFound) {
		t.Errorf("expected reaction deleted, got %v", err)
	}
	if calls := f.invalidator.calls(); len(calls) != 2 {
		t.Errorf("expected two invalidations, got %v", calls)
	}
}

// TestInvalidationFailureNacks verifies a failed invalidation surfaces an
// error so the message is redelivered.
func TestInvalidationFailureNacks(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()
	f.invalidator.broken = true

	msg := envelope(t, EventReactionCreated, reactionPayload("r1", "p1", "u1", "LIKE"))
	if err := f.ingestor.handleMessage(ctx, msg); err == nil {
		t.Fatal("expected error so the message is nacked")
	}
}

func TestDroppedMessages(t *testing.T) {
	ctx := context.Background()
	f := newIngestFixture()

	tests := []struct {
		name string
		msg  *message.Message
	}{
		{"malformed envelope", message.NewMessage(watermill.NewUUID(), []byte("{not json"))},
		{"unknown kind", envelope(t, "post.archived", postPayload("p1", ""))},
		{"invalid reaction type", envelope(t, EventReactionCreated, reactionPayload("r1", "p1", "u1", "LOVE"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := f.ingestor.handleMessage(ctx, tt.msg); err != nil {
				t.Errorf("expected permanent drop (ack), got error: %v", err)
			}
		})
	}
}

func TestTimestampUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"rfc3339 zulu", `"2025-06-15T10:00:00Z"`, time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)},
		{"rfc3339 offset", `"2025-06-15T12:00:00+02:00"`, time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)},
		{"unix epoch", `1749981600`, time.Unix(1749981600, 0).UTC()},
		{"fractional epoch", `1749981600.5`, time.Unix(1749981600, int64(500*time.Millisecond)).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ts Timestamp
			if err := ts.UnmarshalJSON([]byte(tt.raw)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !ts.Time.Equal(tt.want) {
				t.Errorf("parsed %v, want %v", ts.Time, tt.want)
			}
		})
	}

	var ts Timestamp
	if err := ts.UnmarshalJSON([]byte(`"yesterday"`)); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

// TestRunConsumesTopics exercises the full subscribe/consume loop over an
// in-process pub/sub.
func TestRunConsumesTopics(t *testing.T) {
	f := newIngestFixture()
	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubsub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.ingestor.Run(ctx, pubsub, TopicPosts, TopicReactions)
	}()

	// Give the subscriptions a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	if err := pubsub.Publish(TopicPosts, envelope(t, EventPostCreated, postPayload("p1", "hello"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := pubsub.Publish(TopicReactions, envelope(t, EventReactionCreated, reactionPayload("r1", "p1", "u1", "LIKE"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		_, perr := f.store.GetPost(context.Background(), "p1")
		_, rerr := f.store.GetReaction(context.Background(), "r1")
		if perr == nil && rerr == nil {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("events not processed: post=%v reaction=%v", perr, rerr)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
