// Package ingest consumes the upstream post and reaction event stream,
// applies idempotent mutations to the content store, and triggers preference
// invalidation on reaction changes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	gojson "github.com/goccy/go-json"

	"github.com/pastach/recsvc/internal/content"
	"github.com/pastach/recsvc/internal/embedding"
)

// ErrDuplicateEvent marks a redelivered event whose mutation was already
// applied. Handlers treat it as success.
var ErrDuplicateEvent = errors.New("duplicate event")

// errBadPayload marks a payload that can never be processed. The message is
// dropped instead of redelivered.
var errBadPayload = errors.New("bad payload")

// Invalidator triggers the eager recompute protocol after a reaction
// mutation commits.
type Invalidator interface {
	InvalidateAndRecompute(ctx context.Context, userID string) error
}

// Ingestor routes envelope messages to per-kind handlers. Each handler runs
// one atomic store operation; reaction handlers invalidate the author's
// preference after the store operation succeeds, never inside it.
type Ingestor struct {
	store       content.Store
	oracle      embedding.Oracle
	invalidator Invalidator
	logger      *slog.Logger
	metrics     *Metrics
}

// NewIngestor creates an ingestor. A nil metrics argument creates
// unregistered collectors.
func NewIngestor(store content.Store, oracle embedding.Oracle, invalidator Invalidator, logger *slog.Logger, metrics *Metrics) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Ingestor{
		store:       store,
		oracle:      oracle,
		invalidator: invalidator,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run consumes the given topics until the context is canceled or every
// subscription channel closes. Messages are acked on success and on
// permanent conditions (duplicates, malformed payloads, unknown kinds);
// transient failures nack for redelivery.
func (in *Ingestor) Run(ctx context.Context, sub message.Subscriber, topics ...string) error {
	if len(topics) == 0 {
		topics = []string{TopicPosts, TopicReactions}
	}

	channels := make([]<-chan *message.Message, 0, len(topics))
	for _, topic := range topics {
		ch, err := sub.Subscribe(ctx, topic)
		if err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		channels = append(channels, ch)
	}

	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(topic string, ch <-chan *message.Message) {
			defer wg.Done()
			in.consume(ctx, topic, ch)
		}(topics[i], ch)
	}
	wg.Wait()
	return ctx.Err()
}

func (in *Ingestor) consume(ctx context.Context, topic string, ch <-chan *message.Message) {
	in.logger.Info("consuming topic", slog.String("topic", topic))
	for msg := range ch {
		if err := in.handleMessage(ctx, msg); err != nil {
			in.logger.Error("event handling failed, requeueing",
				slog.String("topic", topic),
				slog.String("message_uuid", msg.UUID),
				slog.String("error", err.Error()))
			msg.Nack()
			continue
		}
		msg.Ack()
	}
	in.logger.Info("topic channel closed", slog.String("topic", topic))
}

// handleMessage decodes and routes one message. A nil return acks; an error
// nacks for at-least-once redelivery. Permanent conditions return nil so the
// message is not retried forever.
func (in *Ingestor) handleMessage(ctx context.Context, msg *message.Message) error {
	var env Envelope
	if err := gojson.Unmarshal(msg.Payload, &env); err != nil {
		in.metrics.IncMalformed()
		in.logger.Warn("dropping malformed event",
			slog.String("message_uuid", msg.UUID),
			slog.String("error", err.Error()))
		return nil
	}

	var err error
	switch env.EventType {
	case EventPostCreated:
		err = in.handlePostCreated(ctx, env.Payload)
	case EventPostUpdated:
		err = in.handlePostUpdated(ctx, env.Payload)
	case EventPostDeleted:
		err = in.handlePostDeleted(ctx, env.Payload)
	case EventReactionCreated:
		err = in.handleReactionCreated(ctx, env.Payload)
	case EventReactionUpdated:
		err = in.handleReactionUpdated(ctx, env.Payload)
	case EventReactionDeleted:
		err = in.handleReactionDeleted(ctx, env.Payload)
	default:
		in.metrics.IncUnknown()
		in.logger.Warn("dropping event of unknown type",
			slog.String("event_type", env.EventType),
			slog.String("message_uuid", msg.UUID))
		return nil
	}

	if errors.Is(err, ErrDuplicateEvent) {
		in.metrics.IncDuplicates(env.EventType)
		return nil
	}
	if errors.Is(err, errBadPayload) {
		in.metrics.IncMalformed()
		in.logger.Warn("dropping undecodable event",
			slog.String("event_type", env.EventType),
			slog.String("message_uuid", msg.UUID),
			slog.String("error", err.Error()))
		return nil
	}
	if err != nil {
		in.metrics.IncFailed(env.EventType)
		return fmt.Errorf("%s: %w", env.EventType, err)
	}
	in.metrics.IncProcessed(env.EventType)
	return nil
}

func (in *Ingestor) handlePostCreated(ctx context.Context, payload gojson.RawMessage) error {
	var p PostPayload
	if err := gojson.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: decode post payload: %s", errBadPayload, err)
	}

	post := &content.Post{
		ID:        p.ID,
		AuthorID:  p.AuthorID,
		Text:      p.Text,
		PhotoURL:  p.PhotoURL,
		CreatedAt: p.CreatedAt.Time,
	}
	post.Embedding = in.embedText(ctx, p.ID, p.Text)

	err := in.store.CreatePost(ctx, post)
	if errors.Is(err, content.ErrAlreadyExists) {
		in.logger.Warn("post already exists, skipping", slog.String("post_id", p.ID))
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("create post %s: %w", p.ID, err)
	}
	in.logger.Info("created post", slog.String("post_id", p.ID))
	return nil
}

func (in *Ingestor) handlePostUpdated(ctx context.Context, payload gojson.RawMessage) error {
	var p PostPayload
	if err := gojson.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: decode post payload: %s", errBadPayload, err)
	}

	emb := in.embedText(ctx, p.ID, p.Text)
	err := in.store.UpdatePostText(ctx, p.ID, p.Text, emb)
	if errors.Is(err, content.ErrPostNotFound) {
		// Update arriving before the create is a dropped update, not an
		// error: per-key ordering makes this a stale event.
		in.logger.Warn("post not found for update, skipping", slog.String("post_id", p.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("update post %s: %w", p.ID, err)
	}
	in.logger.Info("updated post", slog.String("post_id", p.ID))
	return nil
}

func (in *Ingestor) handlePostDeleted(ctx context.Context, payload gojson.RawMessage) error {
	var p PostPayload
	if err := gojson.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("%w: decode post payload: %s", errBadPayload, err)
	}

	err := in.store.DeletePost(ctx, p.ID)
	if errors.Is(err, content.ErrPostNotFound) {
		in.logger.Warn("post not found for deletion, skipping", slog.String("post_id", p.ID))
		return ErrDuplicateEvent
	}
	if err != nil {
		return fmt.Errorf("delete post %s: %w", p.ID, err)
	}
	in.logger.Info("deleted post", slog.String("post_id", p.ID))
	return nil
}

func (in *Ingestor) handleReactionCreated(ctx context.Context, payload gojson.RawMessage) error {
	r, err := decodeReaction(payload)
	if err != nil {
		return err
	}

	err = in.store.CreateReaction(ctx, &content.Reaction{
		ID:        r.ID,
		TargetID:  r.TargetID,
		AuthorID:  r.AuthorID,
		Type:      content.ReactionType(r.Type),
		CreatedAt: r.CreatedAt.Time,
	})
	switch {
	case errors.Is(err, content.ErrAlreadyExists):
		// The insert landed on a previous delivery. Invalidate anyway: the
		// redelivery may mean the invalidation itself failed last time.
		in.logger.Warn("reaction already exists, skipping insert", slog.String("reaction_id", r.ID))
		if err := in.invalidate(ctx, r.AuthorID); err != nil {
			return err
		}
		return ErrDuplicateEvent
	case err != nil:
		return fmt.Errorf("create reaction %s: %w", r.ID, err)
	}
	return in.invalidate(ctx, r.AuthorID)
}

func (in *Ingestor) handleReactionUpdated(ctx context.Context, payload gojson.RawMessage) error {
	r, err := decodeReaction(payload)
	if err != nil {
		return err
	}

	err = in.store.UpdateReactionType(ctx, r.ID, content.ReactionType(r.Type))
	if errors.Is(err, content.ErrReactionNotFound) {
		in.logger.Warn("reaction not found for update, skipping", slog.String("reaction_id", r.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("update reaction %s: %w", r.ID, err)
	}
	return in.invalidate(ctx, r.AuthorID)
}

func (in *Ingestor) handleReactionDeleted(ctx context.Context, payload gojson.RawMessage) error {
	r, err := decodeReaction(payload)
	if err != nil {
		return err
	}

	err = in.store.DeleteReaction(ctx, r.ID)
	switch {
	case errors.Is(err, content.ErrReactionNotFound):
		in.logger.Warn("reaction not found for deletion, skipping", slog.String("reaction_id", r.ID))
		if err := in.invalidate(ctx, r.AuthorID); err != nil {
			return err
		}
		return ErrDuplicateEvent
	case err != nil:
		return fmt.Errorf("delete reaction %s: %w", r.ID, err)
	}
	return in.invalidate(ctx, r.AuthorID)
}

func (in *Ingestor) invalidate(ctx context.Context, authorID string) error {
	if err := in.invalidator.InvalidateAndRecompute(ctx, authorID); err != nil {
		return fmt.Errorf("invalidate preference for %s: %w", authorID, err)
	}
	in.logger.Info("invalidated preference", slog.String("user_id", authorID))
	return nil
}

// embedText computes the embedding for non-empty text. Oracle failures are
// tolerated: the content is persisted without a vector and picked up again
// on the next text update.
func (in *Ingestor) embedText(ctx context.Context, postID, text string) []float32 {
	if text == "" || in.oracle == nil {
		return nil
	}
	v, err := in.oracle.Embed(ctx, text)
	if err != nil {
		in.metrics.IncEmbedFailures()
		in.logger.Warn("embedding unavailable, storing post without vector",
			slog.String("post_id", postID),
			slog.String("error", err.Error()))
		return nil
	}
	return v
}

func decodeReaction(payload gojson.RawMessage) (*ReactionPayload, error) {
	var r ReactionPayload
	if err := gojson.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("%w: decode reaction payload: %s", errBadPayload, err)
	}
	if !content.ReactionType(r.Type).Valid() {
		return nil, fmt.Errorf("%w: invalid reaction type %q", errBadPayload, r.Type)
	}
	return &r, nil
}
