package preference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pastach/recsvc/internal/content"
	"github.com/pastach/recsvc/internal/vecmath"
)

// CacheKeyPrefix namespaces preference entries in the fast cache.
const CacheKeyPrefix = "preference:"

func cacheKey(userID string) string {
	return CacheKeyPrefix + userID
}

// EngineConfig holds tunables for the preference cache engine.
type EngineConfig struct {
	// LikeWeight scales the mean of liked embeddings. Positive.
	LikeWeight float32

	// DislikeWeight scales the mean of disliked embeddings, applied
	// negatively. Positive; defaults weigh likes more heavily.
	DislikeWeight float32

	// Dimensions is the embedding dimension D.
	Dimensions int

	// CacheTTL bounds the lifetime of fast-cache entries.
	CacheTTL time.Duration
}

// DefaultEngineConfig returns production defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		LikeWeight:    0.3,
		DislikeWeight: 0.1,
		Dimensions:    384,
		CacheTTL:      24 * time.Hour,
	}
}

// Engine orchestrates the tiered preference read path
// (fast cache -> durable store -> recompute) and the eager
// recompute-on-write invalidation protocol.
type Engine struct {
	store   Store
	cache   FastCache
	content content.Store
	cfg     EngineConfig
	logger  *slog.Logger
	metrics *Metrics

	flight singleflight.Group
	states *stateMap
}

// NewEngine creates a preference cache engine. A nil metrics argument
// creates unregistered collectors.
func NewEngine(store Store, cache FastCache, contentStore content.Store, cfg EngineConfig, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	def := DefaultEngineConfig()
	if cfg.LikeWeight <= 0 {
		cfg.LikeWeight = def.LikeWeight
	}
	if cfg.DislikeWeight <= 0 {
		cfg.DislikeWeight = def.DislikeWeight
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}
	return &Engine{
		store:   store,
		cache:   cache,
		content: contentStore,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		states:  newStateMap(),
	}
}

// Get returns the user's preference state, reading through the tiers:
// fast cache, then durable store, then a single-flight recomputation.
//
// A cache hit never touches the durable store. A "no preference" row is
// returned without populating the fast tier. Fast-cache failures degrade to
// store-only reads; durable-store failures are surfaced.
func (e *Engine) Get(ctx context.Context, userID string) (Result, error) {
	key := cacheKey(userID)

	blob, err := e.cache.Get(ctx, key)
	switch {
	case err == nil:
		if v, uerr := vecmath.Unpack(blob); uerr == nil && len(v) == e.cfg.Dimensions {
			e.metrics.IncReads(ReadOutcomeCacheHit)
			return VectorOf(v), nil
		}
		// Malformed entry: drop it and fall through to the durable tier.
		e.logger.Warn("dropping malformed cache entry", slog.String("user_id", userID))
		if derr := e.cache.Delete(ctx, key); derr != nil {
			e.metrics.IncCacheErrors("delete")
		}
	case errors.Is(err, ErrCacheMiss):
		// Fall through to the durable tier.
	default:
		e.metrics.IncCacheErrors("get")
		e.logger.Warn("fast cache read failed, falling back to durable store",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}

	st := e.states.acquire(userID)
	gen := st.generation()
	pref, err := e.store.Get(ctx, userID)
	switch {
	case err == nil:
		defer e.states.release(userID, st)
		if pref.Embedding == nil {
			e.metrics.IncReads(ReadOutcomeNoPreference)
			return NoPreference(), nil
		}
		e.populate(ctx, st, gen, userID, pref.Embedding)
		e.metrics.IncReads(ReadOutcomeStoreHit)
		return VectorOf(pref.Embedding), nil
	case errors.Is(err, ErrNotComputed):
		e.states.release(userID, st)
		return e.recomputeShared(ctx, userID)
	default:
		e.states.release(userID, st)
		return Result{}, err
	}
}

// recomputeShared coalesces concurrent first reads for the same user into
// one recomputation. The computation runs detached from any single caller's
// context so one waiter timing out does not abort the result other waiters
// share; only the timed-out call fails.
func (e *Engine) recomputeShared(ctx context.Context, userID string) (Result, error) {
	ch := e.flight.DoChan(userID, func() (any, error) {
		return e.recomputeAndStore(context.WithoutCancel(ctx), userID, TriggerRead, true)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Result{}, res.Err
		}
		e.metrics.IncReads(ReadOutcomeRecomputed)
		return res.Val.(Result), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// InvalidateAndRecompute eagerly recomputes the user's preference from the
// current reaction state, persists it, then evicts the fast-cache entry.
// Invoked whenever a reaction authored by the user is created, updated, or
// deleted.
//
// If the durable write fails, the cache is left untouched: readers keep
// seeing the old-but-consistent value rather than an empty or wrong one.
func (e *Engine) InvalidateAndRecompute(ctx context.Context, userID string) error {
	// The generation bump rides inside the durable write's critical section
	// (recomputeAndStore), so by the time the eviction below runs, any
	// populate or upsert snapshotted under the old generation is already
	// fenced out: the delete always wins.
	if _, err := e.recomputeAndStore(ctx, userID, TriggerInvalidate, false); err != nil {
		return err
	}

	if err := e.cache.Delete(ctx, cacheKey(userID)); err != nil {
		e.metrics.IncCacheErrors("delete")
		return fmt.Errorf("evict cached preference: %w", err)
	}
	return nil
}

// recomputeAndStore computes the preference from reactions and persists the
// outcome, present or absent. When populate is set, a present vector is also
// written to the fast tier.
//
// The durable write carries the same generation fence as the cache populate:
// a recompute that lost the race to an invalidation must not overwrite the
// fresher vector, so the generation is re-checked under the per-user lock
// and a superseded attempt starts over against current reaction state.
// Invalidations bump the generation inside that same critical section, which
// supersedes any slower concurrent recompute and marks populates snapshotted
// earlier as stale.
func (e *Engine) recomputeAndStore(ctx context.Context, userID, trigger string, populate bool) (Result, error) {
	st := e.states.acquire(userID)
	defer e.states.release(userID, st)

	for {
		gen := st.generation()

		res, err := e.compute(ctx, userID)
		if err != nil {
			return Result{}, err
		}

		up := &UserPreference{UserID: userID, UpdatedAt: time.Now().UTC()}
		if v, ok := res.Vector(); ok {
			up.Embedding = v
		}

		st.mu.Lock()
		if st.gen != gen {
			st.mu.Unlock()
			e.metrics.IncStaleRecomputes()
			e.logger.Info("recompute superseded by invalidation, retrying",
				slog.String("user_id", userID))
			continue
		}
		if err := e.store.Upsert(ctx, up); err != nil {
			st.mu.Unlock()
			return Result{}, err
		}
		if trigger == TriggerInvalidate {
			st.gen++
		}
		if populate {
			if v, ok := res.Vector(); ok {
				e.populateLocked(ctx, userID, v)
			}
		}
		st.mu.Unlock()

		e.metrics.IncRecomputes(trigger)
		return res, nil
	}
}

// populate writes a vector to the fast tier unless an invalidation has
// superseded the generation the value was read under.
func (e *Engine) populate(ctx context.Context, st *userState, gen uint64, userID string, v []float32) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.gen != gen {
		e.metrics.IncStalePopulates()
		return
	}
	e.populateLocked(ctx, userID, v)
}

// populateLocked writes to the fast tier. Callers hold st.mu.
func (e *Engine) populateLocked(ctx context.Context, userID string, v []float32) {
	if err := e.cache.SetWithTTL(ctx, cacheKey(userID), vecmath.Pack(v), e.cfg.CacheTTL); err != nil {
		e.metrics.IncCacheErrors("set")
		e.logger.Warn("failed to populate fast cache",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
	}
}

// compute derives the preference vector from the user's current reactions:
// the weighted mean of liked embeddings minus the weighted mean of disliked
// embeddings, L2-normalized. Posts lacking an embedding contribute nothing.
func (e *Engine) compute(ctx context.Context, userID string) (Result, error) {
	reactions, err := e.content.ListReactionsByAuthor(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("list reactions for %s: %w", userID, err)
	}
	if len(reactions) == 0 {
		return NoPreference(), nil
	}

	var likedIDs, dislikedIDs []string
	for _, r := range reactions {
		switch r.Type {
		case content.ReactionLike:
			likedIDs = append(likedIDs, r.TargetID)
		case content.ReactionDislike:
			dislikedIDs = append(dislikedIDs, r.TargetID)
		}
	}

	liked, err := e.embeddingsFor(ctx, userID, likedIDs)
	if err != nil {
		return Result{}, err
	}
	disliked, err := e.embeddingsFor(ctx, userID, dislikedIDs)
	if err != nil {
		return Result{}, err
	}
	if len(liked) == 0 && len(disliked) == 0 {
		return NoPreference(), nil
	}

	pref := make([]float32, e.cfg.Dimensions)
	if len(liked) > 0 {
		m, err := vecmath.Mean(liked)
		if err != nil {
			return Result{}, fmt.Errorf("mean liked embeddings: %w", err)
		}
		if err := vecmath.AddScaled(pref, m, e.cfg.LikeWeight); err != nil {
			return Result{}, fmt.Errorf("apply like weight: %w", err)
		}
	}
	if len(disliked) > 0 {
		m, err := vecmath.Mean(disliked)
		if err != nil {
			return Result{}, fmt.Errorf("mean disliked embeddings: %w", err)
		}
		if err := vecmath.AddScaled(pref, m, -e.cfg.DislikeWeight); err != nil {
			return Result{}, fmt.Errorf("apply dislike weight: %w", err)
		}
	}

	if vecmath.Norm(pref) == 0 {
		// Likes and dislikes canceled exactly.
		return NoPreference(), nil
	}
	return VectorOf(vecmath.Normalize(pref)), nil
}

// embeddingsFor fetches the embeddings of the given posts, skipping posts
// whose stored vector does not match the configured dimension.
func (e *Engine) embeddingsFor(ctx context.Context, userID string, ids []string) ([][]float32, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	posts, err := e.content.ListPostsWithEmbedding(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("list posts for %s: %w", userID, err)
	}
	out := make([][]float32, 0, len(posts))
	for _, p := range posts {
		if len(p.Embedding) != e.cfg.Dimensions {
			e.logger.Warn("skipping post with mismatched embedding dimension",
				slog.String("post_id", p.ID),
				slog.Int("got", len(p.Embedding)),
				slog.Int("want", e.cfg.Dimensions))
			continue
		}
		out = append(out, p.Embedding)
	}
	return out, nil
}

// userState carries the per-user invalidation generation and the mutex that
// sequences cache populates against evictions.
type userState struct {
	mu   sync.Mutex
	gen  uint64
	refs int
}

func (s *userState) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// stateMap hands out refcounted per-user state. Entries are removed once no
// operation holds them, so the map does not grow with the user population.
type stateMap struct {
	mu sync.Mutex
	m  map[string]*userState
}

func newStateMap() *stateMap {
	return &stateMap{m: make(map[string]*userState)}
}

func (sm *stateMap) acquire(key string) *userState {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st, ok := sm.m[key]
	if !ok {
		st = &userState{}
		sm.m[key] = st
	}
	st.refs++
	return st
}

func (sm *stateMap) release(key string, st *userState) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	st.refs--
	if st.refs == 0 {
		delete(sm.m, key)
	}
}
