package ranking

import (
	"log/slog"
	"sort"
	"time"

	"github.com/pastach/recsvc/internal/content"
	"github.com/pastach/recsvc/internal/vecmath"
)

// RankRequest carries one ranking invocation.
type RankRequest struct {
	UserID string

	// Preference is the user's unit preference vector; nil means the user
	// has no preference yet and triggers the popularity fallback.
	Preference []float32

	// Candidates is the pre-filtered candidate set. Exclusions (own posts,
	// already-reacted posts) are the caller's job.
	Candidates []*content.Post

	// Limit caps the number of results. Zero or negative means no cap.
	Limit int
}

// ScoredPost pairs a candidate with its final score. On the popularity
// fallback path Score is zero and ordering carries the ranking.
type ScoredPost struct {
	Post  *content.Post
	Score float64
}

// Engine ranks candidate posts. It holds no store references; it is a pure
// scoring component.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	// now is injected for tests; defaults to time.Now.
	now func() time.Time
}

// NewEngine creates a ranking engine. A nil metrics argument creates
// unregistered collectors.
func NewEngine(cfg Config, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{cfg: cfg, logger: logger, metrics: metrics, now: time.Now}
}

// Rank scores and orders the candidates.
//
// With a preference vector: score = cosine(preference, embedding) * recency
// boost; candidates without an embedding, with a mismatched dimension, or
// below the similarity threshold are dropped. Without one: candidates are
// ordered by likes, then recency. Both paths tie-break deterministically so
// equal inputs always produce the same output order.
func (e *Engine) Rank(req RankRequest) []ScoredPost {
	var out []ScoredPost
	if req.Preference == nil {
		out = e.rankPopular(req.Candidates)
		e.metrics.IncFallbacks()
	} else {
		out = e.rankBySimilarity(req.Preference, req.Candidates)
	}

	if req.Limit > 0 && len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out
}

func (e *Engine) rankBySimilarity(pref []float32, candidates []*content.Post) []ScoredPost {
	now := e.now()
	out := make([]ScoredPost, 0, len(candidates))
	for _, post := range candidates {
		if post.Embedding == nil {
			e.metrics.IncSkipped(SkipNoEmbedding)
			continue
		}
		sim, err := vecmath.Cosine(pref, post.Embedding)
		if err != nil {
			e.metrics.IncSkipped(SkipDimensionMismatch)
			e.logger.Warn("skipping candidate with mismatched embedding dimension",
				slog.String("post_id", post.ID),
				slog.Int("got", len(post.Embedding)),
				slog.Int("want", len(pref)))
			continue
		}
		if sim < e.cfg.MinSimilarity {
			e.metrics.IncSkipped(SkipBelowThreshold)
			continue
		}

		boost := e.cfg.RecencyBoost(now.Sub(post.CreatedAt))
		out = append(out, ScoredPost{Post: post, Score: sim * boost})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].Post.CreatedAt.Equal(out[j].Post.CreatedAt) {
			return out[i].Post.CreatedAt.After(out[j].Post.CreatedAt)
		}
		return out[i].Post.ID < out[j].Post.ID
	})
	return out
}

func (e *Engine) rankPopular(candidates []*content.Post) []ScoredPost {
	out := make([]ScoredPost, 0, len(candidates))
	for _, post := range candidates {
		out = append(out, ScoredPost{Post: post})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Post.LikesCount != out[j].Post.LikesCount {
			return out[i].Post.LikesCount > out[j].Post.LikesCount
		}
		if !out[i].Post.CreatedAt.Equal(out[j].Post.CreatedAt) {
			return out[i].Post.CreatedAt.After(out[j].Post.CreatedAt)
		}
		return out[i].Post.ID < out[j].Post.ID
	})
	return out
}
