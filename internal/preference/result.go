// Package preference maintains per-user preference vectors behind a two-tier
// cache: a TTL'd fast cache (Redis) in front of a durable store (Postgres),
// kept consistent with the upstream reaction stream by eager
// recompute-on-write invalidation.
package preference

import "time"

// Result is the outcome of a preference lookup or computation.
//
// The zero value means "computed, no usable signal" — the user has no
// reactions, none of the reacted posts carry an embedding, or likes and
// dislikes canceled exactly. "Not yet computed" is a store-level state
// (a missing row) and never escapes the engine as a Result.
type Result struct {
	vector []float32
}

// NoPreference is the "computed, no usable signal" result.
func NoPreference() Result {
	return Result{}
}

// VectorOf wraps an L2-normalized preference vector.
func VectorOf(v []float32) Result {
	return Result{vector: v}
}

// Vector returns the preference vector and whether one exists.
func (r Result) Vector() ([]float32, bool) {
	if r.vector == nil {
		return nil, false
	}
	return r.vector, true
}

// UserPreference is the durable row for a user's preference state.
// A nil Embedding is the explicit "no preference" sentinel, distinct from the
// row being absent ("not yet computed").
type UserPreference struct {
	UserID    string
	Embedding []float32
	UpdatedAt time.Time
}
