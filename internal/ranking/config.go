package ranking

import (
	"fmt"
	"time"
)

// BoostTier maps a maximum post age to a score multiplier. A post whose age
// is at most MaxAge (inclusive) falls into the tier.
type BoostTier struct {
	MaxAge time.Duration `json:"max_age"`
	Factor float64       `json:"factor"`
}

// Config holds the ranking tunables.
type Config struct {
	// MinSimilarity is the inclusive lower bound on cosine similarity.
	// Candidates scoring below it are dropped before boosting.
	MinSimilarity float64 `json:"min_similarity"`

	// Tiers is the recency boost ladder, ordered by ascending MaxAge.
	// Posts older than the last tier receive BaseFactor.
	Tiers []BoostTier `json:"tiers"`

	// BaseFactor applies to posts older than every tier. Typically 1.0.
	BaseFactor float64 `json:"base_factor"`
}

// DefaultConfig returns the production boost ladder.
//
// Fresh content is favored aggressively in the first hours and the boost
// decays to neutral after a week:
//
//	<= 1h  -> 2.0
//	<= 6h  -> 1.8
//	<= 24h -> 1.5
//	<= 3d  -> 1.3
//	<= 7d  -> 1.1
//	older  -> 1.0
func DefaultConfig() Config {
	return Config{
		MinSimilarity: 0.1,
		Tiers: []BoostTier{
			{MaxAge: time.Hour, Factor: 2.0},
			{MaxAge: 6 * time.Hour, Factor: 1.8},
			{MaxAge: 24 * time.Hour, Factor: 1.5},
			{MaxAge: 3 * 24 * time.Hour, Factor: 1.3},
			{MaxAge: 7 * 24 * time.Hour, Factor: 1.1},
		},
		BaseFactor: 1.0,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MinSimilarity < -1 || c.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity %f outside [-1, 1]", c.MinSimilarity)
	}
	if c.BaseFactor <= 0 {
		return fmt.Errorf("base_factor must be positive, got %f", c.BaseFactor)
	}
	var prev time.Duration
	for i, tier := range c.Tiers {
		if tier.MaxAge <= prev {
			return fmt.Errorf("tier %d: max_age %s not greater than previous %s", i, tier.MaxAge, prev)
		}
		if tier.Factor <= 0 {
			return fmt.Errorf("tier %d: factor must be positive, got %f", i, tier.Factor)
		}
		prev = tier.MaxAge
	}
	return nil
}

// RecencyBoost returns the multiplier for a post of the given age. Tier
// boundaries are inclusive on the lower bucket: a post exactly one boundary
// old gets the younger tier's factor. Negative ages (clock skew) are treated
// as zero.
func (c Config) RecencyBoost(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	for _, tier := range c.Tiers {
		if age <= tier.MaxAge {
			return tier.Factor
		}
	}
	return c.BaseFactor
}
