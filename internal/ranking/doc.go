// Package ranking scores candidate posts against a user's preference vector.
//
// The score is cosine similarity between the preference and the post
// embedding, multiplied by a recency boost that favors fresh content.
// Candidates below the similarity threshold, or lacking a usable embedding,
// are dropped. When the user has no preference vector the engine falls back
// to popularity ordering over the same candidate set.
//
// Basic usage:
//
//	engine := ranking.NewEngine(ranking.DefaultConfig(), logger, metrics)
//	scored := engine.Rank(ranking.RankRequest{
//		UserID:     userID,
//		Preference: pref,       // nil means no preference
//		Candidates: candidates,
//		Limit:      20,
//	})
//
// The engine never touches a store: callers assemble the candidate set
// (exclusions included) and hand it in.
package ranking
