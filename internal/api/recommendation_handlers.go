package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/pastach/recsvc/internal/content"
	"github.com/pastach/recsvc/internal/preference"
	"github.com/pastach/recsvc/internal/ranking"
)

// RecommendationHandlers serves ranked post recommendations.
type RecommendationHandlers struct {
	store  content.Store
	prefs  *preference.Engine
	ranker *ranking.Engine
	logger *slog.Logger

	// defaultLimit applies when the request carries no limit parameter.
	defaultLimit int
}

// NewRecommendationHandlers creates the recommendations handler.
func NewRecommendationHandlers(store content.Store, prefs *preference.Engine, ranker *ranking.Engine, defaultLimit int, logger *slog.Logger) *RecommendationHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &RecommendationHandlers{
		store:        store,
		prefs:        prefs,
		ranker:       ranker,
		logger:       logger,
		defaultLimit: defaultLimit,
	}
}

// RecommendedPost is one entry in the recommendations response. Field names
// follow the upstream event schema (camelCase).
type RecommendedPost struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"authorId"`
	Text       string    `json:"text,omitempty"`
	PhotoURL   string    `json:"photoUrl,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LikesCount int       `json:"likesCount"`
	Score      float64   `json:"similarityScore"`
}

// RecommendationsResponse is the envelope for GET /api/v1/recommendations.
type RecommendationsResponse struct {
	UserID          string            `json:"user_id"`
	Recommendations []RecommendedPost `json:"recommendations"`
	TotalCount      int               `json:"total_count"`
}

// Recommendations handles GET /api/v1/recommendations.
//
// Query parameters:
//
//	user_id              required
//	limit                optional, defaults to the configured top-N
//	exclude_author_posts optional bool, defaults to true
//
// The exclusion set (the user's own posts and posts they already reacted to)
// is assembled here; the ranking engine only scores what it is handed.
func (h *RecommendationHandlers) Recommendations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteError(w, r.Context(), http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}
	ctx := r.Context()

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "user_id is required")
		return
	}

	limit := h.defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = n
	}

	excludeAuthor := true
	if raw := r.URL.Query().Get("exclude_author_posts"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "exclude_author_posts must be a boolean")
			return
		}
		excludeAuthor = b
	}

	res, err := h.prefs.Get(ctx, userID)
	if err != nil {
		h.logger.Error("preference lookup failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to get recommendations")
		return
	}

	filter := content.CandidateFilter{}
	if excludeAuthor {
		filter.ExcludeAuthorID = userID
	}

	pref, hasPref := res.Vector()
	var candidates []*content.Post
	if hasPref {
		reacted, err := h.store.ListReactionsByAuthor(ctx, userID)
		if err != nil {
			h.logger.Error("listing reactions failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to get recommendations")
			return
		}
		for _, reaction := range reacted {
			filter.ExcludeIDs = append(filter.ExcludeIDs, reaction.TargetID)
		}
		candidates, err = h.store.ListCandidatePosts(ctx, filter)
		if err != nil {
			h.logger.Error("listing candidates failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to get recommendations")
			return
		}
	} else {
		filter.Limit = limit
		candidates, err = h.store.ListRecentPopularPosts(ctx, filter)
		if err != nil {
			h.logger.Error("listing popular posts failed",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to get recommendations")
			return
		}
	}

	scored := h.ranker.Rank(ranking.RankRequest{
		UserID:     userID,
		Preference: pref,
		Candidates: candidates,
		Limit:      limit,
	})

	out := make([]RecommendedPost, 0, len(scored))
	for _, s := range scored {
		out = append(out, RecommendedPost{
			ID:         s.Post.ID,
			AuthorID:   s.Post.AuthorID,
			Text:       s.Post.Text,
			PhotoURL:   s.Post.PhotoURL,
			CreatedAt:  s.Post.CreatedAt,
			LikesCount: s.Post.LikesCount,
			Score:      s.Score,
		})
	}

	response := RecommendationsResponse{
		UserID:          userID,
		Recommendations: out,
		TotalCount:      len(out),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode recommendations response", slog.String("error", err.Error()))
	}
}
