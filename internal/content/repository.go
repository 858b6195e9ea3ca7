package content

import (
	"context"
	"sort"
	"sync"
)

// Store defines durable storage for posts and reactions.
//
// Reaction writes maintain the target post's likes counter in the same
// transaction, so each ingested event maps to exactly one atomic store call.
type Store interface {
	// GetPost retrieves a post by ID. Returns ErrPostNotFound when missing.
	GetPost(ctx context.Context, id string) (*Post, error)

	// CreatePost inserts a new post. Returns ErrAlreadyExists on a duplicate ID.
	CreatePost(ctx context.Context, p *Post) error

	// UpdatePostText replaces a post's text and embedding. A nil embedding
	// clears the stored vector. Returns ErrPostNotFound when missing.
	UpdatePostText(ctx context.Context, id, text string, embedding []float32) error

	// DeletePost removes a post. Returns ErrPostNotFound when missing.
	DeletePost(ctx context.Context, id string) error

	// GetReaction retrieves a reaction by ID. Returns ErrReactionNotFound when missing.
	GetReaction(ctx context.Context, id string) (*Reaction, error)

	// CreateReaction inserts a new reaction and, for a LIKE, increments the
	// target post's likes counter. Returns ErrAlreadyExists on a duplicate ID.
	CreateReaction(ctx context.Context, r *Reaction) error

	// UpdateReactionType mutates a reaction's type, adjusting the target
	// post's likes counter when the type flips. Returns ErrReactionNotFound
	// when missing.
	UpdateReactionType(ctx context.Context, id string, t ReactionType) error

	// DeleteReaction removes a reaction and, for a LIKE, decrements the
	// target post's likes counter. Returns ErrReactionNotFound when missing.
	DeleteReaction(ctx context.Context, id string) error

	// ListReactionsByAuthor returns all reactions authored by the user,
	// ordered by reaction ID for deterministic downstream computation.
	ListReactionsByAuthor(ctx context.Context, authorID string) ([]*Reaction, error)

	// ListPostsWithEmbedding returns the subset of the given posts that have
	// an embedding, ordered by post ID. Posts missing or lacking an embedding
	// are silently excluded.
	ListPostsWithEmbedding(ctx context.Context, ids []string) ([]*Post, error)

	// ListCandidatePosts returns posts with an embedding matching the filter,
	// ordered by created_at DESC, id ASC.
	ListCandidatePosts(ctx context.Context, f CandidateFilter) ([]*Post, error)

	// ListRecentPopularPosts returns posts with an embedding matching the
	// filter, ordered by likes_count DESC, created_at DESC, id ASC.
	ListRecentPopularPosts(ctx context.Context, f CandidateFilter) ([]*Post, error)
}

// InMemoryStore is an in-memory implementation of Store.
// Thread-safe via RWMutex; used by unit tests.
type InMemoryStore struct {
	mu        sync.RWMutex
	posts     map[string]*Post
	reactions map[string]*Reaction
}

// NewInMemoryStore creates an empty in-memory content store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		posts:     make(map[string]*Post),
		reactions: make(map[string]*Reaction),
	}
}

// GetPost retrieves a post by ID.
func (s *InMemoryStore) GetPost(_ context.Context, id string) (*Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	cp := clonePost(p)
	return &cp, nil
}

// CreatePost inserts a new post.
func (s *InMemoryStore) CreatePost(_ context.Context, p *Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[p.ID]; ok {
		return ErrAlreadyExists
	}
	cp := clonePost(p)
	s.posts[p.ID] = &cp
	return nil
}

// UpdatePostText replaces a post's text and embedding.
func (s *InMemoryStore) UpdatePostText(_ context.Context, id, text string, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return ErrPostNotFound
	}
	p.Text = text
	p.Embedding = cloneVector(embedding)
	return nil
}

// DeletePost removes a post.
func (s *InMemoryStore) DeletePost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return ErrPostNotFound
	}
	delete(s.posts, id)
	return nil
}

// GetReaction retrieves a reaction by ID.
func (s *InMemoryStore) GetReaction(_ context.Context, id string) (*Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reactions[id]
	if !ok {
		return nil, ErrReactionNotFound
	}
	cp := *r
	return &cp, nil
}

// CreateReaction inserts a new reaction and maintains the likes counter.
func (s *InMemoryStore) CreateReaction(_ context.Context, r *Reaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.reactions[r.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *r
	s.reactions[r.ID] = &cp
	if r.Type == ReactionLike {
		s.adjustLikesLocked(r.TargetID, 1)
	}
	return nil
}

// UpdateReactionType mutates a reaction's type and maintains the likes counter.
func (s *InMemoryStore) UpdateReactionType(_ context.Context, id string, t ReactionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reactions[id]
	if !ok {
		return ErrReactionNotFound
	}
	if r.Type == t {
		return nil
	}
	if r.Type == ReactionLike {
		s.adjustLikesLocked(r.TargetID, -1)
	}
	if t == ReactionLike {
		s.adjustLikesLocked(r.TargetID, 1)
	}
	r.Type = t
	return nil
}

// DeleteReaction removes a reaction and maintains the likes counter.
func (s *InMemoryStore) DeleteReaction(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reactions[id]
	if !ok {
		return ErrReactionNotFound
	}
	delete(s.reactions, id)
	if r.Type == ReactionLike {
		s.adjustLikesLocked(r.TargetID, -1)
	}
	return nil
}

// ListReactionsByAuthor returns all reactions authored by the user.
func (s *InMemoryStore) ListReactionsByAuthor(_ context.Context, authorID string) ([]*Reaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Reaction
	for _, r := range s.reactions {
		if r.AuthorID == authorID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListPostsWithEmbedding returns the subset of the given posts that have an embedding.
func (s *InMemoryStore) ListPostsWithEmbedding(_ context.Context, ids []string) ([]*Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Post
	for _, id := range ids {
		p, ok := s.posts[id]
		if !ok || p.Embedding == nil {
			continue
		}
		cp := clonePost(p)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListCandidatePosts returns embedded posts matching the filter, newest first.
func (s *InMemoryStore) ListCandidatePosts(_ context.Context, f CandidateFilter) ([]*Post, error) {
	s.mu.RLock()
	out := s.filterEmbeddedLocked(f)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return applyLimit(out, f.Limit), nil
}

// ListRecentPopularPosts returns embedded posts matching the filter, by likes then recency.
func (s *InMemoryStore) ListRecentPopularPosts(_ context.Context, f CandidateFilter) ([]*Post, error) {
	s.mu.RLock()
	out := s.filterEmbeddedLocked(f)
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LikesCount != out[j].LikesCount {
			return out[i].LikesCount > out[j].LikesCount
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return applyLimit(out, f.Limit), nil
}

func (s *InMemoryStore) filterEmbeddedLocked(f CandidateFilter) []*Post {
	excluded := make(map[string]struct{}, len(f.ExcludeIDs))
	for _, id := range f.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	var out []*Post
	for _, p := range s.posts {
		if p.Embedding == nil {
			continue
		}
		if f.ExcludeAuthorID != "" && p.AuthorID == f.ExcludeAuthorID {
			continue
		}
		if _, ok := excluded[p.ID]; ok {
			continue
		}
		cp := clonePost(p)
		out = append(out, &cp)
	}
	return out
}

// adjustLikesLocked shifts the likes counter of a post, clamping at zero.
// The post may have been deleted already; that is not an error.
func (s *InMemoryStore) adjustLikesLocked(postID string, delta int) {
	p, ok := s.posts[postID]
	if !ok {
		return
	}
	p.LikesCount += delta
	if p.LikesCount < 0 {
		p.LikesCount = 0
	}
}

func applyLimit(posts []*Post, limit int) []*Post {
	if limit > 0 && len(posts) > limit {
		return posts[:limit]
	}
	return posts
}

func clonePost(p *Post) Post {
	cp := *p
	cp.Embedding = cloneVector(p.Embedding)
	return cp
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
