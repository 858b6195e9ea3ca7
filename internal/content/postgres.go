package content

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PostgresStore implements Store using PostgreSQL with the pgvector extension.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

const postColumns = "id, author_id, text, photo_url, embedding, likes_count, created_at"

// GetPost retrieves a post by ID.
func (s *PostgresStore) GetPost(ctx context.Context, id string) (*Post, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE id = $1
	`, id)

	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post: %w", err)
	}
	return p, nil
}

// CreatePost inserts a new post.
func (s *PostgresStore) CreatePost(ctx context.Context, p *Post) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO posts (id, author_id, text, photo_url, embedding, likes_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, p.ID, p.AuthorID, p.Text, p.PhotoURL, vectorParam(p.Embedding), p.LikesCount, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("create post: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create post rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// UpdatePostText replaces a post's text and embedding.
func (s *PostgresStore) UpdatePostText(ctx context.Context, id, text string, embedding []float32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET text = $2, embedding = $3
		WHERE id = $1
	`, id, text, vectorParam(embedding))
	if err != nil {
		return fmt.Errorf("update post: %w", err)
	}
	return requireAffected(res, ErrPostNotFound)
}

// DeletePost removes a post.
func (s *PostgresStore) DeletePost(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return requireAffected(res, ErrPostNotFound)
}

// GetReaction retrieves a reaction by ID.
func (s *PostgresStore) GetReaction(ctx context.Context, id string) (*Reaction, error) {
	var r Reaction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, target_id, author_id, type, created_at
		FROM reactions
		WHERE id = $1
	`, id).Scan(&r.ID, &r.TargetID, &r.AuthorID, &r.Type, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reaction: %w", err)
	}
	return &r, nil
}

// CreateReaction inserts a new reaction and maintains the likes counter in
// the same transaction.
func (s *PostgresStore) CreateReaction(ctx context.Context, r *Reaction) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO reactions (id, target_id, author_id, type, created_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.TargetID, r.AuthorID, r.Type, r.CreatedAt)
		if err != nil {
			return fmt.Errorf("create reaction: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("create reaction rows affected: %w", err)
		}
		if n == 0 {
			return ErrAlreadyExists
		}
		if r.Type == ReactionLike {
			return adjustLikes(ctx, tx, r.TargetID, 1)
		}
		return nil
	})
}

// UpdateReactionType mutates a reaction's type, adjusting the likes counter
// when the type flips.
func (s *PostgresStore) UpdateReactionType(ctx context.Context, id string, t ReactionType) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var targetID string
		var current ReactionType
		err := tx.QueryRowContext(ctx, `
			SELECT target_id, type FROM reactions WHERE id = $1 FOR UPDATE
		`, id).Scan(&targetID, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReactionNotFound
		}
		if err != nil {
			return fmt.Errorf("lock reaction: %w", err)
		}
		if current == t {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE reactions SET type = $2 WHERE id = $1`, id, t); err != nil {
			return fmt.Errorf("update reaction: %w", err)
		}
		if current == ReactionLike {
			if err := adjustLikes(ctx, tx, targetID, -1); err != nil {
				return err
			}
		}
		if t == ReactionLike {
			if err := adjustLikes(ctx, tx, targetID, 1); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteReaction removes a reaction and maintains the likes counter.
func (s *PostgresStore) DeleteReaction(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var targetID string
		var t ReactionType
		err := tx.QueryRowContext(ctx, `
			DELETE FROM reactions WHERE id = $1 RETURNING target_id, type
		`, id).Scan(&targetID, &t)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrReactionNotFound
		}
		if err != nil {
			return fmt.Errorf("delete reaction: %w", err)
		}
		if t == ReactionLike {
			return adjustLikes(ctx, tx, targetID, -1)
		}
		return nil
	})
}

// ListReactionsByAuthor returns all reactions authored by the user.
func (s *PostgresStore) ListReactionsByAuthor(ctx context.Context, authorID string) ([]*Reaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_id, author_id, type, created_at
		FROM reactions
		WHERE author_id = $1
		ORDER BY id ASC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list reactions: %w", err)
	}
	defer rows.Close()

	var out []*Reaction
	for rows.Next() {
		var r Reaction
		if err := rows.Scan(&r.ID, &r.TargetID, &r.AuthorID, &r.Type, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reaction: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListPostsWithEmbedding returns the subset of the given posts that have an embedding.
func (s *PostgresStore) ListPostsWithEmbedding(ctx context.Context, ids []string) ([]*Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts
		WHERE id = ANY($1) AND embedding IS NOT NULL
		ORDER BY id ASC
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("list posts with embedding: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// ListCandidatePosts returns embedded posts matching the filter, newest first.
func (s *PostgresStore) ListCandidatePosts(ctx context.Context, f CandidateFilter) ([]*Post, error) {
	query, args := candidateQuery(f, "created_at DESC, id ASC")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list candidate posts: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// ListRecentPopularPosts returns embedded posts matching the filter, by likes then recency.
func (s *PostgresStore) ListRecentPopularPosts(ctx context.Context, f CandidateFilter) ([]*Post, error) {
	query, args := candidateQuery(f, "likes_count DESC, created_at DESC, id ASC")
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent popular posts: %w", err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// candidateQuery builds the filtered candidate listing with the given ordering.
func candidateQuery(f CandidateFilter, orderBy string) (string, []any) {
	where := []string{"embedding IS NOT NULL"}
	args := []any{}

	if f.ExcludeAuthorID != "" {
		args = append(args, f.ExcludeAuthorID)
		where = append(where, fmt.Sprintf("author_id <> $%d", len(args)))
	}
	if len(f.ExcludeIDs) > 0 {
		args = append(args, pq.Array(f.ExcludeIDs))
		where = append(where, fmt.Sprintf("NOT (id = ANY($%d))", len(args)))
	}

	query := `SELECT ` + postColumns + ` FROM posts WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + orderBy
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return query, args
}

// inTx runs fn inside a transaction, committing on success.
func (s *PostgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.logger.Warn("failed to rollback transaction", slog.String("error", err.Error()))
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// adjustLikes shifts the likes counter of a post, clamping at zero. A missing
// post (already deleted) is not an error.
func adjustLikes(ctx context.Context, tx *sql.Tx, postID string, delta int) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE posts
		SET likes_count = GREATEST(likes_count + $2, 0)
		WHERE id = $1
	`, postID, delta)
	if err != nil {
		return fmt.Errorf("adjust likes count: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	var p Post
	var text, photoURL sql.NullString
	var vec sql.Null[pgvector.Vector]
	if err := row.Scan(&p.ID, &p.AuthorID, &text, &photoURL, &vec, &p.LikesCount, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Text = text.String
	p.PhotoURL = photoURL.String
	if vec.Valid {
		p.Embedding = vec.V.Slice()
	}
	return &p, nil
}

func scanPosts(rows *sql.Rows) ([]*Post, error) {
	var out []*Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// vectorParam converts an optional embedding to a query parameter,
// mapping nil to SQL NULL.
func vectorParam(v []float32) any {
	if v == nil {
		return nil
	}
	return pgvector.NewVector(v)
}

// requireAffected maps a zero-row write to the given sentinel.
func requireAffected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}
