package preference

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

// PostgresStore implements Store using PostgreSQL with the pgvector extension.
// The preference_embedding column is nullable; NULL is the explicit
// "no preference" sentinel.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get retrieves the preference row for a user.
func (s *PostgresStore) Get(ctx context.Context, userID string) (*UserPreference, error) {
	var pref UserPreference
	var vec sql.Null[pgvector.Vector]
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, preference_embedding, updated_at
		FROM user_preferences
		WHERE user_id = $1
	`, userID).Scan(&pref.UserID, &vec, &pref.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotComputed
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get preference: %s", ErrStoreUnavailable, err)
	}
	if vec.Valid {
		pref.Embedding = vec.V.Slice()
	}
	return &pref, nil
}

// Upsert writes the preference row, replacing any existing one.
func (s *PostgresStore) Upsert(ctx context.Context, pref *UserPreference) error {
	var vec any
	if pref.Embedding != nil {
		vec = pgvector.NewVector(pref.Embedding)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, preference_embedding, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET
			preference_embedding = EXCLUDED.preference_embedding,
			updated_at = EXCLUDED.updated_at
	`, pref.UserID, vec, pref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%w: upsert preference: %s", ErrStoreUnavailable, err)
	}
	return nil
}
