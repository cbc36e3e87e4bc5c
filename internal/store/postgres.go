// Package store handles all database and cache interactions.
//
// postgres.go -- pgxpool connection setup and queries.
// Creates a connection pool at startup, shared across all handlers.
// All queries use parameterized statements (no string concatenation).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, so upserts can run
// standalone or inside the login transaction.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the durable user/session store backed by PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates and returns a verified connection pool
// to PostgreSQL wrapped in a store.
// Call once at startup from main.go...the returned store is safe for concurrent use.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	// Ping db to make sure connection works
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool}, nil
}

// Close shuts down the connection pool and releases all resources.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// CheckHealth pings the pool.
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// UpsertUser inserts a user keyed by identity, or bumps updated_at if it already exists.
func (s *PostgresStore) UpsertUser(ctx context.Context, identity string) (*User, error) {
	return pgUpsertUser(ctx, s.pool, identity)
}

// UpsertSession writes the single session row for userID, replacing any prior token hash and expiry.
func (s *PostgresStore) UpsertSession(ctx context.Context, userID uuid.UUID, tokenHash []byte, expiresAt time.Time) error {
	return pgUpsertSession(ctx, s.pool, userID, tokenHash, expiresAt)
}

// SaveLogin upserts the user and their session in one transaction.
// Either both rows are written or neither is.
func (s *PostgresStore) SaveLogin(ctx context.Context, identity string, tokenHash []byte, expiresAt time.Time) (*User, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning login transaction: %w", err)
	}
	// No-op after a successful Commit.
	defer tx.Rollback(ctx)

	user, err := pgUpsertUser(ctx, tx, identity)
	if err != nil {
		return nil, err
	}
	if err := pgUpsertSession(ctx, tx, user.ID, tokenHash, expiresAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing login transaction: %w", err)
	}
	return user, nil
}

// GetSessionByTokenHash fetches a non-expired session joined with its user's identity.
// Returns ErrNotFound if no row matches or the row has expired.
func (s *PostgresStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*Session, error) {
	var sess Session
	err := s.pool.QueryRow(ctx, `
		SELECT s.user_id, u.identity, s.token_hash, s.expires_at, s.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1 AND s.expires_at > now()`,
		tokenHash,
	).Scan(&sess.UserID, &sess.Identity, &sess.TokenHash, &sess.ExpiresAt, &sess.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	return &sess, nil
}

// DeleteSession removes the session row with the given token hash.
// Deleting a missing row is not an error.
func (s *PostgresStore) DeleteSession(ctx context.Context, tokenHash []byte) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE token_hash = $1", tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes sessions that expired before now, returns rows removed.
func (s *PostgresStore) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sessions WHERE expires_at <= now()")
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func pgUpsertUser(ctx context.Context, q pgQuerier, identity string) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	var u User
	// ON CONFLICT keeps the original id; RETURNING gives us whichever row won.
	err = q.QueryRow(ctx, `
		INSERT INTO users (id, identity) VALUES ($1, $2)
		ON CONFLICT (identity) DO UPDATE SET updated_at = now()
		RETURNING id, identity, created_at, updated_at`,
		id, identity,
	).Scan(&u.ID, &u.Identity, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	return &u, nil
}

func pgUpsertSession(ctx context.Context, q pgQuerier, userID uuid.UUID, tokenHash []byte, expiresAt time.Time) error {
	_, err := q.Exec(ctx, `
		INSERT INTO sessions (user_id, token_hash, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			token_hash = excluded.token_hash,
			expires_at = excluded.expires_at,
			created_at = now()`,
		userID, tokenHash, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}
