// sqlite.go -- Single-file store for development and single-node deployments.
// Same semantics as PostgresStore; timestamps are stored as unix seconds.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

// sqliteQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqliteQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the user/session store backed by an embedded SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an ephemeral database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// CheckHealth pings the database.
func (s *SQLiteStore) CheckHealth(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertUser inserts a user keyed by identity, or bumps updated_at if it already exists.
func (s *SQLiteStore) UpsertUser(ctx context.Context, identity string) (*User, error) {
	return s.upsertUser(ctx, s.db, identity)
}

// UpsertSession writes the single session row for userID, replacing any prior token hash and expiry.
func (s *SQLiteStore) UpsertSession(ctx context.Context, userID uuid.UUID, tokenHash []byte, expiresAt time.Time) error {
	return s.upsertSession(ctx, s.db, userID, tokenHash, expiresAt)
}

// SaveLogin upserts the user and their session in one transaction.
func (s *SQLiteStore) SaveLogin(ctx context.Context, identity string, tokenHash []byte, expiresAt time.Time) (*User, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning login transaction: %w", err)
	}
	defer tx.Rollback()

	user, err := s.upsertUser(ctx, tx, identity)
	if err != nil {
		return nil, err
	}
	if err := s.upsertSession(ctx, tx, user.ID, tokenHash, expiresAt); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing login transaction: %w", err)
	}
	return user, nil
}

// GetSessionByTokenHash fetches a non-expired session joined with its user's identity.
// Returns ErrNotFound if no row matches or the row has expired.
func (s *SQLiteStore) GetSessionByTokenHash(ctx context.Context, tokenHash []byte) (*Session, error) {
	var (
		sess                 Session
		userID               string
		expiresAt, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT s.user_id, u.identity, s.token_hash, s.expires_at, s.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = ? AND s.expires_at > ?`,
		tokenHash, s.now().Unix(),
	).Scan(&userID, &sess.Identity, &sess.TokenHash, &expiresAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetching session: %w", err)
	}
	if sess.UserID, err = uuid.FromString(userID); err != nil {
		return nil, fmt.Errorf("parsing session user id: %w", err)
	}
	sess.ExpiresAt = time.Unix(expiresAt, 0)
	sess.CreatedAt = time.Unix(createdAt, 0)
	return &sess, nil
}

// DeleteSession removes the session row with the given token hash.
func (s *SQLiteStore) DeleteSession(ctx context.Context, tokenHash []byte) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE token_hash = ?", tokenHash); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions deletes sessions that expired before now, returns rows removed.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE expires_at <= ?", s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleaning up sessions: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) upsertUser(ctx context.Context, q sqliteQuerier, identity string) (*User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating user id: %w", err)
	}
	now := s.now().Unix()

	var (
		u                    User
		rawID                string
		createdAt, updatedAt int64
	)
	err = q.QueryRowContext(ctx, `
		INSERT INTO users (id, identity, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (identity) DO UPDATE SET updated_at = excluded.updated_at
		RETURNING id, identity, created_at, updated_at`,
		id.String(), identity, now, now,
	).Scan(&rawID, &u.Identity, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("upserting user: %w", err)
	}
	if u.ID, err = uuid.FromString(rawID); err != nil {
		return nil, fmt.Errorf("parsing user id: %w", err)
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	u.UpdatedAt = time.Unix(updatedAt, 0)
	return &u, nil
}

func (s *SQLiteStore) upsertSession(ctx context.Context, q sqliteQuerier, userID uuid.UUID, tokenHash []byte, expiresAt time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO sessions (user_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			token_hash = excluded.token_hash,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at`,
		userID.String(), tokenHash, expiresAt.Unix(), s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}
