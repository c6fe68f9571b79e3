package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

var _ repository.SessionStore = (*SessionDB)(nil)

// SessionDB stores sessions in the sessions table. Only the SHA-256 of the
// token is written; a leaked database file cannot be replayed as cookies.
type SessionDB struct {
	conn *sql.DB
	ttl  time.Duration
	now  func() time.Time
}

// Sessions returns a session store whose sessions live for ttl.
func (db *DB) Sessions(ttl time.Duration) *SessionDB {
	return &SessionDB{conn: db.conn, ttl: ttl, now: time.Now}
}

func (s *SessionDB) Create(ctx context.Context, userID int64) (*model.Session, string, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return nil, "", err
	}

	now := s.now().UTC()
	sess := &model.Session{
		ID:        ulid.Make().String(),
		UserID:    userID,
		TokenHash: auth.HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	_, err = s.conn.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.CreatedAt, sess.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite: inserting session for user %d: %w", userID, err)
	}
	return sess, token, nil
}

// Resolve filters on expires_at in SQL, so an expired row is never returned
// even if the janitor has not removed it yet.
func (s *SessionDB) Resolve(ctx context.Context, token string) (*model.Session, error) {
	var (
		sess    model.Session
		expires int64
	)
	err := s.conn.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at
		   FROM sessions WHERE token_hash = ? AND expires_at > ?`,
		auth.HashToken(token), s.now().UnixNano(),
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CreatedAt, &expires)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("session", "<redacted>")
		}
		return nil, fmt.Errorf("sqlite: resolving session: %w", err)
	}
	sess.ExpiresAt = time.Unix(0, expires)
	return &sess, nil
}

func (s *SessionDB) Destroy(ctx context.Context, token string) error {
	if _, err := s.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE token_hash = ?`, auth.HashToken(token)); err != nil {
		return fmt.Errorf("sqlite: deleting session: %w", err)
	}
	return nil
}

func (s *SessionDB) DestroyForUser(ctx context.Context, userID int64) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("sqlite: deleting sessions of user %d: %w", userID, err)
	}
	return res.RowsAffected()
}

func (s *SessionDB) Prune(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM sessions WHERE expires_at <= ?`, s.now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("sqlite: pruning sessions: %w", err)
	}
	return res.RowsAffected()
}
