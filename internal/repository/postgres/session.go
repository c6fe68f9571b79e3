package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

var _ repository.SessionStore = (*SessionDB)(nil)

// SessionDB stores sessions in the sessions table, keyed by token hash.
type SessionDB struct {
	pool pool
	ttl  time.Duration
	now  func() time.Time
}

// Sessions returns a session store whose sessions live for ttl.
func (db *DB) Sessions(ttl time.Duration) *SessionDB {
	return &SessionDB{pool: db.pool, ttl: ttl, now: time.Now}
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

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions (id, user_id, token_hash, created_at, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.CreatedAt, sess.ExpiresAt,
	)
	if err != nil {
		return nil, "", oops.Code("SESSION_INSERT_FAILED").With("user_id", userID).Wrap(err)
	}
	return sess, token, nil
}

func (s *SessionDB) Resolve(ctx context.Context, token string) (*model.Session, error) {
	var sess model.Session
	err := s.pool.QueryRow(ctx,
		`SELECT id, user_id, token_hash, created_at, expires_at
		   FROM sessions WHERE token_hash = $1 AND expires_at > $2`,
		auth.HashToken(token), s.now().UTC(),
	).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound("session", "<redacted>")
		}
		return nil, oops.Code("SESSION_QUERY_FAILED").With("operation", "resolve session").Wrap(err)
	}
	return &sess, nil
}

func (s *SessionDB) Destroy(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, auth.HashToken(token)); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "destroy session").Wrap(err)
	}
	return nil
}

func (s *SessionDB) DestroyForUser(ctx context.Context, userID int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("operation", "destroy user sessions").With("user_id", userID).Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func (s *SessionDB) Prune(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, s.now().UTC())
	if err != nil {
		return 0, oops.Code("SESSION_DELETE_FAILED").With("operation", "prune sessions").Wrap(err)
	}
	return tag.RowsAffected(), nil
}
