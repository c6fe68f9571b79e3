// Package redis stores sessions in Redis.
//
// KEY LAYOUT:
//
//	session:<token hash>        JSON record, expires with the session (SET ... EX)
//	user_sessions:<user id>     set of token hashes, for DestroyForUser
//
// Redis expires session keys on its own, so Prune has nothing to do. The
// per-user set may briefly hold hashes of sessions Redis already expired;
// DestroyForUser counts only keys it actually deleted.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

var _ repository.SessionStore = (*SessionStore)(nil)

// client is the subset of *redis.Client the store uses.
type client interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...any) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

// Options configures the connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// SessionStore is a Redis-backed repository.SessionStore.
type SessionStore struct {
	rdb   client
	ttl   time.Duration
	now   func() time.Time
	close func() error
}

// record is the JSON stored under session:<hash>.
type record struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Connect opens a client and verifies the connection.
func Connect(ctx context.Context, opts Options, ttl time.Duration) (*SessionStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, oops.Code("REDIS_CONNECT_FAILED").With("addr", opts.Addr).Wrap(err)
	}

	s := newSessionStore(rdb, ttl)
	s.close = rdb.Close
	return s, nil
}

func newSessionStore(rdb client, ttl time.Duration) *SessionStore {
	return &SessionStore{rdb: rdb, ttl: ttl, now: time.Now, close: func() error { return nil }}
}

func sessionKey(tokenHash string) string { return "session:" + tokenHash }

func userKey(userID int64) string { return "user_sessions:" + strconv.FormatInt(userID, 10) }

// Close closes the underlying client.
func (s *SessionStore) Close() error {
	return s.close()
}

// Ping reports whether Redis is reachable.
func (s *SessionStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *SessionStore) Create(ctx context.Context, userID int64) (*model.Session, string, error) {
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

	payload, err := json.Marshal(record{
		ID:        sess.ID,
		UserID:    sess.UserID,
		CreatedAt: sess.CreatedAt,
		ExpiresAt: sess.ExpiresAt,
	})
	if err != nil {
		return nil, "", oops.Code("SESSION_ENCODE_FAILED").Wrap(err)
	}

	if err := s.rdb.Set(ctx, sessionKey(sess.TokenHash), payload, s.ttl).Err(); err != nil {
		return nil, "", oops.Code("SESSION_INSERT_FAILED").With("user_id", userID).Wrap(err)
	}
	if err := s.rdb.SAdd(ctx, userKey(userID), sess.TokenHash).Err(); err != nil {
		return nil, "", oops.Code("SESSION_INSERT_FAILED").With("user_id", userID).Wrap(err)
	}
	// The index lives as long as the newest session.
	if err := s.rdb.Expire(ctx, userKey(userID), s.ttl).Err(); err != nil {
		return nil, "", oops.Code("SESSION_INSERT_FAILED").With("user_id", userID).Wrap(err)
	}
	return sess, token, nil
}

// lookup fetches the record stored under tokenHash.
func (s *SessionStore) lookup(ctx context.Context, tokenHash string) (*model.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, apperror.NotFound("session", "<redacted>")
		}
		return nil, oops.Code("SESSION_QUERY_FAILED").Wrap(err)
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").Wrap(err)
	}
	return &model.Session{
		ID:        rec.ID,
		UserID:    rec.UserID,
		TokenHash: tokenHash,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}, nil
}

func (s *SessionStore) Resolve(ctx context.Context, token string) (*model.Session, error) {
	sess, err := s.lookup(ctx, auth.HashToken(token))
	if err != nil {
		return nil, err
	}
	// Key expiry has second granularity; the record's own deadline is exact.
	if sess.Expired(s.now()) {
		return nil, apperror.NotFound("session", "<redacted>")
	}
	return sess, nil
}

func (s *SessionStore) Destroy(ctx context.Context, token string) error {
	tokenHash := auth.HashToken(token)
	sess, err := s.lookup(ctx, tokenHash)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := s.rdb.Del(ctx, sessionKey(tokenHash)).Err(); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "destroy session").Wrap(err)
	}
	if err := s.rdb.SRem(ctx, userKey(sess.UserID), tokenHash).Err(); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("operation", "unindex session").Wrap(err)
	}
	return nil
}

func (s *SessionStore) DestroyForUser(ctx context.Context, userID int64) (int64, error) {
	hashes, err := s.rdb.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return 0, oops.Code("SESSION_QUERY_FAILED").With("user_id", userID).Wrap(err)
	}

	var n int64
	if len(hashes) > 0 {
		keys := make([]string, len(hashes))
		for i, h := range hashes {
			keys[i] = sessionKey(h)
		}
		n, err = s.rdb.Del(ctx, keys...).Result()
		if err != nil {
			return 0, oops.Code("SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
		}
	}

	if err := s.rdb.Del(ctx, userKey(userID)).Err(); err != nil {
		return n, oops.Code("SESSION_DELETE_FAILED").With("user_id", userID).Wrap(err)
	}
	return n, nil
}

// Prune is a no-op: Redis expires session keys itself.
func (s *SessionStore) Prune(context.Context) (int64, error) {
	return 0, nil
}
