package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

var _ repository.SessionStore = (*SessionStore)(nil)

// SessionStore keeps sessions in a map keyed by token hash.
//
// PRUNING:
// A background goroutine removes expired sessions every pruneInterval
// under the write lock. Resolve checks expiry under the read lock, so a
// lookup either sees a live session or nothing; it can never observe a
// session the pruner is halfway through removing.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session // keyed by token hash
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSessionStore starts a store whose sessions live for ttl. When
// pruneInterval is positive a pruner goroutine runs until Close.
func NewSessionStore(ttl, pruneInterval time.Duration, logger *slog.Logger) *SessionStore {
	s := &SessionStore{
		sessions: make(map[string]*model.Session),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if pruneInterval > 0 {
		go s.pruneLoop(pruneInterval)
	} else {
		close(s.done)
	}
	return s
}

func (s *SessionStore) pruneLoop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			n, _ := s.Prune(context.Background())
			if n > 0 {
				s.logger.Info("pruned expired sessions", slog.Int64("count", n))
			}
		}
	}
}

// Close stops the pruner and waits for it to exit. Safe to call twice.
func (s *SessionStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *SessionStore) Create(_ context.Context, userID int64) (*model.Session, string, error) {
	token, err := auth.NewSessionToken()
	if err != nil {
		return nil, "", err
	}

	now := s.now()
	sess := &model.Session{
		ID:        ulid.Make().String(),
		UserID:    userID,
		TokenHash: auth.HashToken(token),
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}

	s.mu.Lock()
	s.sessions[sess.TokenHash] = sess
	s.mu.Unlock()

	c := *sess
	return &c, token, nil
}

func (s *SessionStore) Resolve(_ context.Context, token string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[auth.HashToken(token)]
	if !ok || sess.Expired(s.now()) {
		return nil, apperror.NotFound("session", "<redacted>")
	}
	c := *sess
	return &c, nil
}

func (s *SessionStore) Destroy(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, auth.HashToken(token))
	s.mu.Unlock()
	return nil
}

func (s *SessionStore) DestroyForUser(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for k, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, k)
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) Prune(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for k, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored sessions, expired or not.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
