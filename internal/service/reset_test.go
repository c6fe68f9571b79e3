package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/notify"
	"github.com/sakif/authcore/internal/repository/memory"
)

// =============================================================================
// RequestReset
// =============================================================================

func TestRequestReset_SendsLink(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob", "secret1", "bob@example.com")

	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	require.Equal(t, 1, f.notifier.count())

	msg := f.notifier.sent[0]
	assert.Equal(t, "bob@example.com", msg.To)
	assert.Equal(t, notify.ResetSubject, msg.Subject)
	assert.Contains(t, msg.Text, "https://app.example.com/reset-password/")
	assert.Contains(t, msg.HTML, "https://app.example.com/reset-password/")

	// Only the hash is stored.
	token := f.notifier.lastToken(t)
	stored, err := f.users.GetByEmail(ctx, "bob@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.ResetTokenHash)
	assert.Equal(t, auth.HashToken(token), *stored.ResetTokenHash)
	assert.NotEqual(t, token, *stored.ResetTokenHash)

	require.NotNil(t, stored.ResetTokenExpiry)
	assert.WithinDuration(t, time.Now().Add(DefaultResetTokenTTL), *stored.ResetTokenExpiry, time.Minute)
}

func TestRequestReset_UnknownEmailIsSilent(t *testing.T) {
	f := newFixture(t)

	for _, email := range []string{"nobody@example.com", ""} {
		require.NoError(t, f.requestReset(context.Background(), email))
	}
	assert.Equal(t, 0, f.notifier.count())
}

func TestRequestReset_NotifierFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("smtp down")
	f.register(t, "bob", "secret1", "bob@example.com")

	require.NoError(t, f.requestReset(context.Background(), "bob@example.com"))
	assert.Equal(t, 1, f.notifier.count())

	// The token was still issued.
	live, err := f.reset.VerifyResetToken(context.Background(), f.notifier.lastToken(t))
	require.NoError(t, err)
	assert.True(t, live)
}

// blockingNotifier holds every Send until release is closed and records
// the context it was given.
type blockingNotifier struct {
	release chan struct{}
	started chan struct{}
	ctxErr  error
	sent    atomic.Int32
}

func (n *blockingNotifier) Send(ctx context.Context, _ notify.Message) error {
	close(n.started)
	<-n.release
	n.ctxErr = ctx.Err()
	n.sent.Add(1)
	return nil
}

func TestRequestReset_DoesNotWaitForDelivery(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob", "secret1", "bob@example.com")

	notifier := &blockingNotifier{release: make(chan struct{}), started: make(chan struct{})}
	c := NewResetCoordinator(f.users, f.sessions, f.hasher, notifier, ResetConfig{}, nil, discardLogger())

	// The request context ends as soon as the handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, c.RequestReset(ctx, "bob@example.com"))
	cancel()

	// RequestReset returned while the relay is still stuck.
	<-notifier.started
	assert.Equal(t, int32(0), notifier.sent.Load())

	close(notifier.release)
	c.Wait()
	assert.Equal(t, int32(1), notifier.sent.Load())
	assert.NoError(t, notifier.ctxErr, "delivery must outlive the request context")
}

func TestRequestReset_DeliveryIsTimeBounded(t *testing.T) {
	f := newFixture(t)
	f.register(t, "bob", "secret1", "bob@example.com")

	var deadline time.Time
	var hasDeadline bool
	notifier := notifyFunc(func(ctx context.Context, _ notify.Message) error {
		deadline, hasDeadline = ctx.Deadline()
		return nil
	})
	c := NewResetCoordinator(f.users, f.sessions, f.hasher, notifier,
		ResetConfig{DeliveryTimeout: 5 * time.Second}, nil, discardLogger())

	require.NoError(t, c.RequestReset(context.Background(), "bob@example.com"))
	c.Wait()

	require.True(t, hasDeadline)
	assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, 2*time.Second)
}

type notifyFunc func(ctx context.Context, msg notify.Message) error

func (f notifyFunc) Send(ctx context.Context, msg notify.Message) error { return f(ctx, msg) }

func TestRequestReset_NewTokenInvalidatesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob", "secret1", "bob@example.com")

	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	first := f.notifier.lastToken(t)
	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	second := f.notifier.lastToken(t)
	require.NotEqual(t, first, second)

	live, err := f.reset.VerifyResetToken(ctx, first)
	require.NoError(t, err)
	assert.False(t, live)

	err = f.reset.ResetPassword(ctx, first, "newpass1")
	require.ErrorIs(t, err, apperror.ErrInvalidOrExpiredToken)

	require.NoError(t, f.reset.ResetPassword(ctx, second, "newpass1"))
}

func TestRequestReset_DirectoryFailure(t *testing.T) {
	users := &failingDirectory{UserDirectory: memory.NewUserDirectory(), failOn: map[string]bool{"GetByEmail": true}}
	sessions := memory.NewSessionStore(time.Hour, 0, discardLogger())
	notifier := &recordingNotifier{}
	c := NewResetCoordinator(users, sessions, auth.NewBcryptHasherForTest(), notifier, ResetConfig{}, nil, discardLogger())

	err := c.RequestReset(context.Background(), "bob@example.com")
	c.Wait()
	require.ErrorIs(t, err, apperror.ErrDependencyUnavailable)
	assert.Equal(t, 0, notifier.count())
}

// =============================================================================
// VerifyResetToken / ResetPassword
// =============================================================================

func TestVerifyResetToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob", "secret1", "bob@example.com")
	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	token := f.notifier.lastToken(t)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "issued token", token: token, want: true},
		{name: "unknown token", token: strings.Repeat("0", 64), want: false},
		{name: "empty token", token: "", want: false},
		{name: "stored hash is not a token", token: auth.HashToken(token), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live, err := f.reset.VerifyResetToken(ctx, tt.token)
			require.NoError(t, err)
			assert.Equal(t, tt.want, live)
		})
	}
}

func TestResetPassword_ChangesPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob", "secret1", "bob@example.com")
	require.NoError(t, f.requestReset(ctx, "bob@example.com"))

	require.NoError(t, f.reset.ResetPassword(ctx, f.notifier.lastToken(t), "newpass1"))

	_, err := f.authn.Login(ctx, "bob", "secret1")
	require.ErrorIs(t, err, apperror.ErrInvalidCredentials)
	_, err = f.authn.Login(ctx, "bob", "newpass1")
	require.NoError(t, err)

	stored, err := f.users.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	assert.Nil(t, stored.ResetTokenHash)
	assert.Nil(t, stored.ResetTokenExpiry)
}

func TestResetPassword_TokenIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob", "secret1", "bob@example.com")
	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	token := f.notifier.lastToken(t)

	require.NoError(t, f.reset.ResetPassword(ctx, token, "newpass1"))

	err := f.reset.ResetPassword(ctx, token, "newpass2")
	require.ErrorIs(t, err, apperror.ErrInvalidOrExpiredToken)

	_, err = f.authn.Login(ctx, "bob", "newpass1")
	require.NoError(t, err)
}

func TestResetPassword_ConcurrentRedemption(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob", "secret1", "bob@example.com")
	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	token := f.notifier.lastToken(t)

	const n = 6
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.reset.ResetPassword(ctx, token, "newpass1")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, apperror.ErrInvalidOrExpiredToken)
	}
	assert.Equal(t, 1, succeeded)
}

func TestResetPassword_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob", "secret1", "bob@example.com")
	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	token := f.notifier.lastToken(t)

	f.reset.now = func() time.Time { return time.Now().Add(DefaultResetTokenTTL + time.Second) }

	live, err := f.reset.VerifyResetToken(ctx, token)
	require.NoError(t, err)
	assert.False(t, live)

	err = f.reset.ResetPassword(ctx, token, "newpass1")
	require.ErrorIs(t, err, apperror.ErrInvalidOrExpiredToken)

	// The expired token is still on record; it just no longer verifies.
	stored, err := f.users.GetByUsername(ctx, "bob")
	require.NoError(t, err)
	require.NotNil(t, stored.ResetTokenHash)
	assert.Equal(t, auth.HashToken(token), *stored.ResetTokenHash)

	_, err = f.authn.Login(ctx, "bob", "secret1")
	require.NoError(t, err)
}

func TestResetPassword_EmptyPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "bob", "secret1", "bob@example.com")
	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	token := f.notifier.lastToken(t)

	err := f.reset.ResetPassword(ctx, token, "")
	require.ErrorIs(t, err, apperror.ErrValidation)

	// A rejected password leaves the token usable.
	require.NoError(t, f.reset.ResetPassword(ctx, token, "newpass1"))
}

func TestResetPassword_DestroysSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "bob", "secret1", "bob@example.com")
	login, err := f.authn.Login(ctx, "bob", "secret1")
	require.NoError(t, err)
	other := f.register(t, "alice", "secret1", "alice@example.com")

	require.NoError(t, f.requestReset(ctx, "bob@example.com"))
	require.NoError(t, f.reset.ResetPassword(ctx, f.notifier.lastToken(t), "newpass1"))

	for _, token := range []string{reg.SessionToken, login.SessionToken} {
		_, err := f.authn.CurrentUser(ctx, token)
		assert.ErrorIs(t, err, apperror.ErrUnauthorized)
	}

	_, err = f.authn.CurrentUser(ctx, other.SessionToken)
	assert.NoError(t, err)
}

func TestNewResetCoordinator_Defaults(t *testing.T) {
	c := NewResetCoordinator(nil, nil, nil, nil, ResetConfig{BaseURL: "https://x.test///"}, nil, discardLogger())
	assert.Equal(t, DefaultDeliveryTimeout, c.cfg.DeliveryTimeout)
	assert.Equal(t, DefaultResetTokenTTL, c.cfg.TokenTTL)
	assert.Equal(t, "https://x.test", c.cfg.BaseURL)
}
