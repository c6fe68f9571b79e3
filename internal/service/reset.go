package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/auth"
	"github.com/sakif/authcore/internal/metrics"
	"github.com/sakif/authcore/internal/notify"
	"github.com/sakif/authcore/internal/repository"
)

// DefaultResetTokenTTL is how long a reset link stays valid.
const DefaultResetTokenTTL = time.Hour

// DefaultDeliveryTimeout bounds one background reset e-mail delivery,
// retries included.
const DefaultDeliveryTimeout = time.Minute

// ResetConfig configures the reset flow.
type ResetConfig struct {
	// BaseURL is the public origin the reset link points at, e.g.
	// "https://app.example.com". The link is <BaseURL>/reset-password/<token>.
	BaseURL  string
	TokenTTL time.Duration

	// DeliveryTimeout bounds each background send. Zero means
	// DefaultDeliveryTimeout.
	DeliveryTimeout time.Duration
}

// ResetCoordinator runs the forgot-password flow.
//
// TOKEN STORAGE:
// The plaintext token only ever exists in the e-mail. The directory stores
// auth.HashToken(token), so a leaked users table cannot be used to reset
// anyone's password.
//
// DELIVERY:
// The e-mail is sent from a background goroutine detached from the request,
// so a slow or failing relay cannot make known addresses answer slower than
// unknown ones. Wait blocks until every pending send has finished.
type ResetCoordinator struct {
	users    repository.UserDirectory
	sessions repository.SessionStore
	hasher   auth.Hasher
	notifier notify.Notifier
	cfg      ResetConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	pending sync.WaitGroup
}

// NewResetCoordinator creates a ResetCoordinator. A zero TokenTTL means
// DefaultResetTokenTTL.
func NewResetCoordinator(
	users repository.UserDirectory,
	sessions repository.SessionStore,
	hasher auth.Hasher,
	notifier notify.Notifier,
	cfg ResetConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *ResetCoordinator {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultResetTokenTTL
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = DefaultDeliveryTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ResetCoordinator{
		users:    users,
		sessions: sessions,
		hasher:   hasher,
		notifier: notifier,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// RequestReset issues a reset token for email and mails the link.
//
// An unknown email returns nil without touching the directory or the
// notifier, so the response cannot be used to discover accounts. The mail
// goes out in the background; a delivery failure is logged and swallowed
// for the same reason.
func (c *ResetCoordinator) RequestReset(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "ResetCoordinator.RequestReset")
	defer func() { endSpan(span, err) }()
	defer func() { c.metrics.AuthAttempt("reset_request", outcome(err)) }()

	if email == "" {
		return nil
	}

	user, err := c.users.GetByEmail(ctx, email)
	if errors.Is(err, apperror.ErrNotFound) {
		c.logger.DebugContext(ctx, "reset requested for unknown email")
		return nil
	}
	if err != nil {
		return dependencyErr(depDirectory, err)
	}

	token, err := auth.NewResetToken()
	if err != nil {
		return fmt.Errorf("service/reset: generating token: %w", err)
	}

	// Overwrites any earlier token, so only the newest link works.
	expiry := c.now().Add(c.cfg.TokenTTL)
	if err := c.users.SetResetToken(ctx, user.ID, auth.HashToken(token), expiry); err != nil {
		return dependencyErr(depDirectory, err)
	}

	msg, err := notify.ResetEmail{
		Username: user.Username,
		Link:     c.cfg.BaseURL + "/reset-password/" + token,
		TTL:      c.cfg.TokenTTL.String(),
	}.Render(email)
	if err != nil {
		c.metrics.Notification(metrics.OutcomeError)
		c.logger.WarnContext(ctx, "rendering reset email failed",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	c.logger.InfoContext(ctx, "reset token issued", slog.Int64("userID", user.ID))
	c.deliver(ctx, user.ID, msg)
	return nil
}

// deliver sends msg in the background. The send keeps the request's values
// (trace ids) but not its cancellation, and is bounded by DeliveryTimeout.
func (c *ResetCoordinator) deliver(ctx context.Context, userID int64, msg notify.Message) {
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DeliveryTimeout)
		defer cancel()

		if err := c.notifier.Send(ctx, msg); err != nil {
			c.metrics.Notification(metrics.OutcomeError)
			c.logger.WarnContext(ctx, "sending reset email failed",
				slog.Int64("userID", userID),
				slog.String("error", err.Error()),
			)
			return
		}
		c.metrics.Notification(metrics.OutcomeSuccess)
	}()
}

// Wait blocks until every reset e-mail handed to the background has been
// sent or has failed.
func (c *ResetCoordinator) Wait() {
	c.pending.Wait()
}

// VerifyResetToken reports whether token is currently redeemable. The error
// is non-nil only when the directory itself fails.
func (c *ResetCoordinator) VerifyResetToken(ctx context.Context, token string) (_ bool, err error) {
	ctx, span := tracer.Start(ctx, "ResetCoordinator.VerifyResetToken")
	defer func() { endSpan(span, err) }()

	if token == "" {
		return false, nil
	}

	user, err := c.users.GetByResetToken(ctx, auth.HashToken(token))
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dependencyErr(depDirectory, err)
	}
	return user.ResetTokenLive(c.now()), nil
}

// ResetPassword redeems token and sets newPassword.
//
// The redemption itself is the directory's single conditional write, so of
// two concurrent calls with one token exactly one succeeds. Afterwards every
// session of the user is destroyed.
func (c *ResetCoordinator) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "ResetCoordinator.ResetPassword")
	defer func() { endSpan(span, err) }()
	defer func() { c.metrics.AuthAttempt("reset", outcome(err)) }()

	live, err := c.VerifyResetToken(ctx, token)
	if err != nil {
		return err
	}
	if !live {
		return apperror.InvalidOrExpiredToken()
	}
	if newPassword == "" {
		return apperror.ValidationFailed("password", "password is required")
	}

	digest, err := c.hasher.Hash(newPassword)
	if err != nil {
		if apperror.IsDomain(err) {
			return err
		}
		return fmt.Errorf("service/reset: hashing password: %w", err)
	}

	user, err := c.users.RedeemResetToken(ctx, auth.HashToken(token), digest, c.now())
	if err != nil {
		return dependencyErr(depDirectory, err)
	}

	n, err := c.sessions.DestroyForUser(ctx, user.ID)
	if err != nil {
		c.logger.WarnContext(ctx, "destroying sessions after reset failed",
			slog.Int64("userID", user.ID),
			slog.String("error", err.Error()),
		)
	}

	c.logger.InfoContext(ctx, "password reset",
		slog.Int64("userID", user.ID),
		slog.Int64("sessionsDestroyed", n),
	)
	return nil
}
