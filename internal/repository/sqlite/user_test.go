package sqlite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/model"
)

// TESTING WITH IN-MEMORY SQLITE:
// Using ":memory:" creates a fresh database that exists only during the test.
// Benefits:
// - Fast: no disk I/O
// - Isolated: each test gets its own database
// - Clean: automatically destroyed when the connection closes
//
// newTestDB is a "test helper": a function used only in tests to reduce boilerplate.
// The `t.Helper()` call tells Go's test framework to report errors at the CALLER's
// line number, not inside this function.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// newTestUserDB returns a *UserDB backed by a fresh in-memory DB.
func newTestUserDB(t *testing.T) (*DB, *UserDB) {
	t.Helper()
	db := newTestDB(t)
	return db, db.Users()
}

// createTestUser is a test helper that creates a user and fails the test if it errors.
func createTestUser(t *testing.T, u *UserDB, username, email string) *model.User {
	t.Helper()
	user := &model.User{
		Username:       username,
		Email:          model.StringPtr(email),
		PasswordDigest: "$2a$04$digest",
		FirstName:      model.StringPtr("Test"),
	}
	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestUserCreate(t *testing.T) {
	_, u := newTestUserDB(t)

	user := &model.User{
		Username:       "testuser",
		Email:          model.StringPtr("test@example.com"),
		PasswordDigest: "$2a$04$digest",
		AvatarURL:      model.StringPtr("https://example.com/avatar.png"),
	}

	if err := u.Create(context.Background(), user); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Verify the user was modified in-place (pointer receiver)
	if user.ID == 0 {
		t.Error("Create() did not set user.ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("Create() did not set user.CreatedAt")
	}
	if user.UpdatedAt.IsZero() {
		t.Error("Create() did not set user.UpdatedAt")
	}

	second := createTestUser(t, u, "second", "")
	if second.ID <= user.ID {
		t.Errorf("second ID = %d, want > %d", second.ID, user.ID)
	}
}

func TestUserCreate_DuplicateUsername(t *testing.T) {
	_, u := newTestUserDB(t)
	createTestUser(t, u, "taken", "first@example.com")

	err := u.Create(context.Background(), &model.User{
		Username:       "taken",
		Email:          model.StringPtr("second@example.com"),
		PasswordDigest: "x",
	})
	if !errors.Is(err, apperror.ErrDuplicateUsername) {
		t.Fatalf("Create() error = %v, want ErrDuplicateUsername", err)
	}
}

func TestUserCreate_DuplicateEmail(t *testing.T) {
	_, u := newTestUserDB(t)
	createTestUser(t, u, "first", "shared@example.com")

	err := u.Create(context.Background(), &model.User{
		Username:       "second",
		Email:          model.StringPtr("shared@example.com"),
		PasswordDigest: "x",
	})
	if !errors.Is(err, apperror.ErrDuplicateEmail) {
		t.Fatalf("Create() error = %v, want ErrDuplicateEmail", err)
	}
}

// The driver appends the extended result code to the message, e.g.
// "... users.username (2067)". It must not leak into the column name.
func TestConstraintColumn(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"constraint failed: UNIQUE constraint failed: users.username (2067)", "users.username"},
		{"constraint failed: UNIQUE constraint failed: users.email (2067)", "users.email"},
		{"UNIQUE constraint failed: users.username", "users.username"},
		{"disk I/O error", ""},
	}

	for _, tt := range tests {
		if got := constraintColumn(tt.msg); got != tt.want {
			t.Errorf("constraintColumn(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

// The duplicate errors carry the field so the API can point at it.
func TestUserCreate_DuplicateCarriesField(t *testing.T) {
	_, u := newTestUserDB(t)
	createTestUser(t, u, "taken", "taken@example.com")

	tests := []struct {
		name      string
		user      *model.User
		wantField string
	}{
		{"username", &model.User{Username: "taken", PasswordDigest: "x"}, "username"},
		{"email", &model.User{Username: "fresh", Email: model.StringPtr("taken@example.com"), PasswordDigest: "x"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := u.Create(context.Background(), tt.user)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("Create() error = %v, want *apperror.AppError", err)
			}
			if appErr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", appErr.Field, tt.wantField)
			}
		})
	}
}

// Many users may have no email: NULLs never collide under UNIQUE.
func TestUserCreate_ManyWithoutEmail(t *testing.T) {
	_, u := newTestUserDB(t)
	createTestUser(t, u, "noemail1", "")
	createTestUser(t, u, "noemail2", "")
}

func TestUserCreate_ConcurrentSameUsername(t *testing.T) {
	_, u := newTestUserDB(t)

	const workers = 8
	var (
		wg       sync.WaitGroup
		created  atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := u.Create(context.Background(), &model.User{Username: "racer", PasswordDigest: "x"})
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, apperror.ErrDuplicateUsername):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("created = %d, want 1", created.Load())
	}
	if rejected.Load() != workers-1 {
		t.Errorf("rejected = %d, want %d", rejected.Load(), workers-1)
	}
}

// =========================================================================
// LOOKUP TESTS
// =========================================================================

func TestUserGetters(t *testing.T) {
	_, u := newTestUserDB(t)
	created := createTestUser(t, u, "lookup_user", "lookup@example.com")
	ctx := context.Background()

	byName, err := u.GetByUsername(ctx, "lookup_user")
	if err != nil {
		t.Fatalf("GetByUsername() error = %v", err)
	}
	byEmail, err := u.GetByEmail(ctx, "lookup@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() error = %v", err)
	}
	byID, err := u.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}

	for _, got := range []*model.User{byName, byEmail, byID} {
		if got.ID != created.ID {
			t.Errorf("ID = %d, want %d", got.ID, created.ID)
		}
		if got.PasswordDigest != "$2a$04$digest" {
			t.Errorf("PasswordDigest = %q", got.PasswordDigest)
		}
		if got.FirstName == nil || *got.FirstName != "Test" {
			t.Errorf("FirstName = %v, want Test", got.FirstName)
		}
		if got.LastName != nil {
			t.Errorf("LastName = %v, want nil", *got.LastName)
		}
		if got.ResetTokenHash != nil || got.ResetTokenExpiry != nil {
			t.Error("fresh user should hold no reset token")
		}
	}
}

func TestUserGetters_NotFound(t *testing.T) {
	_, u := newTestUserDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"username", func() error { _, err := u.GetByUsername(ctx, "ghost"); return err }},
		{"email", func() error { _, err := u.GetByEmail(ctx, "ghost@example.com"); return err }},
		{"id", func() error { _, err := u.GetByID(ctx, 4242); return err }},
		{"reset token", func() error { _, err := u.GetByResetToken(ctx, "nope"); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, apperror.ErrNotFound) {
				t.Errorf("error = %v, want ErrNotFound", err)
			}
		})
	}
}

// =========================================================================
// UPDATE TESTS
// =========================================================================

func TestUserSetPasswordDigest(t *testing.T) {
	_, u := newTestUserDB(t)
	created := createTestUser(t, u, "rehash", "")
	ctx := context.Background()

	if err := u.SetPasswordDigest(ctx, created.ID, "new-digest"); err != nil {
		t.Fatalf("SetPasswordDigest() error = %v", err)
	}
	got, err := u.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.PasswordDigest != "new-digest" {
		t.Errorf("PasswordDigest = %q, want new-digest", got.PasswordDigest)
	}

	if err := u.SetPasswordDigest(ctx, 999, "x"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetPasswordDigest(missing) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// RESET TOKEN TESTS
// =========================================================================

func TestUserResetTokenLifecycle(t *testing.T) {
	_, u := newTestUserDB(t)
	created := createTestUser(t, u, "forgetful", "forgetful@example.com")
	ctx := context.Background()
	now := time.Now()
	expiry := now.Add(time.Hour)

	if err := u.SetResetToken(ctx, created.ID, "hash-1", expiry); err != nil {
		t.Fatalf("SetResetToken() error = %v", err)
	}

	holder, err := u.GetByResetToken(ctx, "hash-1")
	if err != nil {
		t.Fatalf("GetByResetToken() error = %v", err)
	}
	if holder.ID != created.ID {
		t.Errorf("holder ID = %d, want %d", holder.ID, created.ID)
	}
	if holder.ResetTokenExpiry == nil || !holder.ResetTokenExpiry.Equal(expiry) {
		t.Errorf("ResetTokenExpiry = %v, want %v", holder.ResetTokenExpiry, expiry)
	}
	if !holder.ResetTokenLive(now) {
		t.Error("token should be live")
	}

	// A second request replaces the first token.
	if err := u.SetResetToken(ctx, created.ID, "hash-2", expiry); err != nil {
		t.Fatalf("SetResetToken() second error = %v", err)
	}
	if _, err := u.GetByResetToken(ctx, "hash-1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("old token lookup error = %v, want ErrNotFound", err)
	}

	redeemed, err := u.RedeemResetToken(ctx, "hash-2", "fresh-digest", now)
	if err != nil {
		t.Fatalf("RedeemResetToken() error = %v", err)
	}
	if redeemed.PasswordDigest != "fresh-digest" {
		t.Errorf("PasswordDigest = %q, want fresh-digest", redeemed.PasswordDigest)
	}
	if redeemed.ResetTokenHash != nil || redeemed.ResetTokenExpiry != nil {
		t.Error("RedeemResetToken() should clear the token and expiry")
	}

	// Single use.
	if _, err := u.RedeemResetToken(ctx, "hash-2", "again", now); !errors.Is(err, apperror.ErrInvalidOrExpiredToken) {
		t.Errorf("second redeem error = %v, want ErrInvalidOrExpiredToken", err)
	}
}

func TestUserRedeemResetToken_ExpiryBoundary(t *testing.T) {
	_, u := newTestUserDB(t)
	created := createTestUser(t, u, "boundary", "")
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	if err := u.SetResetToken(ctx, created.ID, "edge", expiry); err != nil {
		t.Fatalf("SetResetToken() error = %v", err)
	}

	// Expiring exactly at now counts as expired.
	if _, err := u.RedeemResetToken(ctx, "edge", "d", expiry); !errors.Is(err, apperror.ErrInvalidOrExpiredToken) {
		t.Fatalf("redeem at expiry error = %v, want ErrInvalidOrExpiredToken", err)
	}

	// The failed attempt changed nothing.
	got, err := u.GetByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.PasswordDigest != "$2a$04$digest" {
		t.Errorf("PasswordDigest changed to %q", got.PasswordDigest)
	}
	if got.ResetTokenHash == nil {
		t.Error("expired token should remain until cleared")
	}
}

func TestUserRedeemResetToken_Concurrent(t *testing.T) {
	_, u := newTestUserDB(t)
	created := createTestUser(t, u, "racer", "")
	ctx := context.Background()

	if err := u.SetResetToken(ctx, created.ID, "once", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SetResetToken() error = %v", err)
	}

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := u.RedeemResetToken(ctx, "once", "d", time.Now()); err == nil {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Errorf("winners = %d, want 1", winners.Load())
	}
}

func TestUserClearResetToken(t *testing.T) {
	_, u := newTestUserDB(t)
	created := createTestUser(t, u, "clearme", "")
	ctx := context.Background()

	if err := u.SetResetToken(ctx, created.ID, "to-clear", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("SetResetToken() error = %v", err)
	}
	if err := u.ClearResetToken(ctx, created.ID); err != nil {
		t.Fatalf("ClearResetToken() error = %v", err)
	}
	if _, err := u.GetByResetToken(ctx, "to-clear"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("lookup after clear error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// MIGRATION TESTS
// =========================================================================

// TestMigrateIsIdempotent runs the schema step a second time against an
// existing database, which is what happens on every restart.
func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
