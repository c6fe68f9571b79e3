package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

var _ repository.UserDirectory = (*UserDB)(nil)

// Constraint names from migrations/000001_init.up.sql.
const (
	constraintUsername = "users_username_key"
	constraintEmail    = "users_email_key"
)

// UserDB is the PostgreSQL user directory.
type UserDB struct {
	pool pool
	now  func() time.Time
}

// Users returns the user directory backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{pool: db.pool, now: time.Now}
}

const userColumns = `id, username, email, password_digest, first_name, last_name, avatar_url,
	reset_token_hash, reset_token_expiry, created_at, updated_at`

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordDigest,
		&u.FirstName,
		&u.LastName,
		&u.AvatarURL,
		&u.ResetTokenHash,
		&u.ResetTokenExpiry,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserDB) getOne(ctx context.Context, resource, key, where string, arg any) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NotFound(resource, key)
		}
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", "get user").With("by", where).Wrap(err)
	}
	return u, nil
}

func (r *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, "user", username, "username = $1", username)
}

func (r *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "user", email, "email = $1", email)
}

func (r *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getOne(ctx, "user", strconv.FormatInt(id, 10), "id = $1", id)
}

func (r *UserDB) GetByResetToken(ctx context.Context, tokenHash string) (*model.User, error) {
	return r.getOne(ctx, "reset token", "<redacted>", "reset_token_hash = $1", tokenHash)
}

// Create relies on the UNIQUE constraints; the violated constraint's name
// tells a taken username from a taken email.
func (r *UserDB) Create(ctx context.Context, u *model.User) error {
	now := r.now().UTC()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, email, password_digest, first_name, last_name, avatar_url,
		                    reset_token_hash, reset_token_expiry, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		 RETURNING id`,
		u.Username, u.Email, u.PasswordDigest, u.FirstName, u.LastName, u.AvatarURL,
		u.ResetTokenHash, u.ResetTokenExpiry, now,
	).Scan(&u.ID)
	if err != nil {
		switch uniqueConstraint(err) {
		case constraintUsername:
			return apperror.DuplicateUsername()
		case constraintEmail:
			return apperror.DuplicateEmail()
		}
		return oops.Code("USER_INSERT_FAILED").With("username", u.Username).Wrap(err)
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// exec runs an UPDATE against one user and reports ErrNotFound when no row matched.
func (r *UserDB) exec(ctx context.Context, id int64, operation, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").With("operation", operation).With("user_id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}

func (r *UserDB) SetPasswordDigest(ctx context.Context, id int64, digest string) error {
	return r.exec(ctx, id, "set password digest",
		`UPDATE users SET password_digest = $1, updated_at = $2 WHERE id = $3`,
		digest, r.now().UTC(), id)
}

func (r *UserDB) SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error {
	return r.exec(ctx, id, "set reset token",
		`UPDATE users SET reset_token_hash = $1, reset_token_expiry = $2, updated_at = $3 WHERE id = $4`,
		tokenHash, expiry.UTC(), r.now().UTC(), id)
}

func (r *UserDB) ClearResetToken(ctx context.Context, id int64) error {
	return r.exec(ctx, id, "clear reset token",
		`UPDATE users SET reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = $1 WHERE id = $2`,
		r.now().UTC(), id)
}

// RedeemResetToken is one conditional UPDATE ... RETURNING. Row locking
// makes the second of two concurrent redemptions re-check the WHERE clause
// against the cleared row and match nothing.
func (r *UserDB) RedeemResetToken(ctx context.Context, tokenHash, digest string, now time.Time) (*model.User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx,
		`UPDATE users
		    SET password_digest = $1, reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = $2
		  WHERE reset_token_hash = $3 AND reset_token_expiry > $2
		  RETURNING `+userColumns,
		digest, now.UTC(), tokenHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.InvalidOrExpiredToken()
		}
		return nil, oops.Code("USER_UPDATE_FAILED").With("operation", "redeem reset token").Wrap(err)
	}
	return u, nil
}
