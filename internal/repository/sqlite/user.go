package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/authcore/internal/apperror"
	"github.com/sakif/authcore/internal/model"
	"github.com/sakif/authcore/internal/repository"
)

// compile-time check that *UserDB implements repository.UserDirectory
var _ repository.UserDirectory = (*UserDB)(nil)

// UserDB is the SQLite user directory. It shares the connection pool of the
// DB that created it.
type UserDB struct {
	conn *sql.DB
	now  func() time.Time
}

// Users returns the user directory backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn, now: time.Now}
}

const userColumns = `id, username, email, password_digest, first_name, last_name, avatar_url,
	reset_token_hash, reset_token_expiry, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var (
		u      model.User
		expiry sql.NullInt64
	)
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.PasswordDigest,
		&u.FirstName,
		&u.LastName,
		&u.AvatarURL,
		&u.ResetTokenHash,
		&expiry,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiry.Valid {
		t := time.Unix(0, expiry.Int64)
		u.ResetTokenExpiry = &t
	}
	return &u, nil
}

// getOne runs a single-row user query and maps sql.ErrNoRows to apperror.ErrNotFound.
func (r *UserDB) getOne(ctx context.Context, resource, key, where string, arg any) (*model.User, error) {
	u, err := scanUser(r.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound(resource, key)
		}
		return nil, fmt.Errorf("sqlite: getting user by %s: %w", where, err)
	}
	return u, nil
}

func (r *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, "user", username, "username = ?", username)
}

func (r *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, "user", email, "email = ?", email)
}

func (r *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getOne(ctx, "user", strconv.FormatInt(id, 10), "id = ?", id)
}

func (r *UserDB) GetByResetToken(ctx context.Context, tokenHash string) (*model.User, error) {
	return r.getOne(ctx, "reset token", "<redacted>", "reset_token_hash = ?", tokenHash)
}

// Create inserts a user. The UNIQUE constraints on username and email do
// the duplicate check inside the INSERT itself, so two racing registrations
// cannot both succeed.
func (r *UserDB) Create(ctx context.Context, u *model.User) error {
	now := r.now().UTC()

	var expiry any
	if u.ResetTokenExpiry != nil {
		expiry = u.ResetTokenExpiry.UnixNano()
	}

	res, err := r.conn.ExecContext(ctx,
		`INSERT INTO users (username, email, password_digest, first_name, last_name, avatar_url,
		                    reset_token_hash, reset_token_expiry, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username,
		u.Email,
		u.PasswordDigest,
		u.FirstName,
		u.LastName,
		u.AvatarURL,
		u.ResetTokenHash,
		expiry,
		now,
		now,
	)
	if err != nil {
		switch uniqueViolation(err) {
		case "users.username":
			return apperror.DuplicateUsername()
		case "users.email":
			return apperror.DuplicateEmail()
		}
		return fmt.Errorf("sqlite: inserting user %q: %w", u.Username, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: reading new user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// exec runs an UPDATE against a single user and reports ErrNotFound when no
// row matched.
func (r *UserDB) exec(ctx context.Context, id int64, query string, args ...any) error {
	res, err := r.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("sqlite: updating user %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: updating user %d: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("user", strconv.FormatInt(id, 10))
	}
	return nil
}

func (r *UserDB) SetPasswordDigest(ctx context.Context, id int64, digest string) error {
	return r.exec(ctx, id,
		`UPDATE users SET password_digest = ?, updated_at = ? WHERE id = ?`,
		digest, r.now().UTC(), id)
}

func (r *UserDB) SetResetToken(ctx context.Context, id int64, tokenHash string, expiry time.Time) error {
	return r.exec(ctx, id,
		`UPDATE users SET reset_token_hash = ?, reset_token_expiry = ?, updated_at = ? WHERE id = ?`,
		tokenHash, expiry.UnixNano(), r.now().UTC(), id)
}

func (r *UserDB) ClearResetToken(ctx context.Context, id int64) error {
	return r.exec(ctx, id,
		`UPDATE users SET reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = ? WHERE id = ?`,
		r.now().UTC(), id)
}

// RedeemResetToken is a single conditional UPDATE: the WHERE clause is the
// liveness check, so whichever of two concurrent redemptions runs second
// matches no row.
func (r *UserDB) RedeemResetToken(ctx context.Context, tokenHash, digest string, now time.Time) (*model.User, error) {
	var id int64
	err := r.conn.QueryRowContext(ctx,
		`UPDATE users
		    SET password_digest = ?, reset_token_hash = NULL, reset_token_expiry = NULL, updated_at = ?
		  WHERE reset_token_hash = ? AND reset_token_expiry > ?
		  RETURNING id`,
		digest, now.UTC(), tokenHash, now.UnixNano(),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.InvalidOrExpiredToken()
		}
		return nil, fmt.Errorf("sqlite: redeeming reset token: %w", err)
	}
	return r.GetByID(ctx, id)
}
