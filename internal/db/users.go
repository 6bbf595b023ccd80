package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"accounts/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

const userColumns = `id, username, email, full_name, avatar_url, cover_image_url, password_hash,
       refresh_token, refresh_token_expires_at, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, params models.NewUser) (*models.User, error) {
	id, err := GenerateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO users (id, username, email, full_name, avatar_url, cover_image_url, password_hash, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		id, params.Username, params.Email, params.FullName, params.AvatarURL, params.CoverImageURL, params.PasswordHash, now, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return &models.User{
		ID:            id,
		Username:      params.Username,
		Email:         params.Email,
		FullName:      params.FullName,
		AvatarURL:     params.AvatarURL,
		CoverImageURL: params.CoverImageURL,
		PasswordHash:  params.PasswordHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// FindByEmailOrUsername prefers the row matching email when the two
// identifiers point at different users.
func (r *UserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users
          WHERE (? <> '' AND email = ?) OR (? <> '' AND username = ?)
          ORDER BY CASE WHEN email = ? THEN 0 ELSE 1 END
          LIMIT 1`,
		email, email, username, username, email,
	)
}

func (r *UserRepository) SetRefreshToken(ctx context.Context, id, token string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE users SET refresh_token = ?, refresh_token_expires_at = ?, updated_at = ? WHERE id = ?`),
		token, expiresAt.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("setting refresh token: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) ClearRefreshToken(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE users SET refresh_token = NULL, refresh_token_expires_at = NULL, updated_at = ? WHERE id = ?`),
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("clearing refresh token: %w", err)
	}
	return checkRowsAffected(result)
}

// RotateRefreshToken replaces the stored refresh token only while it still
// equals oldToken. ErrNotFound means another caller rotated or cleared it first.
func (r *UserRepository) RotateRefreshToken(ctx context.Context, id, oldToken, newToken string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE users
            SET refresh_token = ?, refresh_token_expires_at = ?, updated_at = ?
          WHERE id = ?
            AND refresh_token = ?`),
		newToken, expiresAt.UTC(), time.Now().UTC(), id, oldToken,
	)
	if err != nil {
		return fmt.Errorf("rotating refresh token: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`),
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) UpdateAccountDetails(ctx context.Context, id, fullName, email string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE users SET full_name = ?, email = ?, updated_at = ? WHERE id = ?`),
		fullName, email, time.Now().UTC(), id,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("updating account details: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) UpdateAvatarURL(ctx context.Context, id, avatarURL string) error {
	return r.updateImageURL(ctx, "avatar_url", id, avatarURL)
}

func (r *UserRepository) UpdateCoverImageURL(ctx context.Context, id, coverImageURL string) error {
	return r.updateImageURL(ctx, "cover_image_url", id, coverImageURL)
}

// ClearExpiredRefreshTokens drops stored refresh tokens whose expiry has passed.
func (r *UserRepository) ClearExpiredRefreshTokens(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE users
            SET refresh_token = NULL, refresh_token_expires_at = NULL, updated_at = ?
          WHERE refresh_token_expires_at IS NOT NULL
            AND refresh_token_expires_at < ?`),
		now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("clearing expired refresh tokens: %w", err)
	}

	return result.RowsAffected()
}

func (r *UserRepository) updateImageURL(ctx context.Context, column, id, url string) error {
	// column is a literal chosen by the exported wrappers above.
	result, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE users SET `+column+` = ?, updated_at = ? WHERE id = ?`),
		url, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating %s: %w", column, err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	err := r.db.GetContext(ctx, &u, r.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return &u, nil
}
