package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"accounts/internal/auth"
	"accounts/internal/constants"
	"accounts/internal/db"
	"accounts/internal/media"
	"accounts/internal/models"
)

// CredentialStore persists user records. Lookups return db.ErrNotFound for
// missing rows, writes return db.ErrDuplicate on unique violations.
type CredentialStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*models.User, error)
	Create(ctx context.Context, params models.NewUser) (*models.User, error)
	SetRefreshToken(ctx context.Context, id, token string, expiresAt time.Time) error
	ClearRefreshToken(ctx context.Context, id string) error
	RotateRefreshToken(ctx context.Context, id, oldToken, newToken string, expiresAt time.Time) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	UpdateAccountDetails(ctx context.Context, id, fullName, email string) error
	UpdateAvatarURL(ctx context.Context, id, avatarURL string) error
	UpdateCoverImageURL(ctx context.Context, id, coverImageURL string) error
}

// MediaHost turns an uploaded file into a durable URL.
type MediaHost interface {
	Upload(ctx context.Context, kind media.Kind, src *media.Source) (string, error)
}

var inputValidator = validator.New()

const usernameMaxLength = 64

type Service struct {
	store     CredentialStore
	tokens    *auth.TokenService
	passwords *auth.PasswordHasher
	media     MediaHost
	names     *bluemonday.Policy
}

func NewService(
	store CredentialStore,
	tokens *auth.TokenService,
	passwords *auth.PasswordHasher,
	mediaHost MediaHost,
) *Service {
	return &Service{
		store:     store,
		tokens:    tokens,
		passwords: passwords,
		media:     mediaHost,
		names:     bluemonday.StrictPolicy(),
	}
}

type RegisterInput struct {
	FullName   string
	Email      string
	Username   string
	Password   string
	Avatar     *media.Source
	CoverImage *media.Source
}

type Session struct {
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
}

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	fullName := strings.TrimSpace(in.FullName)
	email := strings.TrimSpace(in.Email)
	username := strings.ToLower(strings.TrimSpace(in.Username))

	if fullName == "" || email == "" || username == "" || strings.TrimSpace(in.Password) == "" {
		return nil, newError(KindValidation, "All fields are required")
	}
	if err := inputValidator.Var(username, fmt.Sprintf("max=%d", usernameMaxLength)); err != nil {
		return nil, newError(KindValidation, fmt.Sprintf("Username must be at most %d characters", usernameMaxLength))
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password, "Password"); err != nil {
		return nil, err
	}
	cleanFullName := s.cleanName(fullName)
	if cleanFullName == "" {
		return nil, newError(KindValidation, "All fields are required")
	}

	if err := s.checkAvailability(ctx, username, email); err != nil {
		return nil, err
	}

	if in.Avatar == nil {
		return nil, newError(KindValidation, "Avatar image is required")
	}

	avatarURL := s.upload(ctx, media.KindAvatar, in.Avatar)
	if avatarURL == "" {
		return nil, newError(KindValidation, "Avatar image is required")
	}
	coverImageURL := s.upload(ctx, media.KindCoverImage, in.CoverImage)

	passwordHash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, internalError("hashing password", err)
	}

	user, err := s.store.Create(ctx, models.NewUser{
		Username:      username,
		Email:         email,
		FullName:      cleanFullName,
		PasswordHash:  passwordHash,
		AvatarURL:     avatarURL,
		CoverImageURL: coverImageURL,
	})
	if errors.Is(err, db.ErrDuplicate) {
		// Lost an insert race; look again to name the field that collided.
		if conflictErr := s.checkAvailability(ctx, username, email); KindOf(conflictErr) == KindConflict {
			return nil, conflictErr
		}
		return nil, newError(KindConflict, "Username or email already exists")
	}
	if err != nil {
		return nil, internalError("creating user", err)
	}

	created, err := s.store.FindByID(ctx, user.ID)
	if err != nil {
		return nil, internalError("Something went wrong while registering the user", err)
	}

	slog.Info("user registered", "user_id", created.ID, "username", created.Username)
	return created.Sanitized(), nil
}

// checkAvailability checks the username before the email so a double
// collision always names the username.
func (s *Service) checkAvailability(ctx context.Context, username, email string) error {
	if _, err := s.store.FindByUsername(ctx, username); err == nil {
		return newError(KindConflict, fmt.Sprintf("Username %s already exists", username))
	} else if !errors.Is(err, db.ErrNotFound) {
		return internalError("checking username availability", err)
	}
	if _, err := s.store.FindByEmail(ctx, email); err == nil {
		return newError(KindConflict, fmt.Sprintf("Email %s has been used", email))
	} else if !errors.Is(err, db.ErrNotFound) {
		return internalError("checking email availability", err)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, email, username, password string) (*Session, error) {
	email = strings.TrimSpace(email)
	username = strings.ToLower(strings.TrimSpace(username))
	if email == "" && username == "" {
		return nil, newError(KindValidation, "Username or email is required")
	}

	user, err := s.store.FindByEmailOrUsername(ctx, email, username)
	if errors.Is(err, db.ErrNotFound) {
		return nil, newError(KindNotFound, "User does not exist")
	}
	if err != nil {
		return nil, internalError("finding user", err)
	}

	if err := s.passwords.Compare(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, newError(KindValidation, "Invalid user credentials")
		}
		return nil, internalError("verifying password", err)
	}

	accessToken, refreshToken, refreshExpiresAt, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetRefreshToken(ctx, user.ID, refreshToken, refreshExpiresAt); err != nil {
		return nil, internalError("storing refresh token", err)
	}

	return &Session{
		User:         user.Sanitized(),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// Logout clears the stored refresh token. A missing user has nothing to clear.
func (s *Service) Logout(ctx context.Context, userID string) error {
	err := s.store.ClearRefreshToken(ctx, userID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return internalError("clearing refresh token", err)
	}
	return nil
}

func (s *Service) RefreshSession(ctx context.Context, incomingRefreshToken string) (*TokenPair, error) {
	incomingRefreshToken = strings.TrimSpace(incomingRefreshToken)
	if incomingRefreshToken == "" {
		return nil, newError(KindUnauthorized, "Unauthorized request")
	}

	claims, err := s.tokens.VerifyRefreshToken(incomingRefreshToken)
	if err != nil {
		return nil, unauthorizedFromToken(err, "Invalid refresh token")
	}

	user, err := s.store.FindByID(ctx, claims.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, newError(KindUnauthorized, "Invalid refresh token")
	}
	if err != nil {
		return nil, internalError("finding user", err)
	}

	stored := user.GetRefreshToken()
	if stored == "" || subtle.ConstantTimeCompare([]byte(stored), []byte(incomingRefreshToken)) != 1 {
		return nil, newError(KindUnauthorized, "Refresh token is expired or used")
	}

	accessToken, refreshToken, refreshExpiresAt, err := s.issueTokens(user)
	if err != nil {
		return nil, err
	}

	err = s.store.RotateRefreshToken(ctx, user.ID, incomingRefreshToken, refreshToken, refreshExpiresAt)
	if errors.Is(err, db.ErrNotFound) {
		return nil, newError(KindUnauthorized, "Refresh token is expired or used")
	}
	if err != nil {
		return nil, internalError("rotating refresh token", err)
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

// ChangePassword replaces the password hash. The stored refresh token is left
// in place, so existing sessions survive a password change.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if strings.TrimSpace(newPassword) == "" {
		return newError(KindValidation, "New password is required")
	}
	if err := validatePassword(newPassword, "New password"); err != nil {
		return err
	}

	user, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return newError(KindNotFound, "User does not exist")
	}
	if err != nil {
		return internalError("finding user", err)
	}

	if err := s.passwords.Compare(user.PasswordHash, oldPassword); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return newError(KindValidation, "Invalid old password")
		}
		return internalError("verifying password", err)
	}

	passwordHash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return internalError("hashing password", err)
	}

	if err := s.store.UpdatePasswordHash(ctx, userID, passwordHash); err != nil {
		return internalError("updating password", err)
	}
	return nil
}

// Authenticate resolves an access token to the sanitized user it names.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	claims, err := s.tokens.VerifyAccessToken(strings.TrimSpace(accessToken))
	if err != nil {
		return nil, unauthorizedFromToken(err, "Invalid access token")
	}

	user, err := s.store.FindByID(ctx, claims.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, newError(KindUnauthorized, "Invalid access token")
	}
	if err != nil {
		return nil, internalError("finding user", err)
	}

	return user.Sanitized(), nil
}

func (s *Service) issueTokens(user *models.User) (string, string, time.Time, error) {
	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return "", "", time.Time{}, internalError("issuing access token", err)
	}

	refreshToken, refreshExpiresAt, err := s.tokens.IssueRefreshToken(user)
	if err != nil {
		return "", "", time.Time{}, internalError("issuing refresh token", err)
	}

	return accessToken, refreshToken, refreshExpiresAt, nil
}

// upload returns an empty URL on any failure. Callers decide whether the
// image was mandatory.
func (s *Service) upload(ctx context.Context, kind media.Kind, src *media.Source) string {
	if src == nil {
		return ""
	}

	url, err := s.media.Upload(ctx, kind, src)
	if err != nil {
		slog.Warn("media upload failed", "kind", kind, "filename", src.Filename, "error", err)
		return ""
	}
	return url
}

func (s *Service) cleanName(name string) string {
	return strings.TrimSpace(html.UnescapeString(s.names.Sanitize(name)))
}

func unauthorizedFromToken(err error, fallback string) *Error {
	var invalid *auth.InvalidTokenError
	if errors.As(err, &invalid) && invalid.Reason != "" {
		return wrapError(KindUnauthorized, invalid.Reason, err)
	}
	return wrapError(KindUnauthorized, fallback, err)
}

func validateEmail(email string) error {
	if err := inputValidator.Var(email, "email,max=254"); err != nil {
		return newError(KindValidation, "Invalid email format")
	}
	return nil
}

func validatePassword(password, field string) error {
	if len(password) > constants.PasswordMaxBytes {
		return newError(KindValidation, fmt.Sprintf("%s must be at most %d bytes", field, constants.PasswordMaxBytes))
	}
	return nil
}
