package api

import (
	"context"
	"net/http"

	"accounts/internal/account"
	"accounts/internal/constants"
	"accounts/internal/media"
	"accounts/internal/models"
)

// AccountService is the account surface the HTTP handlers depend on.
type AccountService interface {
	Authenticator
	Register(ctx context.Context, in account.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, username, password string) (*account.Session, error)
	Logout(ctx context.Context, userID string) error
	RefreshSession(ctx context.Context, refreshToken string) (*account.TokenPair, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	UpdateAccountDetails(ctx context.Context, userID, fullName, email string) (*models.User, error)
	UpdateAvatar(ctx context.Context, userID string, src *media.Source) (*models.User, error)
	UpdateCoverImage(ctx context.Context, userID string, src *media.Source) (*models.User, error)
	GetCurrentUser(user *models.User) *models.User
}

type AuthHandler struct {
	accounts       AccountService
	cookies        CookieSettings
	uploadMaxBytes int64
}

func NewAuthHandler(accounts AccountService, cookies CookieSettings, uploadMaxBytes int64) *AuthHandler {
	return &AuthHandler{
		accounts:       accounts,
		cookies:        cookies,
		uploadMaxBytes: uploadMaxBytes,
	}
}

type LoginRequest struct {
	Email    string `json:"email" validate:"max=254"`
	Username string `json:"username" validate:"max=64"`
	Password string `json:"password" validate:"max=256"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type ChangePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"max=256"`
	NewPassword string `json:"newPassword" validate:"max=256"`
}

// POST /api/v1/users/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	cleanup, ok := parseMultipartUpload(w, r, 2*h.uploadMaxBytes+multipartMemoryBytes)
	if !ok {
		return
	}
	defer cleanup()

	avatar, closeAvatar, err := formFileSource(r, "avatar")
	if err != nil {
		badRequest(w, "Invalid multipart upload")
		return
	}
	defer closeAvatar()

	coverImage, closeCoverImage, err := formFileSource(r, "coverImage")
	if err != nil {
		badRequest(w, "Invalid multipart upload")
		return
	}
	defer closeCoverImage()

	user, err := h.accounts.Register(r.Context(), account.RegisterInput{
		FullName:   r.FormValue("fullName"),
		Email:      r.FormValue("email"),
		Username:   r.FormValue("username"),
		Password:   r.FormValue("password"),
		Avatar:     avatar,
		CoverImage: coverImage,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusCreated, user, "User registered successfully")
}

// POST /api/v1/users/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	session, err := h.accounts.Login(r.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.cookies.setSession(w, session.AccessToken, session.RefreshToken)
	writeSuccess(w, http.StatusOK, session, "User logged in successfully")
}

// POST /api/v1/users/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)
	if user == nil {
		unauthorized(w, "Unauthorized request")
		return
	}

	if err := h.accounts.Logout(r.Context(), user.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.cookies.clearSession(w)
	writeSuccess(w, http.StatusOK, map[string]any{}, "User logged out")
}

// POST /api/v1/users/refresh-token
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	token := ""
	if cookie, err := r.Cookie(constants.RefreshTokenCookie); err == nil {
		token = cookie.Value
	}
	if token == "" && r.ContentLength != 0 {
		var req RefreshRequest
		if err := decodeRequest(r, &req); err == nil {
			token = req.RefreshToken
		}
	}

	pair, err := h.accounts.RefreshSession(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	h.cookies.setSession(w, pair.AccessToken, pair.RefreshToken)
	writeSuccess(w, http.StatusOK, pair, "Access token refreshed")
}

// POST /api/v1/users/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)
	if user == nil {
		unauthorized(w, "Unauthorized request")
		return
	}

	var req ChangePasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), user.ID, req.OldPassword, req.NewPassword); err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{}, "Password changed successfully")
}
