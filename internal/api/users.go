package api

import (
	"context"
	"net/http"

	"accounts/internal/media"
	"accounts/internal/models"
)

type UserHandler struct {
	accounts       AccountService
	uploadMaxBytes int64
}

func NewUserHandler(accounts AccountService, uploadMaxBytes int64) *UserHandler {
	return &UserHandler{accounts: accounts, uploadMaxBytes: uploadMaxBytes}
}

type UpdateAccountRequest struct {
	FullName string `json:"fullName" validate:"max=100"`
	Email    string `json:"email" validate:"max=254"`
}

// GET /api/v1/users/current-user
func (h *UserHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)
	if user == nil {
		unauthorized(w, "Unauthorized request")
		return
	}

	writeSuccess(w, http.StatusOK, h.accounts.GetCurrentUser(user), "User fetched successfully")
}

// PATCH /api/v1/users/update-account
func (h *UserHandler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)
	if user == nil {
		unauthorized(w, "Unauthorized request")
		return
	}

	var req UpdateAccountRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	updated, err := h.accounts.UpdateAccountDetails(r.Context(), user.ID, req.FullName, req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, updated, "Account details updated successfully")
}

// PATCH /api/v1/users/update-avatar
func (h *UserHandler) UpdateAvatar(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "avatar", h.accounts.UpdateAvatar, "Avatar image updated successfully")
}

// PATCH /api/v1/users/update-cover-image
func (h *UserHandler) UpdateCoverImage(w http.ResponseWriter, r *http.Request) {
	h.updateImage(w, r, "coverImage", h.accounts.UpdateCoverImage, "Cover image updated successfully")
}

type imageUpdater func(ctx context.Context, userID string, src *media.Source) (*models.User, error)

func (h *UserHandler) updateImage(w http.ResponseWriter, r *http.Request, field string, update imageUpdater, message string) {
	user := GetUser(r)
	if user == nil {
		unauthorized(w, "Unauthorized request")
		return
	}

	cleanup, ok := parseMultipartUpload(w, r, h.uploadMaxBytes+multipartMemoryBytes)
	if !ok {
		return
	}
	defer cleanup()

	src, closeSource, err := formFileSource(r, field)
	if err != nil {
		badRequest(w, "Invalid multipart upload")
		return
	}
	defer closeSource()

	updated, err := update(r.Context(), user.ID, src)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	writeSuccess(w, http.StatusOK, updated, message)
}
