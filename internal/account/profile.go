package account

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"accounts/internal/db"
	"accounts/internal/media"
	"accounts/internal/models"
)

func (s *Service) UpdateAccountDetails(ctx context.Context, userID, fullName, email string) (*models.User, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.TrimSpace(email)
	if fullName == "" || email == "" {
		return nil, newError(KindValidation, "All fields are required")
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	fullName = s.cleanName(fullName)
	if fullName == "" {
		return nil, newError(KindValidation, "All fields are required")
	}

	err := s.store.UpdateAccountDetails(ctx, userID, fullName, email)
	switch {
	case errors.Is(err, db.ErrDuplicate):
		return nil, newError(KindConflict, fmt.Sprintf("Email %s has been used", email))
	case errors.Is(err, db.ErrNotFound):
		return nil, newError(KindNotFound, "User does not exist")
	case err != nil:
		return nil, internalError("updating account details", err)
	}

	return s.reload(ctx, userID)
}

// UpdateAvatar replaces the avatar URL. The previous image stays in storage.
func (s *Service) UpdateAvatar(ctx context.Context, userID string, src *media.Source) (*models.User, error) {
	if src == nil {
		return nil, newError(KindValidation, "Avatar file is missing")
	}

	url := s.upload(ctx, media.KindAvatar, src)
	if url == "" {
		return nil, newError(KindValidation, "Error while uploading avatar")
	}

	if err := s.store.UpdateAvatarURL(ctx, userID, url); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, newError(KindNotFound, "User does not exist")
		}
		return nil, internalError("updating avatar", err)
	}

	return s.reload(ctx, userID)
}

func (s *Service) UpdateCoverImage(ctx context.Context, userID string, src *media.Source) (*models.User, error) {
	if src == nil {
		return nil, newError(KindValidation, "Cover image file is missing")
	}

	url := s.upload(ctx, media.KindCoverImage, src)
	if url == "" {
		return nil, newError(KindValidation, "Error while uploading cover image")
	}

	if err := s.store.UpdateCoverImageURL(ctx, userID, url); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, newError(KindNotFound, "User does not exist")
		}
		return nil, internalError("updating cover image", err)
	}

	return s.reload(ctx, userID)
}

// GetCurrentUser returns the user already resolved by Authenticate.
func (s *Service) GetCurrentUser(user *models.User) *models.User {
	return user.Sanitized()
}

func (s *Service) reload(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.store.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, newError(KindNotFound, "User does not exist")
	}
	if err != nil {
		return nil, internalError("loading user", err)
	}
	return user.Sanitized(), nil
}
