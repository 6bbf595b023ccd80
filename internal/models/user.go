package models

import "time"

// User is the persisted account record. PasswordHash and RefreshToken never
// leave the process: they are excluded from JSON and cleared by Sanitized.
type User struct {
	ID                    string     `json:"id" db:"id"`
	Username              string     `json:"username" db:"username"`
	Email                 string     `json:"email" db:"email"`
	FullName              string     `json:"fullName" db:"full_name"`
	AvatarURL             string     `json:"avatarUrl" db:"avatar_url"`
	CoverImageURL         string     `json:"coverImageUrl" db:"cover_image_url"`
	PasswordHash          string     `json:"-" db:"password_hash"`
	RefreshToken          *string    `json:"-" db:"refresh_token"`
	RefreshTokenExpiresAt *time.Time `json:"-" db:"refresh_token_expires_at"`
	CreatedAt             time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt             time.Time  `json:"updatedAt" db:"updated_at"`
}

// Sanitized returns a copy with credential and session fields removed.
func (u *User) Sanitized() *User {
	if u == nil {
		return nil
	}
	clone := *u
	clone.PasswordHash = ""
	clone.RefreshToken = nil
	clone.RefreshTokenExpiresAt = nil
	return &clone
}

func (u *User) GetRefreshToken() string {
	if u.RefreshToken != nil {
		return *u.RefreshToken
	}
	return ""
}

type NewUser struct {
	Username      string
	Email         string
	FullName      string
	PasswordHash  string
	AvatarURL     string
	CoverImageURL string
}
