package constants

const (
	// IDRandomBytes is the entropy of generated record IDs before hex encoding.
	IDRandomBytes = 12

	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	// bcrypt ignores input beyond 72 bytes.
	PasswordMaxBytes = 72
)
