package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"accounts/internal/models"
)

// InvalidTokenError reports why a token failed verification. Reason is safe
// to show to clients.
type InvalidTokenError struct {
	Reason string
	Err    error
}

func (e *InvalidTokenError) Error() string {
	return e.Reason
}

func (e *InvalidTokenError) Unwrap() error {
	return e.Err
}

// TokenService issues and verifies access and refresh tokens. The two token
// classes are signed with different secrets so neither can stand in for the other.
type TokenService struct {
	accessSecret    []byte
	refreshSecret   []byte
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
	now             func() time.Time
}

type AccessClaims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	jwt.RegisteredClaims
}

type RefreshClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		accessSecret:    []byte(accessSecret),
		refreshSecret:   []byte(refreshSecret),
		accessTokenTTL:  accessTTL,
		refreshTokenTTL: refreshTTL,
		now:             time.Now,
	}
}

func (s *TokenService) AccessTokenTTL() time.Duration {
	return s.accessTokenTTL
}

func (s *TokenService) RefreshTokenTTL() time.Duration {
	return s.refreshTokenTTL
}

func (s *TokenService) IssueAccessToken(user *models.User) (string, error) {
	now := s.now()
	claims := AccessClaims{
		UserID:           user.ID,
		Username:         user.Username,
		Email:            user.Email,
		FullName:         user.FullName,
		RegisteredClaims: s.registeredClaims(user.ID, now, s.accessTokenTTL),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.accessSecret)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// IssueRefreshToken returns the signed token and the instant it expires.
func (s *TokenService) IssueRefreshToken(user *models.User) (string, time.Time, error) {
	now := s.now()
	claims := RefreshClaims{
		UserID:           user.ID,
		RegisteredClaims: s.registeredClaims(user.ID, now, s.refreshTokenTTL),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.refreshSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing refresh token: %w", err)
	}
	return signed, claims.ExpiresAt.Time, nil
}

func (s *TokenService) VerifyAccessToken(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := s.verify(tokenString, s.accessSecret, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, &InvalidTokenError{Reason: "token has no subject"}
	}
	return claims, nil
}

func (s *TokenService) VerifyRefreshToken(tokenString string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := s.verify(tokenString, s.refreshSecret, claims); err != nil {
		return nil, err
	}
	if claims.UserID == "" {
		return nil, &InvalidTokenError{Reason: "token has no subject"}
	}
	return claims, nil
}

func (s *TokenService) registeredClaims(userID string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (s *TokenService) verify(tokenString string, secret []byte, claims jwt.Claims) error {
	if tokenString == "" {
		return &InvalidTokenError{Reason: "token is missing"}
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return &InvalidTokenError{Reason: invalidTokenReason(err), Err: err}
	}
	if !token.Valid {
		return &InvalidTokenError{Reason: "token is invalid"}
	}

	return nil
}

func invalidTokenReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token has expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "token is malformed"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "token signature is invalid"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "token is missing required claims"
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return "token is not valid yet"
	default:
		return "token is invalid"
	}
}
