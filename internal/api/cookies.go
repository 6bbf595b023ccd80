package api

import (
	"net/http"
	"time"

	"accounts/internal/constants"
)

type CookieSettings struct {
	Secure          bool
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

func (c CookieSettings) setSession(w http.ResponseWriter, accessToken, refreshToken string) {
	http.SetCookie(w, c.cookie(constants.AccessTokenCookie, accessToken, c.AccessTokenTTL))
	http.SetCookie(w, c.cookie(constants.RefreshTokenCookie, refreshToken, c.RefreshTokenTTL))
}

func (c CookieSettings) clearSession(w http.ResponseWriter) {
	for _, name := range []string{constants.AccessTokenCookie, constants.RefreshTokenCookie} {
		cookie := c.cookie(name, "", 0)
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		http.SetCookie(w, cookie)
	}
}

func (c CookieSettings) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
