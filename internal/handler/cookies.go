package handler

import (
	"net/http"
	"time"

	"github.com/sakif/channelhub/internal/auth"
	"github.com/sakif/channelhub/internal/service"
)

// CookieConfig controls the session cookies. Secure should only be off for
// plain-HTTP local development.
type CookieConfig struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Cross-site clients need SameSite=None, which browsers only accept on
// Secure cookies.
func (c CookieConfig) sameSite() http.SameSite {
	if c.Secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (c CookieConfig) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.sameSite(),
	}
}

func (c CookieConfig) setSession(w http.ResponseWriter, pair *service.TokenPair) {
	http.SetCookie(w, c.cookie(auth.AccessCookie, pair.AccessToken, int(c.AccessTTL.Seconds())))
	http.SetCookie(w, c.cookie(auth.RefreshCookie, pair.RefreshToken, int(c.RefreshTTL.Seconds())))
}

func (c CookieConfig) clearSession(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(auth.AccessCookie, "", -1))
	http.SetCookie(w, c.cookie(auth.RefreshCookie, "", -1))
}
