package http

import (
	"net/http"
	"time"

	"github.com/aussiebroadwan/authcore/pkg/jwtx"
)

// CookieConfig shapes the refresh cookie. It is HttpOnly and scoped to the
// session endpoints so the browser never sends it elsewhere.
type CookieConfig struct {
	Name   string
	Path   string
	Secure bool
}

func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		Name:   "authcore_refresh",
		Path:   "/v1/auth",
		Secure: true,
	}
}

func (c CookieConfig) set(w http.ResponseWriter, tok jwtx.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    tok.Raw,
		Path:     c.Path,
		Expires:  tok.ExpiresAt,
		MaxAge:   int(time.Until(tok.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c CookieConfig) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.Name,
		Value:    "",
		Path:     c.Path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (c CookieConfig) read(r *http.Request) (string, bool) {
	ck, err := r.Cookie(c.Name)
	if err != nil || ck.Value == "" {
		return "", false
	}
	return ck.Value, true
}
