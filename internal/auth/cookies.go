package auth

import (
	"net/http"
	"time"
)

// CookieManager reads, sets and clears the refresh-token cookie. The cookie
// is HTTP-only and SameSite=Strict; Secure is on outside development.
type CookieManager struct {
	name   string
	secure bool
	maxAge time.Duration
}

func NewCookieManager(name string, secure bool, maxAge time.Duration) *CookieManager {
	return &CookieManager{name: name, secure: secure, maxAge: maxAge}
}

// SetRefreshCookie stores a freshly issued refresh token on the client.
func (c *CookieManager) SetRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearRefreshCookie expires the cookie immediately.
func (c *CookieManager) ClearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ReadRefreshToken returns the refresh token presented by the client, or ""
// when the cookie is absent.
func (c *CookieManager) ReadRefreshToken(r *http.Request) string {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
