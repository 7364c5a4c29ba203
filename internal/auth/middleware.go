package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/mkrivan/go-auth-api/internal/httputil"
)

// ContextKey is a type for context keys to avoid collisions
type ContextKey string

const (
	UserIDContextKey        ContextKey = "user_id"
	RefreshClaimsContextKey ContextKey = "refresh_claims"
)

// Middleware guards protected routes and vets presented refresh tokens.
type Middleware struct {
	codec   TokenCodec
	ledger  RefreshLedger
	cookies *CookieManager
}

func NewMiddleware(codec TokenCodec, ledger RefreshLedger, cookies *CookieManager) *Middleware {
	return &Middleware{codec: codec, ledger: ledger, cookies: cookies}
}

// RequireAuth validates the bearer access token. A missing token is 401;
// a presented-but-invalid token is 403. Validity is signature plus expiry,
// no store lookup.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == "" {
			httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		claims, err := m.codec.VerifyAccess(token)
		if err != nil {
			httputil.RespondErrorWithCode(w, "invalid token", httputil.CodeInvalidToken, http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDContextKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ResolveRefreshToken vets the refresh cookie ahead of the refresh handler.
//
// The presented token is consumed from the ledger BEFORE its signature is
// checked, and the cookie is cleared no matter what — this is what makes a
// refresh token single-use. A token absent from the ledger (already
// redeemed, or revoked) and a token with a bad signature both end in 403
// with no distinction.
func (m *Middleware) ResolveRefreshToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshToken := m.cookies.ReadRefreshToken(r)
		if refreshToken == "" {
			httputil.RespondErrorWithCode(w, "refresh token required", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		m.cookies.ClearRefreshCookie(w)

		record, err := m.ledger.Consume(r.Context(), refreshToken)
		if err != nil {
			httputil.RespondErrorWithCode(w, "failed to verify session", httputil.CodeInternalError, http.StatusInternalServerError)
			return
		}
		if record == nil {
			httputil.RespondErrorWithCode(w, "invalid refresh token", httputil.CodeInvalidRefreshToken, http.StatusForbidden)
			return
		}

		claims, err := m.codec.VerifyRefresh(refreshToken)
		if err != nil {
			httputil.RespondErrorWithCode(w, "invalid refresh token", httputil.CodeInvalidRefreshToken, http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), RefreshClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserIDFromContext extracts the user ID set by RequireAuth.
func GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(UserIDContextKey).(uuid.UUID)
	return userID, ok
}

// GetRefreshClaimsFromContext extracts the claims set by ResolveRefreshToken.
func GetRefreshClaimsFromContext(ctx context.Context) (*TokenClaims, bool) {
	claims, ok := ctx.Value(RefreshClaimsContextKey).(*TokenClaims)
	return claims, ok
}
