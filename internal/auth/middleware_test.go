package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(t *testing.T) (*Middleware, *fakeRefreshLedger, TokenCodec, *CookieManager) {
	t.Helper()

	codec := NewJWTCodec(testAccessSecret, testRefreshSecret, time.Minute, time.Hour)
	ledger := newFakeRefreshLedger()
	cookies := NewCookieManager("jid", false, time.Hour)
	return NewMiddleware(codec, ledger, cookies), ledger, codec, cookies
}

func TestRequireAuth(t *testing.T) {
	t.Parallel()

	mw, _, codec, _ := newTestMiddleware(t)
	userID := uuid.New()

	var gotUserID uuid.UUID
	var nextCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		gotUserID, _ = GetUserIDFromContext(r.Context())
	})
	handler := mw.RequireAuth(next)

	t.Run("missing header is 401", func(t *testing.T) {
		nextCalled = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/secret", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("non-bearer header is 401", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodGet, "/secret", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("invalid token is 403", func(t *testing.T) {
		nextCalled = false
		req := httptest.NewRequest(http.MethodGet, "/secret", nil)
		req.Header.Set("Authorization", "Bearer not-a-token")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		nextCalled = false
		refreshToken, err := codec.SignRefresh(userID)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/secret", nil)
		req.Header.Set("Authorization", "Bearer "+refreshToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("valid token passes through", func(t *testing.T) {
		nextCalled = false
		accessToken, err := codec.SignAccess(userID)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/secret", nil)
		req.Header.Set("Authorization", "Bearer "+accessToken)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, nextCalled)
		assert.Equal(t, userID, gotUserID)
	})
}

// clearedCookie reports whether the response expires the named cookie.
func clearedCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) bool {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name && c.MaxAge < 0 {
			return true
		}
	}
	return false
}

func TestResolveRefreshToken(t *testing.T) {
	t.Parallel()

	mw, ledger, codec, _ := newTestMiddleware(t)
	ctx := context.Background()
	userID := uuid.New()

	var gotClaims *TokenClaims
	var nextCalled bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextCalled = true
		gotClaims, _ = GetRefreshClaimsFromContext(r.Context())
	})
	handler := mw.ResolveRefreshToken(next)

	t.Run("no cookie is 401", func(t *testing.T) {
		nextCalled = false
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil))

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.False(t, nextCalled)
	})

	t.Run("token absent from ledger is 403 and clears cookie", func(t *testing.T) {
		nextCalled = false
		unknown, err := codec.SignRefresh(userID)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: "jid", Value: unknown})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.True(t, clearedCookie(t, rec, "jid"))
		assert.False(t, nextCalled)
	})

	t.Run("ledger token with bad signature is 403 and stays consumed", func(t *testing.T) {
		nextCalled = false

		// A fake-ledger token is in the ledger but carries no valid
		// signature; it must be consumed even though verification fails.
		token, err := ledger.Issue(ctx, userID)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: "jid", Value: token})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, nextCalled)

		record, err := ledger.Consume(ctx, token)
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("valid token passes through consumed", func(t *testing.T) {
		nextCalled = false

		signed, err := codec.SignRefresh(userID)
		require.NoError(t, err)
		ledger.records[hashToken(signed)] = &RefreshTokenRecord{
			UserID:    userID,
			TokenHash: hashToken(signed),
			CreatedAt: time.Now(),
		}

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: "jid", Value: signed})
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.True(t, nextCalled)
		require.NotNil(t, gotClaims)
		assert.Equal(t, userID, gotClaims.UserID)

		// Single-use: a replay of the same cookie is rejected.
		nextCalled = false
		req = httptest.NewRequest(http.MethodPost, "/api/v1/auth/refresh", nil)
		req.AddCookie(&http.Cookie{Name: "jid", Value: signed})
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.False(t, nextCalled)
	})
}

func TestCookieManager(t *testing.T) {
	t.Parallel()

	cookies := NewCookieManager("jid", true, time.Hour)

	rec := httptest.NewRecorder()
	cookies.SetRefreshCookie(rec, "token-value")

	result := rec.Result().Cookies()
	require.Len(t, result, 1)
	cookie := result[0]
	assert.Equal(t, "jid", cookie.Name)
	assert.Equal(t, "token-value", cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, int(time.Hour.Seconds()), cookie.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "jid", Value: "token-value"})
	assert.Equal(t, "token-value", cookies.ReadRefreshToken(req))

	assert.Empty(t, cookies.ReadRefreshToken(httptest.NewRequest(http.MethodGet, "/", nil)))

	rec = httptest.NewRecorder()
	cookies.ClearRefreshCookie(rec)
	assert.True(t, clearedCookie(t, rec, "jid"))
}
