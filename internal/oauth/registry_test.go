package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkrivan/go-auth-api/internal/config"
)

func fullConfig() config.OAuthConfig {
	return config.OAuthConfig{
		Google:    config.ProviderConfig{Enabled: true, ClientID: "g-id", ClientSecret: "g-secret"},
		Microsoft: config.ProviderConfig{Enabled: true, ClientID: "m-id", ClientSecret: "m-secret"},
		Apple:     config.ProviderConfig{Enabled: true, ClientID: "a-id", ClientSecret: "a-secret"},
	}
}

func TestRegistryGet(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(fullConfig(), "https://api.example.com/")

	for _, name := range []string{"google", "microsoft", "apple"} {
		provider, err := registry.Get(name)
		require.NoError(t, err)
		assert.Equal(t, name, provider.Name)
		assert.Equal(t, "https://api.example.com/api/v1/auth/"+name+"/callback", provider.RedirectURL)
	}

	_, err := registry.Get("github")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	assert.Len(t, registry.Enabled(), 3)
}

func TestRegistryDisabledProviders(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(config.OAuthConfig{
		Google: config.ProviderConfig{Enabled: true, ClientID: "g-id"},
	}, "http://localhost:8080")

	_, err := registry.Get("google")
	assert.NoError(t, err)

	_, err = registry.Get("microsoft")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	_, err = registry.Get("apple")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestAuthorizationURL(t *testing.T) {
	t.Parallel()

	registry := NewRegistry(fullConfig(), "http://localhost:8080")
	provider, err := registry.Get("google")
	require.NoError(t, err)

	raw := provider.AuthorizationURL("opaque-state")
	parsed, err := url.Parse(raw)
	require.NoError(t, err)

	query := parsed.Query()
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "g-id", query.Get("client_id"))
	assert.Equal(t, "opaque-state", query.Get("state"))
	assert.Equal(t, "openid profile email", query.Get("scope"))
	assert.Equal(t, "http://localhost:8080/api/v1/auth/google/callback", query.Get("redirect_uri"))
}

func TestResolveProfileViaUserInfo(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.FormValue("grant_type"))
			assert.Equal(t, "the-code", r.FormValue("code"))
			assert.Equal(t, "g-id", r.FormValue("client_id"))
			json.NewEncoder(w).Encode(map[string]string{"access_token": "at-123"})
		case "/userinfo":
			assert.Equal(t, "Bearer at-123", r.Header.Get("Authorization"))
			json.NewEncoder(w).Encode(map[string]string{
				"sub":   "sub-1",
				"name":  "Ada Lovelace",
				"email": "ada@example.com",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer upstream.Close()

	registry := NewRegistry(fullConfig(), "http://localhost:8080")
	provider, err := registry.Get("google")
	require.NoError(t, err)
	provider.TokenURL = upstream.URL + "/token"
	provider.UserInfoURL = upstream.URL + "/userinfo"

	profile, err := registry.ResolveProfile(context.Background(), provider, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.Email)
	assert.Equal(t, "Ada Lovelace", profile.DisplayName)
	assert.Equal(t, "google", profile.Provider)
}

func TestResolveProfileViaIDToken(t *testing.T) {
	t.Parallel()

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "apple-sub",
		"email": "ada@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("apple-signs-this"))
	require.NoError(t, err)

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/token", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]string{
			"access_token": "at-apple",
			"id_token":     idToken,
		})
	}))
	defer upstream.Close()

	registry := NewRegistry(fullConfig(), "http://localhost:8080")
	provider, err := registry.Get("apple")
	require.NoError(t, err)
	require.Empty(t, provider.UserInfoURL, "apple has no userinfo endpoint")
	provider.TokenURL = upstream.URL + "/token"

	profile, err := registry.ResolveProfile(context.Background(), provider, "the-code")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.Email)
	// No name claim: the email doubles as the display name.
	assert.Equal(t, "ada@example.com", profile.DisplayName)
	assert.Equal(t, "apple", profile.Provider)
}

func TestResolveProfileTokenEndpointFailure(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer upstream.Close()

	registry := NewRegistry(fullConfig(), "http://localhost:8080")
	provider, err := registry.Get("google")
	require.NoError(t, err)
	provider.TokenURL = upstream.URL

	_, err = registry.ResolveProfile(context.Background(), provider, "expired-code")
	assert.Error(t, err)
}

func TestResolveProfileMissingAccessToken(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer upstream.Close()

	registry := NewRegistry(fullConfig(), "http://localhost:8080")
	provider, err := registry.Get("google")
	require.NoError(t, err)
	provider.TokenURL = upstream.URL

	_, err = registry.ResolveProfile(context.Background(), provider, "the-code")
	assert.Error(t, err)
}
