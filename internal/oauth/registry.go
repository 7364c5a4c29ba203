// Package oauth drives the authorization-code handshake against federated
// identity providers. Providers form a static registry selected by
// configuration at startup; there is no runtime registration.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/mkrivan/go-auth-api/internal/config"
)

var ErrUnknownProvider = errors.New("unknown or disabled provider")

// Profile is what a provider callback resolves to. Email may be empty;
// some providers omit it, and the identity linker rejects such profiles.
type Profile struct {
	Email       string
	DisplayName string
	Provider    string
}

// Provider holds the endpoints and credentials for one identity provider.
type Provider struct {
	Name         string
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	Scopes       []string
	RedirectURL  string
}

// Registry maps provider names to their configured endpoints.
type Registry struct {
	providers  map[string]*Provider
	httpClient *http.Client
}

// NewRegistry builds the registry from configuration. Only enabled
// providers are reachable; callbacks for anything else fail with
// ErrUnknownProvider.
func NewRegistry(cfg config.OAuthConfig, serverURL string) *Registry {
	providers := make(map[string]*Provider)

	if cfg.Google.Enabled {
		providers["google"] = &Provider{
			Name:         "google",
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			AuthURL:      "https://accounts.google.com/o/oauth2/v2/auth",
			TokenURL:     "https://oauth2.googleapis.com/token",
			UserInfoURL:  "https://openidconnect.googleapis.com/v1/userinfo",
			Scopes:       []string{"openid", "profile", "email"},
			RedirectURL:  callbackURL(serverURL, "google"),
		}
	}

	if cfg.Microsoft.Enabled {
		providers["microsoft"] = &Provider{
			Name:         "microsoft",
			ClientID:     cfg.Microsoft.ClientID,
			ClientSecret: cfg.Microsoft.ClientSecret,
			AuthURL:      "https://login.microsoftonline.com/common/oauth2/v2.0/authorize",
			TokenURL:     "https://login.microsoftonline.com/common/oauth2/v2.0/token",
			UserInfoURL:  "https://graph.microsoft.com/oidc/userinfo",
			Scopes:       []string{"openid", "profile", "email"},
			RedirectURL:  callbackURL(serverURL, "microsoft"),
		}
	}

	if cfg.Apple.Enabled {
		providers["apple"] = &Provider{
			Name:         "apple",
			ClientID:     cfg.Apple.ClientID,
			ClientSecret: cfg.Apple.ClientSecret,
			AuthURL:      "https://appleid.apple.com/auth/authorize",
			TokenURL:     "https://appleid.apple.com/auth/token",
			Scopes:       []string{"name", "email"},
			RedirectURL:  callbackURL(serverURL, "apple"),
		}
	}

	return &Registry{
		providers:  providers,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Get returns the provider by name, or ErrUnknownProvider.
func (r *Registry) Get(name string) (*Provider, error) {
	provider, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return provider, nil
}

// Enabled lists the names of configured providers.
func (r *Registry) Enabled() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// AuthorizationURL builds the URL the client is redirected to for the
// provider's consent screen.
func (p *Provider) AuthorizationURL(state string) string {
	query := url.Values{}
	query.Set("response_type", "code")
	query.Set("client_id", p.ClientID)
	query.Set("redirect_uri", p.RedirectURL)
	query.Set("scope", strings.Join(p.Scopes, " "))
	query.Set("state", state)

	return p.AuthURL + "?" + query.Encode()
}

// ResolveProfile exchanges an authorization code and fetches the user's
// profile from the provider. Providers without a userinfo endpoint (Apple)
// carry the profile inside the id_token instead.
func (r *Registry) ResolveProfile(ctx context.Context, provider *Provider, code string) (*Profile, error) {
	token, err := r.exchangeCode(ctx, provider, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange with %s failed: %w", provider.Name, err)
	}

	if provider.UserInfoURL == "" {
		profile, err := profileFromIDToken(provider.Name, token.IDToken)
		if err != nil {
			return nil, fmt.Errorf("profile decode from %s failed: %w", provider.Name, err)
		}
		return profile, nil
	}

	profile, err := r.fetchUserInfo(ctx, provider, token.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("profile fetch from %s failed: %w", provider.Name, err)
	}

	return profile, nil
}

type providerToken struct {
	AccessToken string
	IDToken     string
}

func (r *Registry) exchangeCode(ctx context.Context, provider *Provider, code string) (providerToken, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", provider.RedirectURL)
	form.Set("client_id", provider.ClientID)
	form.Set("client_secret", provider.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return providerToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return providerToken{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providerToken{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		IDToken     string `json:"id_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return providerToken{}, err
	}
	if payload.AccessToken == "" {
		return providerToken{}, errors.New("missing access token")
	}

	return providerToken{AccessToken: payload.AccessToken, IDToken: payload.IDToken}, nil
}

// profileFromIDToken reads the OIDC claims out of an id_token. The token
// arrived over the provider's TLS token endpoint, so its signature is not
// re-verified here.
func profileFromIDToken(providerName, idToken string) (*Profile, error) {
	if idToken == "" {
		return nil, errors.New("missing id token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil, err
	}

	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if name == "" {
		name = email
	}

	return &Profile{
		Email:       email,
		DisplayName: name,
		Provider:    providerName,
	}, nil
}

func (r *Registry) fetchUserInfo(ctx context.Context, provider *Provider, accessToken string) (*Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, provider.UserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned %d", resp.StatusCode)
	}

	// All three providers speak the OIDC userinfo shape.
	var payload struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Sub   string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	displayName := payload.Name
	if displayName == "" {
		displayName = payload.Email
	}

	return &Profile{
		Email:       payload.Email,
		DisplayName: displayName,
		Provider:    provider.Name,
	}, nil
}

func callbackURL(serverURL, provider string) string {
	return fmt.Sprintf("%s/api/v1/auth/%s/callback", strings.TrimRight(serverURL, "/"), provider)
}
