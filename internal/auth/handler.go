package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkrivan/go-auth-api/internal/httputil"
	"github.com/mkrivan/go-auth-api/internal/logging"
	"github.com/mkrivan/go-auth-api/internal/oauth"
	"github.com/mkrivan/go-auth-api/internal/user"
)

const oauthStateCookie = "oauth_state"

// RateLimiter is the abuse-throttling surface the handlers depend on.
// Implemented by ratelimit.Limiter.
type RateLimiter interface {
	CheckIPRateLimit(ctx context.Context, ip, purpose string) (bool, error)
	RecordIPRequest(ctx context.Context, ip, purpose string) error
	CheckEmailCooldown(ctx context.Context, email string) (bool, error)
	SetEmailCooldown(ctx context.Context, email string) error
}

// Handler contains HTTP handlers for authentication endpoints
type Handler struct {
	service      *Service
	providers    *oauth.Registry
	rateLimiter  RateLimiter
	cookies      *CookieManager
	logger       *logging.Logger
	isProduction bool
}

func NewHandler(
	service *Service,
	providers *oauth.Registry,
	rateLimiter RateLimiter,
	cookies *CookieManager,
	logger *logging.Logger,
	isProduction bool,
) *Handler {
	return &Handler{
		service:      service,
		providers:    providers,
		rateLimiter:  rateLimiter,
		cookies:      cookies,
		logger:       logger,
		isProduction: isProduction,
	}
}

// SignupRequest represents the signup request body
type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResendVerificationRequest represents the resend verification email request
type ResendVerificationRequest struct {
	Email string `json:"email"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID    uuid.UUID `json:"id"`
	Email string    `json:"email"`
	Name  string    `json:"name"`
}

// SignupResponse represents the signup response
type SignupResponse struct {
	User    UserResponse `json:"user"`
	Message string       `json:"message"`
}

// TokenResponse carries the access token; the refresh token travels in the
// cookie only.
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// Signup handles user registration
// @Summary      Sign up a new user
// @Description  Create a local account with username, email and password. A verification email will be sent.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body SignupRequest true "Signup credentials"
// @Success      201 {object} SignupResponse
// @Failure      400 {object} ErrorResponse "Invalid request or validation error"
// @Failure      409 {object} ErrorResponse "Email already exists"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /api/v1/auth/signup [post]
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitByIP(w, r, "signup") {
		return
	}

	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid signup request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	newUser, err := h.service.Signup(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			logger.Warn("signup failed: email already exists")
			respondError(w, "email already exists", httputil.CodeEmailAlreadyExists, http.StatusConflict)
			return
		}
		if code, ok := validationCode(err); ok {
			logger.Warn("signup failed: validation error", "error", err.Error())
			respondError(w, err.Error(), code, http.StatusBadRequest)
			return
		}
		logger.Error("signup failed: internal error", "error", err.Error())
		respondError(w, "failed to sign up", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user signed up", "user_id", newUser.ID)

	respondJSON(w, SignupResponse{
		User: UserResponse{
			ID:    newUser.ID,
			Email: newUser.Email,
			Name:  newUser.Name,
		},
		Message: "Account created. Please check your email to verify your account.",
	}, http.StatusCreated)
}

// Login handles user login
// @Summary      User login
// @Description  Authenticate with email and password. Returns an access token and sets the refresh-token cookie.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body LoginRequest true "Login credentials"
// @Success      200 {object} TokenResponse
// @Failure      400 {object} ErrorResponse "Invalid request body"
// @Failure      401 {object} ErrorResponse "Invalid credentials or unverified email"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /api/v1/auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if h.limitByIP(w, r, "login") {
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"email": req.Email})

	staleToken := h.cookies.ReadRefreshToken(r)

	tokens, err := h.service.Login(r.Context(), req.Email, req.Password, staleToken)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Warn("login failed: invalid credentials")
			respondError(w, "invalid email or password", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
			return
		}
		if errors.Is(err, ErrEmailNotVerified) {
			logger.Warn("login failed: email not verified")
			respondError(w, "email not verified, please confirm your email", httputil.CodeEmailNotVerified, http.StatusUnauthorized)
			return
		}
		logger.Error("login failed: internal error", "error", err.Error())
		respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged in")

	// The stale cookie was consumed by the service; replace it wholesale.
	h.cookies.ClearRefreshCookie(w)
	h.cookies.SetRefreshCookie(w, tokens.RefreshToken)

	respondJSON(w, TokenResponse{AccessToken: tokens.AccessToken}, http.StatusOK)
}

// Refresh exchanges a refresh token for a new token pair. It is mounted
// behind Middleware.ResolveRefreshToken, which has already consumed the
// presented token from the ledger and verified its signature.
// @Summary      Rotate the session
// @Description  Exchange the refresh-token cookie for a new access token and a new refresh cookie.
// @Tags         auth
// @Produce      json
// @Success      200 {object} TokenResponse
// @Failure      401 {object} ErrorResponse "No refresh cookie presented"
// @Failure      403 {object} ErrorResponse "Invalid, expired or already-used refresh token"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /api/v1/auth/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	claims, ok := GetRefreshClaimsFromContext(r.Context())
	if !ok {
		respondError(w, "invalid refresh token", httputil.CodeInvalidRefreshToken, http.StatusForbidden)
		return
	}

	tokens, err := h.service.Refresh(r.Context(), claims.UserID)
	if err != nil {
		logger.Error("token refresh failed: internal error", "error", err.Error())
		respondError(w, "failed to refresh token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("session rotated", "user_id", claims.UserID)

	h.cookies.SetRefreshCookie(w, tokens.RefreshToken)

	respondJSON(w, TokenResponse{AccessToken: tokens.AccessToken}, http.StatusOK)
}

// Logout handles user logout
// @Summary      User logout
// @Description  Consume the refresh token (if any) and clear the cookie. Always succeeds.
// @Tags         auth
// @Success      204
// @Router       /api/v1/auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	h.service.Logout(r.Context(), h.cookies.ReadRefreshToken(r))
	h.cookies.ClearRefreshCookie(w)

	logger.Info("user logged out")

	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail handles email verification
// @Summary      Verify email address
// @Description  Redeem the verification token sent by email. Each token works exactly once.
// @Tags         auth
// @Produce      json
// @Param        token path string true "Verification token"
// @Success      200 {object} map[string]string
// @Failure      400 {object} ErrorResponse "Invalid, expired, or already used token"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /api/v1/verify-email/{token} [get]
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token := chi.URLParam(r, "token")
	if token == "" {
		respondError(w, "verification token required", httputil.CodeVerificationTokenRequired, http.StatusBadRequest)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token); err != nil {
		if errors.Is(err, ErrInvalidVerificationToken) {
			logger.Warn("email verification failed: invalid token")
			respondError(w, "invalid or expired verification token", httputil.CodeVerificationFailed, http.StatusBadRequest)
			return
		}
		logger.Error("email verification failed: internal error", "error", err.Error())
		respondError(w, "failed to verify email", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("email verified")

	respondJSON(w, map[string]string{
		"message": "Email verified successfully. You can now login.",
	}, http.StatusOK)
}

// ResendVerificationEmail handles resending verification email
// @Summary      Resend verification email
// @Description  Send a new verification email. Always returns success to prevent email enumeration.
// @Tags         auth
// @Accept       json
// @Produce      json
// @Param        request body ResendVerificationRequest true "Email address"
// @Success      200 {object} map[string]string
// @Failure      400 {object} ErrorResponse "Invalid request body"
// @Failure      429 {object} ErrorResponse "Too many requests"
// @Router       /api/v1/send-verification-email [post]
func (h *Handler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResendVerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid resend verification request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if h.limitByIP(w, r, "resend-verification") {
		return
	}

	onCooldown, err := h.rateLimiter.CheckEmailCooldown(r.Context(), req.Email)
	if err != nil {
		logger.Error("failed to check email cooldown", "error", err.Error())
		// Continue despite error to avoid blocking legitimate requests
	} else if onCooldown {
		logger.Warn("email on cooldown", "email", req.Email)
		respondError(w, "please wait before requesting another email", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return
	}

	if err := h.rateLimiter.SetEmailCooldown(r.Context(), req.Email); err != nil {
		logger.Error("failed to set email cooldown", "error", err.Error())
	}

	// Always succeeds from the caller's perspective.
	_ = h.service.ResendVerificationEmail(r.Context(), req.Email)

	respondJSON(w, map[string]string{
		"message": "If your email is registered and not verified, a new verification link has been sent.",
	}, http.StatusOK)
}

// ProviderRedirect sends the client to the provider's consent screen.
// @Summary      Start federated login
// @Description  Redirect to the identity provider's authorization endpoint.
// @Tags         auth
// @Param        provider path string true "Provider name (google, microsoft, apple)"
// @Success      302
// @Failure      400 {object} ErrorResponse "Unknown or disabled provider"
// @Router       /api/v1/auth/{provider} [get]
func (h *Handler) ProviderRedirect(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	providerName := chi.URLParam(r, "provider")
	provider, err := h.providers.Get(providerName)
	if err != nil {
		respondError(w, "unknown provider", httputil.CodeUnknownProvider, http.StatusBadRequest)
		return
	}

	state, err := generateRandomToken()
	if err != nil {
		logger.Error("failed to generate oauth state", "error", err.Error())
		respondError(w, "failed to start login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, provider.AuthorizationURL(state), http.StatusFound)
}

// ProviderCallback completes federated login after the provider redirects
// back with an authorization code.
// @Summary      Federated login callback
// @Description  Exchange the provider's authorization code, link or create the user and open a session.
// @Tags         auth
// @Produce      json
// @Param        provider path string true "Provider name"
// @Param        code query string true "Authorization code"
// @Param        state query string true "Opaque state from the redirect"
// @Success      200 {object} TokenResponse
// @Failure      401 {object} ErrorResponse "Provider error, missing email, or account under a different login method"
// @Failure      403 {object} ErrorResponse "State mismatch"
// @Failure      500 {object} ErrorResponse "Internal server error"
// @Router       /api/v1/auth/{provider}/callback [get]
func (h *Handler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	providerName := chi.URLParam(r, "provider")
	provider, err := h.providers.Get(providerName)
	if err != nil {
		respondError(w, "unknown provider", httputil.CodeUnknownProvider, http.StatusBadRequest)
		return
	}

	logger = logger.WithFields(map[string]any{"provider": providerName})

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		logger.Warn("oauth state mismatch")
		respondError(w, "state mismatch", httputil.CodeIdentityFailed, http.StatusForbidden)
		return
	}

	// The state is single-use.
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.isProduction,
		SameSite: http.SameSiteLaxMode,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		logger.Warn("provider returned error", "error", errParam)
		respondError(w, "provider login failed", httputil.CodeIdentityFailed, http.StatusUnauthorized)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, "missing authorization code", httputil.CodeIdentityFailed, http.StatusBadRequest)
		return
	}

	profile, err := h.providers.ResolveProfile(r.Context(), provider, code)
	if err != nil {
		logger.Warn("failed to resolve provider profile", "error", err.Error())
		respondError(w, "provider login failed", httputil.CodeIdentityFailed, http.StatusUnauthorized)
		return
	}

	staleToken := h.cookies.ReadRefreshToken(r)

	tokens, err := h.service.FederatedCallback(r.Context(), profile.Email, profile.DisplayName, profile.Provider, staleToken)
	if err != nil {
		if errors.Is(err, ErrIdentityNoEmail) {
			logger.Warn("federated login failed: no email in profile")
			respondError(w, "identity provider did not supply an email", httputil.CodeIdentityFailed, http.StatusUnauthorized)
			return
		}
		if errors.Is(err, ErrProviderMismatch) {
			logger.Warn("federated login failed: account under a different login method")
			respondError(w, "account exists under a different login method", httputil.CodeIdentityFailed, http.StatusUnauthorized)
			return
		}
		logger.Error("federated login failed: internal error", "error", err.Error())
		respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("federated login succeeded")

	h.cookies.ClearRefreshCookie(w)
	h.cookies.SetRefreshCookie(w, tokens.RefreshToken)

	respondJSON(w, TokenResponse{AccessToken: tokens.AccessToken}, http.StatusOK)
}

// limitByIP applies the per-IP budget for the purpose and writes a 429 when
// exhausted. Limiter trouble is logged but never blocks the request.
func (h *Handler) limitByIP(w http.ResponseWriter, r *http.Request, purpose string) bool {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	exceeded, err := h.rateLimiter.CheckIPRateLimit(r.Context(), ip, purpose)
	if err != nil {
		logger.Error("failed to check IP rate limit", "error", err.Error())
	} else if exceeded {
		logger.Warn("IP rate limit exceeded", "ip", ip, "purpose", purpose)
		respondError(w, "too many requests, please try again later", httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return true
	}

	if err := h.rateLimiter.RecordIPRequest(r.Context(), ip, purpose); err != nil {
		logger.Error("failed to record IP request", "error", err.Error())
	}

	return false
}

// validationCode maps signup validation sentinels to response codes.
func validationCode(err error) (string, bool) {
	switch {
	case errors.Is(err, ErrUsernameRequired):
		return httputil.CodeUsernameRequired, true
	case errors.Is(err, ErrEmailRequired):
		return httputil.CodeEmailRequired, true
	case errors.Is(err, ErrPasswordRequired):
		return httputil.CodePasswordRequired, true
	case errors.Is(err, ErrPasswordTooShort):
		return httputil.CodePasswordTooShort, true
	case errors.Is(err, ErrInvalidEmailFormat):
		return httputil.CodeInvalidEmailFormat, true
	}
	return "", false
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first (behind proxy/load balancer)
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// X-Forwarded-For can contain multiple IPs, take the first one
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	// Check X-Real-IP header
	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}

	// Fallback to RemoteAddr
	ip := r.RemoteAddr
	// RemoteAddr format is "IP:port", extract just the IP
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
