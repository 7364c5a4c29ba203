package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/mkrivan/go-auth-api/internal/logging"
	"github.com/mkrivan/go-auth-api/internal/user"
)

// Verification links expire an hour after signup or resend.
const verificationTokenTTL = 1 * time.Hour

// AuthTokens is the pair issued on every successful authentication. The
// refresh token travels only in the HTTP-only cookie, never the body.
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"-"`
}

// Service orchestrates signup, login, logout, refresh and federated
// callbacks. It holds no mutable state of its own; every session fact lives
// in the ledgers, so the process can be replicated freely.
type Service struct {
	users         UserStore
	refreshLedger RefreshLedger
	verifications VerificationLedger
	linker        *IdentityLinker
	codec         TokenCodec
	hasher        *Hasher
	mail          EmailSender
	logger        *logging.Logger
}

func NewService(
	users UserStore,
	refreshLedger RefreshLedger,
	verifications VerificationLedger,
	linker *IdentityLinker,
	codec TokenCodec,
	hasher *Hasher,
	mail EmailSender,
	logger *logging.Logger,
) *Service {
	return &Service{
		users:         users,
		refreshLedger: refreshLedger,
		verifications: verifications,
		linker:        linker,
		codec:         codec,
		hasher:        hasher,
		mail:          mail,
		logger:        logger,
	}
}

// Signup creates an unverified local account and mails a verification link.
// No session is established; the user must verify the email first.
func (s *Service) Signup(ctx context.Context, username, email, password string) (*user.User, error) {
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if email == "" {
		return nil, ErrEmailRequired
	}
	if len(email) > 254 {
		return nil, ErrInvalidEmailFormat
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmailFormat
	}
	if password == "" {
		return nil, ErrPasswordRequired
	}
	if len(password) < 8 {
		return nil, ErrPasswordTooShort
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, err := s.users.CreateLocal(ctx, username, email, passwordHash)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, user.ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	verificationToken, err := s.verifications.Issue(ctx, newUser.ID, verificationTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to issue verification token: %w", err)
	}

	s.sendVerificationMail(email, verificationToken)

	return newUser, nil
}

// Login authenticates local credentials and opens a fresh session.
//
// Unknown email, federated-only account and wrong password all fail with
// the same ErrInvalidCredentials so responses cannot be used to enumerate
// accounts. staleRefreshToken is whatever refresh cookie the client still
// carried; see reapStaleToken for why it matters.
func (s *Service) Login(ctx context.Context, email, password, staleRefreshToken string) (*AuthTokens, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	// Federated accounts have no password path.
	if existing.IsFederated() {
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(existing.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	if !existing.IsVerified() {
		return nil, ErrEmailNotVerified
	}

	if err := s.reapStaleToken(ctx, existing.ID, staleRefreshToken); err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, existing.ID)
}

// Refresh rotates the session: a new access and refresh token pair for a
// refresh token that the integrity middleware has already consumed from the
// ledger and signature-checked.
func (s *Service) Refresh(ctx context.Context, userID uuid.UUID) (*AuthTokens, error) {
	return s.issueTokens(ctx, userID)
}

// Logout is idempotent: an absent cookie, an unknown token and a live token
// all end the same way, with no session and no error.
func (s *Service) Logout(ctx context.Context, staleRefreshToken string) {
	if staleRefreshToken == "" {
		return
	}

	if _, err := s.refreshLedger.Consume(ctx, staleRefreshToken); err != nil {
		// Storage trouble must not keep the client logged in; the
		// cookie is cleared regardless.
		s.logger.Warn("failed to consume refresh token on logout", "error", err)
	}
}

// FederatedCallback handles a resolved provider profile: links or creates
// the user, reaps any stale cookie and opens a fresh session.
func (s *Service) FederatedCallback(ctx context.Context, email, displayName, provider, staleRefreshToken string) (*AuthTokens, error) {
	resolved, err := s.linker.Resolve(ctx, email, displayName, provider)
	if err != nil {
		return nil, err
	}

	if err := s.reapStaleToken(ctx, resolved.ID, staleRefreshToken); err != nil {
		return nil, err
	}

	return s.issueTokens(ctx, resolved.ID)
}

// VerifyEmail redeems a verification token and marks the owner verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) error {
	record, err := s.verifications.Consume(ctx, token)
	if err != nil {
		return fmt.Errorf("failed to consume verification token: %w", err)
	}
	if record == nil {
		return ErrInvalidVerificationToken
	}

	if err := s.users.MarkEmailVerified(ctx, record.UserID); err != nil {
		if errors.Is(err, user.ErrNotFound) {
			// Already verified, or the account is gone.
			return ErrInvalidVerificationToken
		}
		return fmt.Errorf("failed to verify email: %w", err)
	}

	return nil
}

// ResendVerificationEmail issues a fresh verification token for an
// unverified local account. Always returns nil to prevent email
// enumeration attacks.
func (s *Service) ResendVerificationEmail(ctx context.Context, email string) error {
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to get user for resend verification", "error", err)
		}
		return nil
	}

	if existing.IsVerified() || existing.IsFederated() {
		return nil
	}

	token, err := s.verifications.Issue(ctx, existing.ID, verificationTokenTTL)
	if err != nil {
		s.logger.Warn("failed to issue verification token", "error", err)
		return nil
	}

	s.sendVerificationMail(email, token)

	return nil
}

// reapStaleToken handles a refresh cookie presented alongside a fresh
// authentication. The stale token is consumed so it can never be replayed.
// If it turns out to belong to a DIFFERENT user, someone is presenting a
// stolen or leaked cookie: every session of that owner is revoked.
func (s *Service) reapStaleToken(ctx context.Context, authenticatedID uuid.UUID, staleRefreshToken string) error {
	if staleRefreshToken == "" {
		return nil
	}

	record, err := s.refreshLedger.Consume(ctx, staleRefreshToken)
	if err != nil {
		return fmt.Errorf("failed to consume stale refresh token: %w", err)
	}
	if record == nil || record.UserID == authenticatedID {
		return nil
	}

	s.logger.Warn("refresh token reuse detected, revoking all sessions",
		"owner_id", record.UserID,
		"presented_by", authenticatedID,
	)

	if err := s.refreshLedger.RevokeAll(ctx, record.UserID); err != nil {
		return fmt.Errorf("failed to revoke sessions after reuse detection: %w", err)
	}

	return nil
}

// issueTokens opens a new session: one stateless access token plus one
// ledger-backed refresh token.
func (s *Service) issueTokens(ctx context.Context, userID uuid.UUID) (*AuthTokens, error) {
	accessToken, err := s.codec.SignAccess(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	refreshToken, err := s.refreshLedger.Issue(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to issue refresh token: %w", err)
	}

	return &AuthTokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// sendVerificationMail delivers the link in a goroutine so mail trouble
// never fails the request. Failures are logged for operators.
func (s *Service) sendVerificationMail(email, token string) {
	go func() {
		// Fresh context: the request's context is done once the
		// response is written.
		emailCtx := context.Background()
		if err := s.mail.SendVerificationEmail(emailCtx, email, token); err != nil {
			s.logger.Warn("failed to send verification email", "email", email, "error", err)
		}
	}()
}
