package auth

import "errors"

var (
	// ErrInvalidCredentials covers unknown email, wrong password and
	// federated-only accounts alike, so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")

	ErrEmailNotVerified = errors.New("email not verified, please confirm your email")

	// ErrInvalidToken is the single verification failure for both token
	// kinds. Expired, tampered and malformed are deliberately not
	// distinguishable to callers.
	ErrInvalidToken = errors.New("invalid token")

	// ErrNoRefreshToken means no refresh cookie was presented at all.
	ErrNoRefreshToken = errors.New("refresh token required")

	ErrInvalidVerificationToken = errors.New("invalid or expired verification token")

	// ErrIdentityNoEmail is returned when a federated profile carries no
	// email address; some providers omit it and login cannot proceed.
	ErrIdentityNoEmail = errors.New("identity provider did not supply an email")

	// ErrProviderMismatch rejects a federated callback that resolves to an
	// account created locally or through a different provider.
	ErrProviderMismatch = errors.New("account exists under a different login method")

	// Signup validation.
	ErrUsernameRequired   = errors.New("username is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordTooShort   = errors.New("password must be at least 8 characters")
	ErrInvalidEmailFormat = errors.New("invalid email format")
)
