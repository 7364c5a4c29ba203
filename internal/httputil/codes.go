package httputil

// Machine-readable error codes included alongside human-readable messages,
// so clients can branch without string matching.
const (
	CodeInvalidRequestBody = "INVALID_REQUEST_BODY"
	CodeInternalError      = "INTERNAL_ERROR"
	CodeTooManyRequests    = "TOO_MANY_REQUESTS"

	CodeUsernameRequired   = "USERNAME_REQUIRED"
	CodeEmailRequired      = "EMAIL_REQUIRED"
	CodePasswordRequired   = "PASSWORD_REQUIRED"
	CodePasswordTooShort   = "PASSWORD_TOO_SHORT"
	CodeInvalidEmailFormat = "INVALID_EMAIL_FORMAT"
	CodeEmailAlreadyExists = "EMAIL_ALREADY_EXISTS"

	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeEmailNotVerified   = "EMAIL_NOT_VERIFIED"

	CodeMissingAuth         = "MISSING_AUTH"
	CodeInvalidToken        = "INVALID_TOKEN"
	CodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"

	CodeVerificationTokenRequired = "VERIFICATION_TOKEN_REQUIRED"
	CodeVerificationFailed        = "VERIFICATION_FAILED"

	CodeUnknownProvider = "UNKNOWN_PROVIDER"
	CodeIdentityFailed  = "IDENTITY_FAILED"
)
