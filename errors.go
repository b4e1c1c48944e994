package stepauth

import "net/http"

// Error is the user-facing failure payload produced by every Engine
// operation. Code is a stable machine-readable identifier that clients key
// on and must never change between releases; Message is a human-readable
// default; Status is the HTTP-style class the transport layer should map
// the failure to.
//
// All exported Err* values in this package are *Error, so callers can both
// match with errors.Is and render the payload directly.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

func newError(status int, code, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// AsError extracts the *Error payload from err, or wraps unknown failures
// into the generic unavailable payload so transports never leak internals.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return ErrServiceUnavailable
}

var (
	// ErrEngineNotReady is returned when an Engine method is called before
	// Build wired its dependencies.
	ErrEngineNotReady = newError(http.StatusServiceUnavailable, "engine_not_ready", "engine not initialized")
	// ErrServiceUnavailable covers collaborator failures (cache store,
	// delivery providers, durable store). Safe to retry later.
	ErrServiceUnavailable = newError(http.StatusServiceUnavailable, "service_unavailable", "service temporarily unavailable")

	// ErrAccountRateLimited is the per-account fixed-window denial.
	ErrAccountRateLimited = newError(http.StatusTooManyRequests, "account_rate_limit_exceeded", "too many requests for this account")
	// ErrDataRateLimited is the per-subject (email/phone) fixed-window denial.
	ErrDataRateLimited = newError(http.StatusTooManyRequests, "data_rate_limit_exceeded", "too many requests for this address")
	// ErrIPRateLimited is the per-IP fixed-window denial.
	ErrIPRateLimited = newError(http.StatusTooManyRequests, "ip_rate_limit_exceeded", "too many requests from this address")
	// ErrGlobalRateLimited is the catch-all fixed-window denial.
	ErrGlobalRateLimited = newError(http.StatusTooManyRequests, "global_rate_limit_exceeded", "too many requests")

	// ErrInvalidCredentials is the ordinary login rejection. It never
	// distinguishes unknown account from wrong password.
	ErrInvalidCredentials = newError(http.StatusBadRequest, "invalid_credentials", "invalid credentials")
	// ErrInvalidPassword rejects a password step-up re-entry.
	ErrInvalidPassword = newError(http.StatusBadRequest, "invalid_password", "invalid password")
	// ErrAccountNotFound is returned by account-bound operations when the
	// durable store has no matching record.
	ErrAccountNotFound = newError(http.StatusBadRequest, "account_not_found", "account not found")
	// ErrMFAMethodNotEnabled rejects a challenge over a channel the account
	// has not enabled.
	ErrMFAMethodNotEnabled = newError(http.StatusBadRequest, "mfa_method_not_enabled", "mfa method not enabled for this account")

	// ErrInvalidTemplate rejects a delivery payload whose body lacks the
	// code placeholder.
	ErrInvalidTemplate = newError(http.StatusBadRequest, "invalid_template", "message template is missing the code placeholder")
	// ErrInvalidToken rejects a verification token/intent mismatch.
	ErrInvalidToken = newError(http.StatusBadRequest, "invalid_verification_token", "verification token does not match")
	// ErrVerificationNotFound means no pending challenge exists for the
	// subject (never started, expired, or already consumed). The caller
	// must restart.
	ErrVerificationNotFound = newError(http.StatusBadRequest, "verification_not_found", "no pending verification for this subject")
	// ErrVerificationForbidden rejects an owner-bound record presented by a
	// different account. Never retried; signals misuse.
	ErrVerificationForbidden = newError(http.StatusForbidden, "verification_forbidden", "verification belongs to another account")

	// ErrInvalidEmailCode is the recoverable wrong-code rejection for the
	// email channel. Increments the attempt counter.
	ErrInvalidEmailCode = newError(http.StatusBadRequest, "invalid_email_verification_code", "invalid email verification code")
	// ErrEmailResendLimit is returned once the email resend cap is reached.
	ErrEmailResendLimit = newError(http.StatusTooManyRequests, "resend_email_verification_limit_reached", "email verification resend limit reached")
	// ErrEmailResendCooldown is returned when resend is requested inside the
	// cooldown window.
	ErrEmailResendCooldown = newError(http.StatusTooManyRequests, "resend_email_verification_cooldown", "email verification was just sent, wait before resending")
	// ErrEmailAttemptsExceeded is returned when the email verify attempt cap
	// is crossed; the record is deleted and the flow must restart.
	ErrEmailAttemptsExceeded = newError(http.StatusTooManyRequests, "verify_email_attempts_limit_reached", "too many email verification attempts")

	// ErrInvalidPhoneCode is the recoverable wrong-code rejection for the
	// phone channel.
	ErrInvalidPhoneCode = newError(http.StatusBadRequest, "invalid_phone_verification_code", "invalid phone verification code")
	// ErrPhoneResendLimit is returned once the phone resend cap is reached.
	ErrPhoneResendLimit = newError(http.StatusTooManyRequests, "resend_phone_verification_limit_reached", "phone verification resend limit reached")
	// ErrPhoneResendCooldown is returned when resend is requested inside the
	// cooldown window.
	ErrPhoneResendCooldown = newError(http.StatusTooManyRequests, "resend_phone_verification_cooldown", "phone verification was just sent, wait before resending")
	// ErrPhoneAttemptsExceeded is returned when the phone verify attempt cap
	// is crossed.
	ErrPhoneAttemptsExceeded = newError(http.StatusTooManyRequests, "verify_phone_attempts_limit_reached", "too many phone verification attempts")

	// ErrInvalidTOTPCode rejects an authenticator code outside the current
	// 30-second slot.
	ErrInvalidTOTPCode = newError(http.StatusBadRequest, "invalid_totp_code", "invalid authenticator code")
	// ErrTOTPAttemptsExceeded is returned when the totp-channel verify
	// attempt cap is crossed.
	ErrTOTPAttemptsExceeded = newError(http.StatusTooManyRequests, "verify_totp_attempts_limit_reached", "too many authenticator code attempts")
	// ErrTOTPResendLimit mirrors the resend cap for the app channel, where
	// resend is a counter-only no-op.
	ErrTOTPResendLimit = newError(http.StatusTooManyRequests, "resend_totp_verification_limit_reached", "authenticator verification resend limit reached")
	// ErrTOTPResendCooldown mirrors the resend cooldown for the app channel.
	ErrTOTPResendCooldown = newError(http.StatusTooManyRequests, "resend_totp_verification_cooldown", "authenticator verification was just refreshed")
	// ErrTOTPAlreadyEnabled rejects re-enrollment while the authenticator
	// app is already enabled. Idempotency guard, not transient.
	ErrTOTPAlreadyEnabled = newError(http.StatusConflict, "totp_already_enabled", "authenticator app already enabled")
	// ErrTOTPEnrollmentRequired is returned when confirming enrollment with
	// no pending enrollment key.
	ErrTOTPEnrollmentRequired = newError(http.StatusBadRequest, "totp_enrollment_required", "no pending authenticator enrollment")
	// ErrTOTPNotEnabled rejects app-based proofs for accounts without an
	// enabled authenticator.
	ErrTOTPNotEnabled = newError(http.StatusBadRequest, "totp_not_enabled", "authenticator app not enabled")

	// ErrRedundantAccessRequest rejects a step-up request for a level the
	// session already holds. Surfaced as an error rather than a silent
	// success so clients notice wasted round trips.
	ErrRedundantAccessRequest = newError(http.StatusConflict, "redundant_access_request", "session already holds the requested access level")
	// ErrSessionRevoked reports that the session was terminated as an abuse
	// side effect. Deliberately 401-class, distinct from the 400-class
	// bad-credential rejections.
	ErrSessionRevoked = newError(http.StatusUnauthorized, "session_revoked", "session revoked")
	// ErrSessionNotFound means the cached session record is gone (expired,
	// revoked, or never existed).
	ErrSessionNotFound = newError(http.StatusUnauthorized, "session_not_found", "session not found")
	// ErrTokenInvalid rejects an access token that fails signature or shape
	// checks.
	ErrTokenInvalid = newError(http.StatusUnauthorized, "invalid_token", "invalid access token")
	// ErrNoActiveSessions rejects bulk revocation when the durable store
	// reports nothing to revoke.
	ErrNoActiveSessions = newError(http.StatusConflict, "no_active_sessions", "no active sessions to revoke")

	// ErrCSRFInvalid rejects a state-changing redirect whose echoed token
	// does not validate against the cookie-bound secret.
	ErrCSRFInvalid = newError(http.StatusForbidden, "invalid_csrf_token", "csrf token invalid or expired")
	// ErrPKCEMissing means no verifier cookie was present on release.
	ErrPKCEMissing = newError(http.StatusBadRequest, "pkce_verifier_missing", "pkce verifier missing or expired")
)
