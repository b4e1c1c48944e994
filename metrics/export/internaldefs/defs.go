// Package internaldefs holds the shared counter catalog the exporters
// render from. Names follow the Prometheus _total convention.
package internaldefs

import (
	stepauth "github.com/stepauth-dev/stepauth"
)

// CounterDef binds one engine counter to its exported name and help text.
type CounterDef struct {
	ID   stepauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter the engine tracks, in exposition order.
var CounterDefs = []CounterDef{
	{ID: stepauth.MetricLoginSuccess, Name: "stepauth_login_success_total", Help: "Successful login attempts."},
	{ID: stepauth.MetricLoginFailure, Name: "stepauth_login_failure_total", Help: "Failed login attempts."},
	{ID: stepauth.MetricLoginMFARequired, Name: "stepauth_login_mfa_required_total", Help: "Login flows deferred to a second factor."},
	{ID: stepauth.MetricMFALoginSuccess, Name: "stepauth_mfa_login_success_total", Help: "Successful second-factor login confirmations."},
	{ID: stepauth.MetricMFALoginFailure, Name: "stepauth_mfa_login_failure_total", Help: "Failed second-factor login confirmations."},
	{ID: stepauth.MetricRateLimitHit, Name: "stepauth_rate_limit_hit_total", Help: "Rate-limit checks that denied requests."},
	{ID: stepauth.MetricVerificationStarted, Name: "stepauth_verification_started_total", Help: "Verification challenges issued."},
	{ID: stepauth.MetricVerificationResent, Name: "stepauth_verification_resent_total", Help: "Verification code resends."},
	{ID: stepauth.MetricVerificationSuccess, Name: "stepauth_verification_success_total", Help: "Verification challenges completed."},
	{ID: stepauth.MetricVerificationFailure, Name: "stepauth_verification_failure_total", Help: "Verification attempts with a wrong code."},
	{ID: stepauth.MetricVerificationAttemptsExceeded, Name: "stepauth_verification_attempts_exceeded_total", Help: "Verification challenges invalidated by the attempt cap."},
	{ID: stepauth.MetricTOTPEnrollmentStarted, Name: "stepauth_totp_enrollment_started_total", Help: "Authenticator enrollments begun."},
	{ID: stepauth.MetricTOTPEnrollmentConfirmed, Name: "stepauth_totp_enrollment_confirmed_total", Help: "Authenticator enrollments confirmed."},
	{ID: stepauth.MetricAccessGrantMedium, Name: "stepauth_access_grant_medium_total", Help: "Sessions raised to medium access."},
	{ID: stepauth.MetricAccessRedundantRequest, Name: "stepauth_access_redundant_request_total", Help: "Access requests for an already-held level."},
	{ID: stepauth.MetricAbuseRevocation, Name: "stepauth_abuse_revocation_total", Help: "Sessions revoked by the proof-failure threshold."},
	{ID: stepauth.MetricSessionCreated, Name: "stepauth_session_created_total", Help: "Created sessions."},
	{ID: stepauth.MetricSessionRevoked, Name: "stepauth_session_revoked_total", Help: "Single-session revocations."},
	{ID: stepauth.MetricSessionRevokedAll, Name: "stepauth_session_revoked_all_total", Help: "Account-wide revocation operations."},
	{ID: stepauth.MetricCSRFRejected, Name: "stepauth_csrf_rejected_total", Help: "Requests rejected by the double-submit check."},
	{ID: stepauth.MetricPKCERejected, Name: "stepauth_pkce_rejected_total", Help: "Code-exchange releases with a missing or tampered verifier cookie."},
}
