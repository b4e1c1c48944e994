package stepauth

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventMFARequired         = "mfa_required"
	auditEventMFASuccess          = "mfa_success"
	auditEventMFAFailure          = "mfa_failure"
	auditEventRateLimited         = "rate_limit_triggered"
	auditEventVerificationStarted = "verification_started"
	auditEventVerificationResent  = "verification_resent"
	auditEventVerificationSuccess = "verification_confirmed"
	auditEventVerificationFailure = "verification_failed"
	auditEventTOTPSetupRequested  = "totp_setup_requested"
	auditEventTOTPEnabled         = "totp_enabled"
	auditEventTOTPDisabled        = "totp_disabled"
	auditEventAccessGranted       = "access_granted"
	auditEventAccessRedundant     = "access_redundant_request"
	auditEventAbuseRevocation     = "abuse_revocation"
	auditEventLogoutSession       = "logout_session"
	auditEventLogoutAll           = "logout_all"
	auditEventCSRFRejected        = "csrf_rejected"
	auditEventPKCERejected        = "pkce_rejected"
)
