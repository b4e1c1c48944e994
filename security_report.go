package stepauth

import "time"

// SecurityReport is a point-in-time summary of the engine's security
// posture, for startup logging and operator inspection.
type SecurityReport struct {
	SigningAlgorithm   string
	AccessTTL          time.Duration
	SessionLifetime    time.Duration
	RateLimitingActive bool
	VerificationCaps   VerificationCapsReport
	AbuseThreshold     int
	AbuseWindow        time.Duration
	CSRFSecureCookies  bool
	AuditEnabled       bool
	MetricsEnabled     bool
}

// VerificationCapsReport mirrors the challenge limits in force.
type VerificationCapsReport struct {
	CodeTTL        time.Duration
	MaxAttempts    int
	MaxResends     int
	ResendCooldown time.Duration
}

// SecurityReport summarizes the active configuration.
func (e *Engine) SecurityReport() SecurityReport {
	if e == nil || e.config == nil {
		return SecurityReport{}
	}

	rateLimiting := e.config.RateLimit.Account.Max > 0 ||
		e.config.RateLimit.Data.Max > 0 ||
		e.config.RateLimit.IP.Max > 0 ||
		e.config.RateLimit.Global.Max > 0

	return SecurityReport{
		SigningAlgorithm:   string(e.config.Token.Method),
		AccessTTL:          e.config.Token.AccessTTL,
		SessionLifetime:    e.config.Session.AbsoluteLifetime,
		RateLimitingActive: rateLimiting,
		VerificationCaps: VerificationCapsReport{
			CodeTTL:        e.config.Verification.CodeTTL,
			MaxAttempts:    e.config.Verification.MaxAttempts,
			MaxResends:     e.config.Verification.MaxResends,
			ResendCooldown: e.config.Verification.ResendCooldown,
		},
		AbuseThreshold:    e.config.StepUp.MaxFailedAttempts,
		AbuseWindow:       e.config.StepUp.FailureWindow,
		CSRFSecureCookies: e.config.CSRF.Secure,
		AuditEnabled:      e.config.Audit.Enabled,
		MetricsEnabled:    e.config.Metrics.Enabled,
	}
}
