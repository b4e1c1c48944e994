package stepauth

import (
	"errors"
	"fmt"
	"time"
)

// Environment selects delivery behavior. Outside production, one-time
// codes are logged instead of sent so development setups need no mail
// service.
type Environment string

const (
	EnvProduction  Environment = "production"
	EnvDevelopment Environment = "development"
)

// SigningMethod selects the access-token signature algorithm.
type SigningMethod string

const (
	// SigningHS256 signs tokens with HMAC-SHA256 and a shared secret.
	SigningHS256 SigningMethod = "HS256"
	// SigningEdDSA signs tokens with Ed25519 keys.
	SigningEdDSA SigningMethod = "EdDSA"
)

// KeysConfig holds the server-held key material. All keys are long-lived
// secrets; rotating any of them invalidates the artifacts derived from it.
type KeysConfig struct {
	// TOTPKey is the server half of authenticator secret derivation.
	TOTPKey []byte
	// CSRFKey signs the double-submit secret cookie.
	CSRFKey []byte
	// CookieSigningKey authenticates integrity-protected cookie values
	// (the code-exchange verifier).
	CookieSigningKey []byte
}

// TokenConfig configures access-token issuance.
type TokenConfig struct {
	Method SigningMethod
	// Secret is the HMAC key for HS256.
	Secret []byte
	// PrivateKey and PublicKey are the Ed25519 pair for EdDSA, raw or PEM.
	PrivateKey []byte
	PublicKey  []byte
	AccessTTL  time.Duration
	Issuer     string
}

// SessionConfig configures the cached session layer.
type SessionConfig struct {
	RedisPrefix string
	// AbsoluteLifetime bounds a session from its creation instant. No
	// refresh or write extends it.
	AbsoluteLifetime time.Duration
	// MinTTLFloor is the minimum cache TTL applied on rewrite so a session
	// at end of life is never rewritten with a zero or negative expiry.
	MinTTLFloor time.Duration
}

// ScopeLimitConfig is one fixed-window rate rule.
type ScopeLimitConfig struct {
	Max    int
	Window time.Duration
}

// RateLimitConfig holds the layered fixed-window rules applied before
// request work starts. A zero Max disables the layer.
type RateLimitConfig struct {
	RedisPrefix string
	Account     ScopeLimitConfig
	Data        ScopeLimitConfig
	IP          ScopeLimitConfig
	Global      ScopeLimitConfig
}

// VerificationConfig configures one-time-code challenges across all
// channels.
type VerificationConfig struct {
	RedisPrefix string
	// CodeTTL bounds the challenge. Resends reuse the original code and
	// restart this window.
	CodeTTL time.Duration
	// MaxAttempts is the strict failed-entry cap; the failure that reaches
	// it destroys the record.
	MaxAttempts int
	// MaxResends is the strict resend cap counted from the initial send.
	MaxResends int
	// ResendCooldown is the minimum gap between sends.
	ResendCooldown time.Duration
}

// LoginConfig configures the pending-login bridge between a password
// check and its second factor.
type LoginConfig struct {
	RedisPrefix string
	// MFATokenTTL bounds how long a deferred login may wait for its second
	// factor.
	MFATokenTTL time.Duration
}

// TOTPConfig configures authenticator enrollment and code checks.
type TOTPConfig struct {
	// Issuer names the service in provisioning URIs.
	Issuer string
	// EnrollmentTTL bounds a begun-but-unconfirmed enrollment.
	EnrollmentTTL time.Duration
	RedisPrefix   string
}

// StepUpConfig configures the sustained-failure abuse counter shared by
// every step-up proof path of a session.
type StepUpConfig struct {
	RedisPrefix string
	// MaxFailedAttempts is the revocation threshold. The failure that
	// reaches it terminates the session.
	MaxFailedAttempts int
	// FailureWindow is the sliding lifetime of the counter; each failure
	// restarts it.
	FailureWindow time.Duration
}

// CSRFConfig configures the double-submit cookie pair.
type CSRFConfig struct {
	TTL          time.Duration
	CookieDomain string
	CookiePath   string
	Secure       bool
}

// PKCEConfig configures the code-exchange verifier cookie.
type PKCEConfig struct {
	TTL          time.Duration
	CookieDomain string
	CookiePath   string
	Secure       bool
}

// AuditConfig configures the asynchronous audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	// DropIfFull sheds events instead of blocking the request path when
	// the buffer is saturated.
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// Config is the complete, immutable engine configuration. Build clones it;
// later mutation of the caller's copy has no effect on a running Engine.
type Config struct {
	// Environment gates outbound code delivery; anything other than
	// EnvProduction logs codes instead of sending them.
	Environment  Environment
	Keys         KeysConfig
	Token        TokenConfig
	Session      SessionConfig
	RateLimit    RateLimitConfig
	Verification VerificationConfig
	Login        LoginConfig
	TOTP         TOTPConfig
	StepUp       StepUpConfig
	CSRF         CSRFConfig
	PKCE         PKCEConfig
	Audit        AuditConfig
	Metrics      MetricsConfig
}

// DefaultConfig returns the baseline configuration. Key material is left
// empty; callers must fill Keys and Token before Build.
func DefaultConfig() Config {
	return *defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		Environment: EnvProduction,
		Token: TokenConfig{
			Method:    SigningHS256,
			AccessTTL: 15 * time.Minute,
			Issuer:    "stepauth",
		},
		Session: SessionConfig{
			RedisPrefix:      "sa:sess:",
			AbsoluteLifetime: 30 * 24 * time.Hour,
			MinTTLFloor:      5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RedisPrefix: "sa:rl:",
			Account:     ScopeLimitConfig{Max: 30, Window: time.Minute},
			Data:        ScopeLimitConfig{Max: 10, Window: time.Minute},
			IP:          ScopeLimitConfig{Max: 60, Window: time.Minute},
			Global:      ScopeLimitConfig{Max: 0, Window: time.Minute},
		},
		Verification: VerificationConfig{
			RedisPrefix:    "sa:vrf:",
			CodeTTL:        10 * time.Minute,
			MaxAttempts:    5,
			MaxResends:     2,
			ResendCooldown: 30 * time.Second,
		},
		Login: LoginConfig{
			RedisPrefix: "sa:login:",
			MFATokenTTL: 10 * time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:        "stepauth",
			EnrollmentTTL: 10 * time.Minute,
			RedisPrefix:   "sa:totp:",
		},
		StepUp: StepUpConfig{
			RedisPrefix:       "sa:abuse:",
			MaxFailedAttempts: 15,
			FailureWindow:     15 * time.Minute,
		},
		CSRF: CSRFConfig{
			TTL:        15 * time.Minute,
			CookiePath: "/",
			Secure:     true,
		},
		PKCE: PKCEConfig{
			TTL:        15 * time.Minute,
			CookiePath: "/",
			Secure:     true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

func cloneConfig(cfg *Config) *Config {
	c := *cfg
	c.Keys.TOTPKey = append([]byte(nil), cfg.Keys.TOTPKey...)
	c.Keys.CSRFKey = append([]byte(nil), cfg.Keys.CSRFKey...)
	c.Keys.CookieSigningKey = append([]byte(nil), cfg.Keys.CookieSigningKey...)
	c.Token.Secret = append([]byte(nil), cfg.Token.Secret...)
	return &c
}

// Validate checks the configuration for internal consistency. Build calls
// it; callers constructing configs by hand can call it early.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}

	if c.Environment == "" {
		return errors.New("config: Environment must not be empty")
	}

	if len(c.Keys.TOTPKey) < 32 {
		return errors.New("config: Keys.TOTPKey must be at least 32 bytes")
	}
	if len(c.Keys.CSRFKey) < 32 {
		return errors.New("config: Keys.CSRFKey must be at least 32 bytes")
	}
	if len(c.Keys.CookieSigningKey) < 32 {
		return errors.New("config: Keys.CookieSigningKey must be at least 32 bytes")
	}

	switch c.Token.Method {
	case SigningHS256:
		if len(c.Token.Secret) < 32 {
			return errors.New("config: Token.Secret must be at least 32 bytes for HS256")
		}
	case SigningEdDSA:
		if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("config: Token.PrivateKey and Token.PublicKey required for EdDSA")
		}
	default:
		return fmt.Errorf("config: unsupported signing method %q", c.Token.Method)
	}
	if c.Token.AccessTTL <= 0 {
		return errors.New("config: Token.AccessTTL must be positive")
	}

	if c.Session.AbsoluteLifetime <= 0 {
		return errors.New("config: Session.AbsoluteLifetime must be positive")
	}
	if c.Session.MinTTLFloor <= 0 {
		return errors.New("config: Session.MinTTLFloor must be positive")
	}
	if c.Session.MinTTLFloor >= c.Session.AbsoluteLifetime {
		return errors.New("config: Session.MinTTLFloor must be below Session.AbsoluteLifetime")
	}

	for _, l := range []struct {
		name  string
		limit ScopeLimitConfig
	}{
		{"Account", c.RateLimit.Account},
		{"Data", c.RateLimit.Data},
		{"IP", c.RateLimit.IP},
		{"Global", c.RateLimit.Global},
	} {
		if l.limit.Max < 0 {
			return fmt.Errorf("config: RateLimit.%s.Max must not be negative", l.name)
		}
		if l.limit.Max > 0 && l.limit.Window <= 0 {
			return fmt.Errorf("config: RateLimit.%s.Window must be positive", l.name)
		}
	}

	if c.Verification.CodeTTL <= 0 {
		return errors.New("config: Verification.CodeTTL must be positive")
	}
	if c.Verification.MaxAttempts <= 0 {
		return errors.New("config: Verification.MaxAttempts must be positive")
	}
	if c.Verification.MaxResends < 0 {
		return errors.New("config: Verification.MaxResends must not be negative")
	}
	if c.Verification.ResendCooldown < 0 {
		return errors.New("config: Verification.ResendCooldown must not be negative")
	}
	if c.Verification.ResendCooldown >= c.Verification.CodeTTL {
		return errors.New("config: Verification.ResendCooldown must be below Verification.CodeTTL")
	}

	if c.Login.MFATokenTTL <= 0 {
		return errors.New("config: Login.MFATokenTTL must be positive")
	}

	if c.TOTP.Issuer == "" {
		return errors.New("config: TOTP.Issuer must not be empty")
	}
	if c.TOTP.EnrollmentTTL <= 0 {
		return errors.New("config: TOTP.EnrollmentTTL must be positive")
	}

	if c.StepUp.MaxFailedAttempts <= 0 {
		return errors.New("config: StepUp.MaxFailedAttempts must be positive")
	}
	if c.StepUp.FailureWindow <= 0 {
		return errors.New("config: StepUp.FailureWindow must be positive")
	}

	if c.CSRF.TTL <= 0 {
		return errors.New("config: CSRF.TTL must be positive")
	}
	if c.PKCE.TTL <= 0 {
		return errors.New("config: PKCE.TTL must be positive")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("config: Audit.BufferSize must be positive when audit is enabled")
	}

	return nil
}
