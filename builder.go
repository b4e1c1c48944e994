package stepauth

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/stepauth-dev/stepauth/internal/rate"
	"github.com/stepauth-dev/stepauth/jwt"
	"github.com/stepauth-dev/stepauth/password"
	"github.com/stepauth-dev/stepauth/session"
)

// Builder assembles an [Engine]. Collaborators are injected with the With*
// methods; Build validates the configuration and wires everything once.
type Builder struct {
	config *Config
	redis  redis.UniversalClient

	accountProvider AccountProvider
	sessionProvider SessionProvider
	emailSender     EmailSender
	phoneVerifier   PhoneVerifier
	auditSink       AuditSink
	passwordConfig  *password.Config
	logger          *slog.Logger

	built bool
}

// New returns a [Builder] seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The config is cloned; later
// mutation by the caller does not affect the builder.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(&cfg)
	return b
}

// WithRedis sets the Redis client backing the session cache, verification
// state, and rate counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountProvider sets the durable account store.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accountProvider = p
	return b
}

// WithSessionProvider sets the durable session store.
func (b *Builder) WithSessionProvider(p SessionProvider) *Builder {
	b.sessionProvider = p
	return b
}

// WithEmailSender sets the outbound email dispatcher.
func (b *Builder) WithEmailSender(s EmailSender) *Builder {
	b.emailSender = s
	return b
}

// WithPhoneVerifier sets the outbound phone verification provider.
func (b *Builder) WithPhoneVerifier(v PhoneVerifier) *Builder {
	b.phoneVerifier = v
	return b
}

// WithAuditSink sets the audit event consumer.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Unset defaults to slog.Default.
// Outside production the logger also carries suppressed code deliveries.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithPasswordConfig overrides the argon2id cost parameters.
func (b *Builder) WithPasswordConfig(cfg password.Config) *Builder {
	b.passwordConfig = &cfg
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration and returns a wired [Engine]. A
// builder can be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.accountProvider == nil {
		return nil, errors.New("account provider required")
	}
	if b.sessionProvider == nil {
		return nil, errors.New("session provider required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	engine := &Engine{
		config:          cfg,
		accountProvider: b.accountProvider,
		sessionProvider: b.sessionProvider,
		emailSender:     b.emailSender,
		phoneVerifier:   b.phoneVerifier,
		logger:          b.logger,
	}
	if engine.logger == nil {
		engine.logger = slog.Default()
	}

	engine.sessionStore = session.NewStore(
		b.redis,
		cfg.Session.RedisPrefix,
		cfg.Session.AbsoluteLifetime,
		cfg.Session.MinTTLFloor,
	)
	engine.rateLimiter = rate.New(b.redis, cfg.RateLimit.RedisPrefix)
	engine.verificationStore = newVerificationStore(b.redis, cfg.Verification.RedisPrefix)
	engine.enrollmentStore = newTOTPEnrollmentStore(b.redis, cfg.TOTP.RedisPrefix)
	engine.mfaLoginStore = newMFALoginStore(b.redis, cfg.Login.RedisPrefix)
	engine.stepupLimiter = newStepUpLimiter(b.redis, cfg.StepUp)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	pwCfg := password.DefaultConfig()
	if b.passwordConfig != nil {
		pwCfg = *b.passwordConfig
	}
	ph, err := password.NewHasher(pwCfg)
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: tokenMethod(cfg.Token.Method),
		PrivateKey:    signingPrivateKey(cfg.Token),
		PublicKey:     append([]byte(nil), cfg.Token.PublicKey...),
		Issuer:        cfg.Token.Issuer,
	})
	if err != nil {
		return nil, err
	}
	engine.jwtManager = jm

	b.built = true

	return engine, nil
}

func tokenMethod(m SigningMethod) jwt.SigningMethod {
	if m == SigningEdDSA {
		return jwt.MethodEd25519
	}
	return jwt.MethodHS256
}

func signingPrivateKey(cfg TokenConfig) []byte {
	if cfg.Method == SigningEdDSA {
		return append([]byte(nil), cfg.PrivateKey...)
	}
	return append([]byte(nil), cfg.Secret...)
}
