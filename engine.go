package stepauth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stepauth-dev/stepauth/internal/rate"
	"github.com/stepauth-dev/stepauth/jwt"
	"github.com/stepauth-dev/stepauth/password"
	"github.com/stepauth-dev/stepauth/session"
)

// Engine is the authentication core. It owns the session cache, the
// verification challenge state, rate limiting, and token issuance; durable
// account and session rows live behind the injected providers. Construct
// with [New] and a [Builder]; an Engine is immutable once built and safe
// for concurrent use.
type Engine struct {
	config *Config

	accountProvider AccountProvider
	sessionProvider SessionProvider
	emailSender     EmailSender
	phoneVerifier   PhoneVerifier

	sessionStore      *session.Store
	rateLimiter       *rate.Limiter
	verificationStore *verificationStore
	enrollmentStore   *totpEnrollmentStore
	mfaLoginStore     *mfaLoginStore
	stepupLimiter     *stepupLimiter

	passwordHash *password.Hasher
	jwtManager   *jwt.Manager

	audit   *auditDispatcher
	metrics *Metrics
	logger  *slog.Logger
}

// Close stops the audit dispatcher, draining queued events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were shed under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of every engine counter.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	accountID, sessionID string,
	failure error,
	metadata func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp: nowFunc(),
		EventType: eventType,
		AccountID: accountID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
	}
	if failure != nil {
		event.Error = AsError(failure).Code
	}
	if metadata != nil {
		event.Metadata = metadata()
	}

	e.audit.Emit(ctx, event)
}

// takeRate consumes one unit in every applicable fixed-window layer before
// an operation starts doing work. accountID and dataKey may be empty to
// skip their layers; the IP layer keys on the context client IP.
func (e *Engine) takeRate(ctx context.Context, op, accountID, dataKey string) error {
	if e.rateLimiter == nil {
		return nil
	}

	type layer struct {
		key     string
		rule    rate.Rule
		mapped  *Error
		applies bool
	}

	ip := clientIPFromContext(ctx)
	layers := []layer{
		{
			key:     "acct:" + op + ":" + accountID,
			rule:    rate.Rule(e.config.RateLimit.Account),
			mapped:  ErrAccountRateLimited,
			applies: accountID != "",
		},
		{
			key:     "data:" + op + ":" + dataKey,
			rule:    rate.Rule(e.config.RateLimit.Data),
			mapped:  ErrDataRateLimited,
			applies: dataKey != "",
		},
		{
			key:     "ip:" + op + ":" + ip,
			rule:    rate.Rule(e.config.RateLimit.IP),
			mapped:  ErrIPRateLimited,
			applies: ip != "",
		},
		{
			key:     "global:" + op,
			rule:    rate.Rule(e.config.RateLimit.Global),
			mapped:  ErrGlobalRateLimited,
			applies: true,
		},
	}

	for _, l := range layers {
		if !l.applies {
			continue
		}
		if err := e.rateLimiter.Take(ctx, l.key, l.rule); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				e.metricInc(MetricRateLimitHit)
				e.emitAudit(ctx, auditEventRateLimited, false, accountID, "", l.mapped, func() map[string]string {
					return map[string]string{"operation": op}
				})
				return l.mapped
			}
			return ErrServiceUnavailable
		}
	}

	return nil
}
