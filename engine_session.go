package stepauth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stepauth-dev/stepauth/internal"
	"github.com/stepauth-dev/stepauth/session"
)

// Session is the authenticated-caller view handed to embedders after token
// validation.
type Session struct {
	PrimaryID   string
	SecondaryID string
	AccountID   string
	Level       AccessLevel
	Kind        SessionKind
	MFAVerified bool
	CreatedAt   time.Time
}

func sessionView(rec *session.Record) *Session {
	return &Session{
		PrimaryID:   rec.PrimaryID,
		SecondaryID: rec.SecondaryID,
		AccountID:   rec.AccountID,
		Level:       AccessLevel(rec.Level),
		Kind:        SessionKind(rec.Kind),
		MFAVerified: rec.MFAVerified,
		CreatedAt:   time.Unix(rec.CreatedAt, 0),
	}
}

// Authenticate validates an access token against the cached session. The
// cache is keyed by the token's secondary id, so a token that outlived a
// rotation simply stops resolving.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Session, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.jwtManager.ParseAccess(token)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	rec, err := e.sessionStore.Get(ctx, claims.RID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, ErrServiceUnavailable
	}

	if rec.AccountID != claims.AID || rec.PrimaryID != claims.SID {
		return nil, ErrTokenInvalid
	}

	return sessionView(rec), nil
}

// RotateSession swaps the session's secondary id and issues a fresh access
// token. Tokens minted before the rotation stop validating.
func (e *Engine) RotateSession(ctx context.Context, token string) (string, error) {
	sess, err := e.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}

	next, err := internal.NewID()
	if err != nil {
		return "", ErrServiceUnavailable
	}

	rec, err := e.sessionStore.RotateSecondary(ctx, sess.SecondaryID, next.String())
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSessionNotFound
		}
		return "", ErrServiceUnavailable
	}

	if err := e.sessionProvider.UpdateSessionToken(ctx, rec.PrimaryID, rec.SecondaryID); err != nil {
		return "", ErrServiceUnavailable
	}

	return e.issueAccessToken(rec)
}

// Logout terminates the caller's session: the cache record dies and the
// durable row is marked revoked.
func (e *Engine) Logout(ctx context.Context, token string) error {
	sess, err := e.Authenticate(ctx, token)
	if err != nil {
		return err
	}
	return e.revokeSession(ctx, sess, auditEventLogoutSession)
}

// LogoutAll revokes every session of the account. Returns
// ErrNoActiveSessions when the durable store had nothing to revoke.
func (e *Engine) LogoutAll(ctx context.Context, accountID string) (int, error) {
	if e == nil || e.sessionStore == nil {
		return 0, ErrEngineNotReady
	}

	count, err := e.sessionProvider.MarkAllRevoked(ctx, accountID)
	if err != nil {
		return 0, ErrServiceUnavailable
	}
	if count == 0 {
		return 0, ErrNoActiveSessions
	}

	if _, err := e.sessionStore.DeleteAllForAccount(ctx, accountID); err != nil {
		return 0, ErrServiceUnavailable
	}

	e.metricInc(MetricSessionRevokedAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, accountID, "", nil, nil)

	return count, nil
}

func (e *Engine) revokeSession(ctx context.Context, sess *Session, auditEvent string) error {
	if err := e.sessionStore.Delete(ctx, sess.SecondaryID); err != nil {
		return ErrServiceUnavailable
	}
	if err := e.sessionProvider.MarkRevoked(ctx, sess.PrimaryID); err != nil {
		return ErrServiceUnavailable
	}

	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEvent, true, sess.AccountID, sess.PrimaryID, nil, nil)

	return nil
}

func (e *Engine) issueAccessToken(rec *session.Record) (string, error) {
	token, err := e.jwtManager.CreateAccess(rec.AccountID, rec.PrimaryID, rec.SecondaryID, rec.Level, rec.MFAVerified)
	if err != nil {
		return "", ErrServiceUnavailable
	}
	return token, nil
}
