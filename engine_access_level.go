package stepauth

import (
	"context"
	"errors"

	"github.com/stepauth-dev/stepauth/session"
)

// AccessLevel is the trust tier a session has proven. Levels are ordered
// and only ever increase for a live session; nothing downgrades short of
// revocation. The gap below Medium belongs to a retired tier and stays
// unassigned.
type AccessLevel uint8

const (
	// AccessNone is the base tier every fresh session starts at.
	AccessNone AccessLevel = 0
	// AccessMedium is granted after an in-session ownership proof:
	// password re-entry or a second-factor challenge.
	AccessMedium AccessLevel = 2
	// AccessHigh is reserved for stronger multi-step proofs. No current
	// operation grants it; the enum value keeps the wire format stable.
	AccessHigh AccessLevel = 3
)

// String returns the stable wire name of the level.
func (l AccessLevel) String() string {
	switch l {
	case AccessNone:
		return "none"
	case AccessMedium:
		return "medium"
	case AccessHigh:
		return "high"
	default:
		return "unknown"
	}
}

// RequestAccess starts the proof for a higher access level. Medium is
// proven over a second-factor challenge on the chosen method; the returned
// handle feeds ConfirmAccess. Requesting a level the session already holds
// fails with ErrRedundantAccessRequest rather than silently succeeding.
// Password re-entry needs no challenge to start; it is confirmed directly
// with ConfirmAccessPassword.
func (e *Engine) RequestAccess(ctx context.Context, token string, level AccessLevel, method MFAMethod, payload DeliveryPayload) (*VerificationStart, error) {
	sess, err := e.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	if level != AccessMedium {
		return nil, ErrInvalidCredentials
	}
	if sess.Level >= level {
		e.metricInc(MetricAccessRedundantRequest)
		e.emitAudit(ctx, auditEventAccessRedundant, false, sess.AccountID, sess.PrimaryID, ErrRedundantAccessRequest, nil)
		return nil, ErrRedundantAccessRequest
	}

	account, err := e.accountProvider.GetAccount(ctx, sess.AccountID)
	if err != nil || account == nil {
		return nil, ErrAccountNotFound
	}
	if !methodEnabled(account, method) {
		return nil, ErrMFAMethodNotEnabled
	}

	req, err := challengeRequest(account, method, payload)
	if err != nil {
		return nil, err
	}
	req.Intent = IntentMediumAccess

	return e.StartVerification(ctx, req)
}

// ConfirmAccess completes the Medium proof. Failures feed the session's
// abuse counter; crossing its threshold revokes the session outright and
// the caller sees ErrSessionRevoked instead of another retry.
func (e *Engine) ConfirmAccess(ctx context.Context, token, verifyToken string, method MFAMethod, submitted string) (string, error) {
	sess, err := e.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	if sess.Level >= AccessMedium {
		e.metricInc(MetricAccessRedundantRequest)
		return "", ErrRedundantAccessRequest
	}

	account, err := e.accountProvider.GetAccount(ctx, sess.AccountID)
	if err != nil || account == nil {
		return "", ErrAccountNotFound
	}

	req, err := challengeRequest(account, method, DeliveryPayload{})
	if err != nil {
		return "", err
	}
	req.Intent = IntentMediumAccess

	if _, err := e.CompleteVerification(ctx, req, verifyToken, submitted); err != nil {
		if isProofFailure(err) {
			if revoked, stepErr := e.countProofFailure(ctx, sess); stepErr != nil {
				return "", stepErr
			} else if revoked {
				return "", ErrSessionRevoked
			}
		}
		return "", err
	}

	return e.grantLevel(ctx, sess, AccessMedium, true)
}

// ConfirmAccessPassword proves Medium by re-entering the account password.
// An already-elevated session is rejected before the hash check runs, so a
// wrong password on it neither leaks a password verdict nor feeds the
// abuse counter. Wrong entries on a base session feed the same counter as
// every other in-session proof.
func (e *Engine) ConfirmAccessPassword(ctx context.Context, token, pass string) (string, error) {
	sess, err := e.Authenticate(ctx, token)
	if err != nil {
		return "", err
	}
	if sess.Level >= AccessMedium {
		e.metricInc(MetricAccessRedundantRequest)
		e.emitAudit(ctx, auditEventAccessRedundant, false, sess.AccountID, sess.PrimaryID, ErrRedundantAccessRequest, nil)
		return "", ErrRedundantAccessRequest
	}

	if err := e.takeRate(ctx, "access_password", sess.AccountID, ""); err != nil {
		return "", err
	}

	account, err := e.accountProvider.GetAccount(ctx, sess.AccountID)
	if err != nil || account == nil || !account.HasPassword() {
		return "", ErrAccountNotFound
	}

	ok, err := e.passwordHash.Verify(pass, account.PasswordHash)
	if err != nil {
		return "", ErrServiceUnavailable
	}
	if !ok {
		if revoked, stepErr := e.countProofFailure(ctx, sess); stepErr != nil {
			return "", stepErr
		} else if revoked {
			return "", ErrSessionRevoked
		}
		return "", ErrInvalidPassword
	}

	return e.grantLevel(ctx, sess, AccessMedium, false)
}

// countProofFailure records one failed in-session proof and revokes the
// session when the sustained-failure threshold is crossed.
func (e *Engine) countProofFailure(ctx context.Context, sess *Session) (bool, error) {
	exceeded, err := e.stepupLimiter.RecordFailure(ctx, sess.PrimaryID)
	if err != nil {
		return false, ErrServiceUnavailable
	}
	if !exceeded {
		return false, nil
	}

	if err := e.revokeSession(ctx, sess, auditEventAbuseRevocation); err != nil {
		return true, err
	}
	e.metricInc(MetricAbuseRevocation)
	return true, nil
}

func (e *Engine) grantLevel(ctx context.Context, sess *Session, level AccessLevel, mfaProof bool) (string, error) {
	if err := e.stepupLimiter.Reset(ctx, sess.PrimaryID); err != nil {
		return "", ErrServiceUnavailable
	}

	rec, err := e.sessionStore.UpdateLevel(ctx, sess.SecondaryID, uint8(level), mfaProof)
	if err != nil {
		if errors.Is(err, session.ErrConflict) {
			return "", ErrServiceUnavailable
		}
		return "", ErrSessionNotFound
	}

	e.metricInc(MetricAccessGrantMedium)
	e.emitAudit(ctx, auditEventAccessGranted, true, sess.AccountID, sess.PrimaryID, nil, func() map[string]string {
		return map[string]string{"level": level.String()}
	})

	return e.issueAccessToken(rec)
}

// isProofFailure reports whether a verification error counts against the
// session abuse threshold. Only wrong entries count; infrastructure and
// state errors do not.
func isProofFailure(err error) bool {
	var payload *Error
	if !errors.As(err, &payload) {
		return false
	}
	switch payload {
	case ErrInvalidEmailCode, ErrInvalidPhoneCode, ErrInvalidTOTPCode,
		ErrEmailAttemptsExceeded, ErrPhoneAttemptsExceeded, ErrTOTPAttemptsExceeded,
		ErrInvalidPassword:
		return true
	default:
		return false
	}
}
