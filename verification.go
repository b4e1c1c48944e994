package stepauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/stepauth-dev/stepauth/internal"
)

// channelErrors is the per-channel error family surfaced by the shared
// verification flow.
type channelErrors struct {
	invalidCode      *Error
	attemptsExceeded *Error
	resendLimit      *Error
	resendCooldown   *Error
}

// verifyChannel is one code-delivery mechanism plugged into the shared
// challenge flow. The flow owns record state, caps, and cooldowns; the
// channel owns code custody and transport.
type verifyChannel interface {
	channel() Channel
	errs() channelErrors

	// issue creates the challenge. code is the expected entry held in the
	// record (empty when the provider holds it); sid is the provider-side
	// session id.
	issue(ctx context.Context, subject string) (code, sid string, err error)

	// dispatch delivers the (possibly re-sent) code. resend reports
	// whether this is a repeat send; the returned sid replaces the
	// record's provider session id when non-empty.
	dispatch(ctx context.Context, subject string, payload DeliveryPayload, rec *verificationRecord, resend bool) (sid string, err error)

	// matches checks a submitted entry against the record.
	matches(ctx context.Context, rec *verificationRecord, submitted string) (bool, error)

	// cancel releases provider-side state when the record dies without a
	// successful match.
	cancel(ctx context.Context, rec *verificationRecord)
}

// StartVerificationRequest begins a code challenge.
type StartVerificationRequest struct {
	Intent  Intent
	Channel Channel
	// Subject is the address under challenge: the email address, the phone
	// number, or the account id for the authenticator channel.
	Subject string
	// PhoneChannel selects the provider delivery mechanism for the phone
	// channel.
	PhoneChannel PhoneChannel
	// OwnerID binds the challenge to an account; empty for pre-account
	// intents.
	OwnerID string
	// Payload is the message template. Required for the email channel.
	Payload DeliveryPayload
}

func subjectKey(channel Channel, subject string) string {
	return channel.String() + ":" + subject
}

// StartVerification creates a new challenge for the subject, replacing any
// pending one, and dispatches the code. The returned token must accompany
// every resend and verify call for this challenge.
func (e *Engine) StartVerification(ctx context.Context, req StartVerificationRequest) (*VerificationStart, error) {
	if e == nil || e.verificationStore == nil {
		return nil, ErrEngineNotReady
	}
	if req.Subject == "" || req.Intent >= intentCount {
		return nil, ErrInvalidCredentials
	}
	if req.Channel == ChannelTOTP {
		// The app channel's subject is the account itself.
		req.OwnerID = req.Subject
	}

	ch, err := e.channelFor(req)
	if err != nil {
		return nil, err
	}

	if req.Channel == ChannelEmail && !strings.Contains(req.Payload.Body, CodePlaceholder) {
		return nil, ErrInvalidTemplate
	}

	if err := e.takeRate(ctx, "verify_start", req.OwnerID, req.Subject); err != nil {
		return nil, err
	}

	key := subjectKey(req.Channel, req.Subject)
	if prior, getErr := e.verificationStore.Get(ctx, key); getErr == nil {
		// The replaced challenge releases its provider-side session so the
		// old code cannot complete against the new record.
		ch.cancel(ctx, prior)
	}

	code, sid, err := ch.issue(ctx, req.Subject)
	if err != nil {
		return nil, err
	}

	tokenID, err := internal.NewID()
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	now := nowFunc()
	rec := &verificationRecord{
		Intent:      req.Intent,
		Channel:     req.Channel,
		Token:       tokenID.String(),
		Code:        code,
		ProviderSID: sid,
		OwnerID:     req.OwnerID,
		LastSentAt:  now.Unix(),
		ExpiresAt:   now.Add(e.config.Verification.CodeTTL).Unix(),
	}

	if err := e.verificationStore.Save(ctx, key, rec); err != nil {
		ch.cancel(ctx, rec)
		return nil, ErrServiceUnavailable
	}

	if _, err := ch.dispatch(ctx, req.Subject, req.Payload, rec, false); err != nil {
		_ = e.verificationStore.Delete(ctx, key)
		ch.cancel(ctx, rec)
		return nil, ErrServiceUnavailable
	}

	e.metricInc(MetricVerificationStarted)
	e.emitAudit(ctx, auditEventVerificationStarted, true, req.OwnerID, "", nil, func() map[string]string {
		return map[string]string{
			"intent":  req.Intent.String(),
			"channel": req.Channel.String(),
		}
	})

	return &VerificationStart{
		Token:     rec.Token,
		ExpiresAt: time.Unix(rec.ExpiresAt, 0),
	}, nil
}

// ResendVerification re-delivers the pending challenge's original code
// and restarts its TTL; the resend cap and cooldown are strict.
func (e *Engine) ResendVerification(ctx context.Context, req StartVerificationRequest, token string) (*VerificationResend, error) {
	if e == nil || e.verificationStore == nil {
		return nil, ErrEngineNotReady
	}

	ch, err := e.channelFor(req)
	if err != nil {
		return nil, err
	}
	family := ch.errs()

	if req.Channel == ChannelEmail && !strings.Contains(req.Payload.Body, CodePlaceholder) {
		return nil, ErrInvalidTemplate
	}

	if err := e.takeRate(ctx, "verify_resend", req.OwnerID, req.Subject); err != nil {
		return nil, err
	}

	key := subjectKey(req.Channel, req.Subject)
	rec, err := e.verificationStore.Get(ctx, key)
	if err != nil {
		return nil, mapVerificationError(err, family)
	}
	if err := validateRecord(rec, req.Intent, token, req.OwnerID); err != nil {
		return nil, err
	}

	rec, err = e.verificationStore.MarkResent(ctx, key,
		e.config.Verification.MaxResends, e.config.Verification.ResendCooldown, e.config.Verification.CodeTTL)
	if err != nil {
		return nil, mapVerificationError(err, family)
	}

	if sid, err := ch.dispatch(ctx, req.Subject, req.Payload, rec, true); err != nil {
		return nil, ErrServiceUnavailable
	} else if sid != "" && sid != rec.ProviderSID {
		replaced := *rec
		rec.ProviderSID = sid
		if err := e.verificationStore.Save(ctx, key, rec); err != nil {
			return nil, ErrServiceUnavailable
		}
		// The superseded provider session is dead weight once the record
		// points at the new one.
		ch.cancel(ctx, &replaced)
	}

	e.metricInc(MetricVerificationResent)
	e.emitAudit(ctx, auditEventVerificationResent, true, req.OwnerID, "", nil, func() map[string]string {
		return map[string]string{
			"intent":  req.Intent.String(),
			"channel": req.Channel.String(),
		}
	})

	return &VerificationResend{
		NextResendAt: time.Unix(rec.LastSentAt, 0).Add(e.config.Verification.ResendCooldown),
		Remaining:    e.config.Verification.MaxResends - int(rec.ResendCount),
	}, nil
}

// CompleteVerification checks a submitted code against the pending
// challenge. Success consumes the record and returns a view of it; the
// failure that reaches the attempt cap destroys it.
func (e *Engine) CompleteVerification(ctx context.Context, req StartVerificationRequest, token, submitted string) (*VerificationResult, error) {
	if e == nil || e.verificationStore == nil {
		return nil, ErrEngineNotReady
	}

	ch, err := e.channelFor(req)
	if err != nil {
		return nil, err
	}
	family := ch.errs()

	if err := e.takeRate(ctx, "verify_check", req.OwnerID, req.Subject); err != nil {
		return nil, err
	}

	key := subjectKey(req.Channel, req.Subject)
	rec, err := e.verificationStore.Get(ctx, key)
	if err != nil {
		return nil, mapVerificationError(err, family)
	}
	if err := validateRecord(rec, req.Intent, token, req.OwnerID); err != nil {
		return nil, err
	}

	ok, err := ch.matches(ctx, rec, submitted)
	if err != nil {
		var payload *Error
		if errors.As(err, &payload) {
			return nil, payload
		}
		return nil, ErrServiceUnavailable
	}

	if !ok {
		e.metricInc(MetricVerificationFailure)
		failErr := e.verificationStore.RecordFailure(ctx, key, e.config.Verification.MaxAttempts)
		if failErr != nil {
			if errors.Is(failErr, errVerificationAttemptsExceeded) {
				ch.cancel(ctx, rec)
				e.metricInc(MetricVerificationAttemptsExceeded)
				e.emitAudit(ctx, auditEventVerificationFailure, false, req.OwnerID, "", family.attemptsExceeded, nil)
				return nil, family.attemptsExceeded
			}
			return nil, mapVerificationError(failErr, family)
		}
		e.emitAudit(ctx, auditEventVerificationFailure, false, req.OwnerID, "", family.invalidCode, nil)
		return nil, family.invalidCode
	}

	if err := e.verificationStore.Delete(ctx, key); err != nil {
		return nil, ErrServiceUnavailable
	}

	e.metricInc(MetricVerificationSuccess)
	e.emitAudit(ctx, auditEventVerificationSuccess, true, req.OwnerID, "", nil, func() map[string]string {
		return map[string]string{
			"intent":  req.Intent.String(),
			"channel": req.Channel.String(),
		}
	})

	return &VerificationResult{
		Intent:  rec.Intent,
		Channel: rec.Channel,
		Subject: req.Subject,
		OwnerID: rec.OwnerID,
	}, nil
}

// CancelVerification discards a pending challenge and releases any
// provider-side state.
func (e *Engine) CancelVerification(ctx context.Context, req StartVerificationRequest, token string) error {
	if e == nil || e.verificationStore == nil {
		return ErrEngineNotReady
	}

	ch, err := e.channelFor(req)
	if err != nil {
		return err
	}

	key := subjectKey(req.Channel, req.Subject)
	rec, err := e.verificationStore.Get(ctx, key)
	if err != nil {
		return mapVerificationError(err, ch.errs())
	}
	if err := validateRecord(rec, req.Intent, token, req.OwnerID); err != nil {
		return err
	}

	ch.cancel(ctx, rec)
	if err := e.verificationStore.Delete(ctx, key); err != nil {
		return ErrServiceUnavailable
	}
	return nil
}

func (e *Engine) channelFor(req StartVerificationRequest) (verifyChannel, error) {
	switch req.Channel {
	case ChannelEmail:
		// Outside production the code is logged, never sent; no delivery
		// service is needed there.
		if e.config.Environment != EnvProduction {
			return &emailChannel{sender: &LogEmailSender{Logger: e.logger}}, nil
		}
		if e.emailSender == nil {
			return nil, ErrEngineNotReady
		}
		return &emailChannel{sender: e.emailSender}, nil
	case ChannelPhone:
		if e.phoneVerifier == nil {
			return nil, ErrEngineNotReady
		}
		delivery := req.PhoneChannel
		if delivery == "" {
			delivery = PhoneSMS
		}
		return &phoneChannel{verifier: e.phoneVerifier, delivery: delivery}, nil
	case ChannelTOTP:
		return &totpChannel{engine: e}, nil
	default:
		return nil, ErrInvalidCredentials
	}
}

func validateRecord(rec *verificationRecord, intent Intent, token, ownerID string) error {
	if rec.Intent != intent {
		return ErrInvalidToken
	}
	if subtle.ConstantTimeCompare([]byte(rec.Token), []byte(token)) != 1 {
		return ErrInvalidToken
	}
	if rec.OwnerID != "" && rec.OwnerID != ownerID {
		return ErrVerificationForbidden
	}
	return nil
}

func mapVerificationError(err error, family channelErrors) error {
	switch {
	case errors.Is(err, errVerificationNotFound):
		return ErrVerificationNotFound
	case errors.Is(err, errVerificationAttemptsExceeded):
		return family.attemptsExceeded
	case errors.Is(err, errVerificationResendLimit):
		return family.resendLimit
	case errors.Is(err, errVerificationResendCooldown):
		return family.resendCooldown
	default:
		return ErrServiceUnavailable
	}
}
