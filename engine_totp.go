package stepauth

import (
	"context"
	"errors"

	"github.com/stepauth-dev/stepauth/internal"
)

const totpAccountKeySize = 32

// BeginTOTPEnrollment generates fresh authenticator key material for the
// caller's account and returns the secret and provisioning URI to render
// as a QR code. The key stays pending until ConfirmTOTPEnrollment proves
// the app produces matching codes; beginning again replaces the pending
// key.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, token string) (*TOTPEnrollment, error) {
	sess, err := e.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}

	account, err := e.accountProvider.GetAccount(ctx, sess.AccountID)
	if err != nil || account == nil {
		return nil, ErrAccountNotFound
	}
	if account.MFAAppEnabled {
		return nil, ErrTOTPAlreadyEnabled
	}

	accountKey, err := internal.NewKey(totpAccountKeySize)
	if err != nil {
		return nil, ErrServiceUnavailable
	}

	if err := e.enrollmentStore.Save(ctx, sess.AccountID, accountKey, e.config.TOTP.EnrollmentTTL); err != nil {
		return nil, ErrServiceUnavailable
	}

	secret := deriveTOTPSecret(e.config.Keys.TOTPKey, accountKey)

	label := account.Email
	if label == "" {
		label = account.ID
	}

	e.metricInc(MetricTOTPEnrollmentStarted)
	e.emitAudit(ctx, auditEventTOTPSetupRequested, true, sess.AccountID, sess.PrimaryID, nil, nil)

	return &TOTPEnrollment{
		Secret: encodeTOTPSecret(secret),
		URI:    totpProvisionURI(e.config.TOTP.Issuer, label, secret),
	}, nil
}

// ConfirmTOTPEnrollment checks a code from the newly provisioned app
// against the pending key and, on match, persists the key and enables the
// app method.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, token, code string) error {
	sess, err := e.Authenticate(ctx, token)
	if err != nil {
		return err
	}

	accountKey, err := e.enrollmentStore.Get(ctx, sess.AccountID)
	if err != nil {
		if errors.Is(err, errEnrollmentNotFound) {
			return ErrTOTPEnrollmentRequired
		}
		return ErrServiceUnavailable
	}

	secret := deriveTOTPSecret(e.config.Keys.TOTPKey, accountKey)
	if !totpMatches(secret, code, nowFunc()) {
		return ErrInvalidTOTPCode
	}

	if err := e.accountProvider.EnableTOTP(ctx, sess.AccountID, accountKey); err != nil {
		return ErrServiceUnavailable
	}
	if err := e.enrollmentStore.Delete(ctx, sess.AccountID); err != nil {
		return ErrServiceUnavailable
	}

	e.metricInc(MetricTOTPEnrollmentConfirmed)
	e.emitAudit(ctx, auditEventTOTPEnabled, true, sess.AccountID, sess.PrimaryID, nil, nil)

	return nil
}

// DisableTOTP turns the app method off after a final valid code.
func (e *Engine) DisableTOTP(ctx context.Context, token, code string) error {
	sess, err := e.Authenticate(ctx, token)
	if err != nil {
		return err
	}

	account, err := e.accountProvider.GetAccount(ctx, sess.AccountID)
	if err != nil || account == nil {
		return ErrAccountNotFound
	}
	if !account.MFAAppEnabled || len(account.TOTPKey) == 0 {
		return ErrTOTPNotEnabled
	}

	secret := deriveTOTPSecret(e.config.Keys.TOTPKey, account.TOTPKey)
	if !totpMatches(secret, code, nowFunc()) {
		return ErrInvalidTOTPCode
	}

	if err := e.accountProvider.DisableTOTP(ctx, sess.AccountID); err != nil {
		return ErrServiceUnavailable
	}

	e.emitAudit(ctx, auditEventTOTPDisabled, true, sess.AccountID, sess.PrimaryID, nil, nil)

	return nil
}
