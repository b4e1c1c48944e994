package stepauth

import "context"

// totpChannel verifies against the authenticator app. Nothing is
// delivered; the expected code is re-derived from the account's enrolled
// key for the exact current time slot.
type totpChannel struct {
	engine *Engine
}

func (c *totpChannel) channel() Channel { return ChannelTOTP }

func (c *totpChannel) errs() channelErrors {
	return channelErrors{
		invalidCode:      ErrInvalidTOTPCode,
		attemptsExceeded: ErrTOTPAttemptsExceeded,
		resendLimit:      ErrTOTPResendLimit,
		resendCooldown:   ErrTOTPResendCooldown,
	}
}

// issue only checks that the subject account can answer app challenges.
// The subject for this channel is the account id.
func (c *totpChannel) issue(ctx context.Context, subject string) (string, string, error) {
	if _, err := c.accountSecret(ctx, subject); err != nil {
		return "", "", err
	}
	return "", "", nil
}

func (c *totpChannel) dispatch(ctx context.Context, subject string, payload DeliveryPayload, rec *verificationRecord, resend bool) (string, error) {
	return "", nil
}

func (c *totpChannel) matches(ctx context.Context, rec *verificationRecord, submitted string) (bool, error) {
	secret, err := c.accountSecret(ctx, rec.OwnerID)
	if err != nil {
		return false, err
	}
	return totpMatches(secret, submitted, nowFunc()), nil
}

func (c *totpChannel) cancel(ctx context.Context, rec *verificationRecord) {}

func (c *totpChannel) accountSecret(ctx context.Context, accountID string) ([]byte, error) {
	account, err := c.engine.accountProvider.GetAccount(ctx, accountID)
	if err != nil || account == nil {
		return nil, ErrAccountNotFound
	}
	if !account.MFAAppEnabled || len(account.TOTPKey) == 0 {
		return nil, ErrTOTPNotEnabled
	}
	return deriveTOTPSecret(c.engine.config.Keys.TOTPKey, account.TOTPKey), nil
}
