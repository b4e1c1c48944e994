package stepauth

import "context"

// phoneChannel delegates code custody to the provider. The engine only
// keeps the provider's verification-session id; the code never touches
// our storage.
type phoneChannel struct {
	verifier PhoneVerifier
	delivery PhoneChannel
}

func (c *phoneChannel) channel() Channel { return ChannelPhone }

func (c *phoneChannel) errs() channelErrors {
	return channelErrors{
		invalidCode:      ErrInvalidPhoneCode,
		attemptsExceeded: ErrPhoneAttemptsExceeded,
		resendLimit:      ErrPhoneResendLimit,
		resendCooldown:   ErrPhoneResendCooldown,
	}
}

func (c *phoneChannel) issue(ctx context.Context, subject string) (string, string, error) {
	sid, err := c.verifier.CreateVerification(ctx, subject, c.delivery)
	if err != nil {
		return "", "", err
	}
	return "", sid, nil
}

func (c *phoneChannel) dispatch(ctx context.Context, subject string, payload DeliveryPayload, rec *verificationRecord, resend bool) (string, error) {
	if !resend {
		// The provider dispatched during issue.
		return "", nil
	}
	return c.verifier.CreateVerification(ctx, subject, c.delivery)
}

func (c *phoneChannel) matches(ctx context.Context, rec *verificationRecord, submitted string) (bool, error) {
	status, err := c.verifier.CheckVerification(ctx, rec.ProviderSID, submitted)
	if err != nil {
		return false, err
	}
	if status == PhoneCheckRateLimited {
		// One retry, then surface the throttle as unavailability.
		status, err = c.verifier.CheckVerification(ctx, rec.ProviderSID, submitted)
		if err != nil {
			return false, err
		}
		if status == PhoneCheckRateLimited {
			return false, ErrServiceUnavailable
		}
	}
	return status == PhoneCheckValid, nil
}

func (c *phoneChannel) cancel(ctx context.Context, rec *verificationRecord) {
	if rec.ProviderSID == "" {
		return
	}
	_ = c.verifier.CancelVerification(ctx, rec.ProviderSID)
}
