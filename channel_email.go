package stepauth

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/stepauth-dev/stepauth/internal"
)

// emailChannel generates the code itself and delivers it through the
// injected sender. Resends reuse the original code verbatim.
type emailChannel struct {
	sender EmailSender
}

func (c *emailChannel) channel() Channel { return ChannelEmail }

func (c *emailChannel) errs() channelErrors {
	return channelErrors{
		invalidCode:      ErrInvalidEmailCode,
		attemptsExceeded: ErrEmailAttemptsExceeded,
		resendLimit:      ErrEmailResendLimit,
		resendCooldown:   ErrEmailResendCooldown,
	}
}

func (c *emailChannel) issue(ctx context.Context, subject string) (string, string, error) {
	code, err := internal.NewOTP(6)
	if err != nil {
		return "", "", err
	}
	return code, "", nil
}

func (c *emailChannel) dispatch(ctx context.Context, subject string, payload DeliveryPayload, rec *verificationRecord, resend bool) (string, error) {
	body := strings.ReplaceAll(payload.Body, CodePlaceholder, rec.Code)
	return "", c.sender.Send(ctx, subject, payload.Subject, body)
}

func (c *emailChannel) matches(ctx context.Context, rec *verificationRecord, submitted string) (bool, error) {
	return subtle.ConstantTimeCompare([]byte(rec.Code), []byte(submitted)) == 1, nil
}

func (c *emailChannel) cancel(ctx context.Context, rec *verificationRecord) {}
