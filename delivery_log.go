package stepauth

import (
	"context"
	"log/slog"
)

// LogEmailSender writes outbound mail to a structured log instead of
// delivering it. The engine substitutes it for the configured sender
// outside production; it is exported so applications can wire it
// explicitly in tooling and local setups.
type LogEmailSender struct {
	// Logger receives the suppressed mail. Nil falls back to
	// slog.Default.
	Logger *slog.Logger
}

func (s *LogEmailSender) Send(ctx context.Context, to, subject, body string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email delivery suppressed",
		"to", to,
		"subject", subject,
		"body", body,
	)
	return nil
}
