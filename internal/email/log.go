package email

import (
	"context"
	"log/slog"
)

// LogSender writes messages to the log instead of delivering them.
// It is the development default when no provider is configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) Send(ctx context.Context, email *Email) (string, error) {
	if len(email.To) == 0 {
		return "", ErrNoRecipients
	}
	l.logger.InfoContext(ctx, "email not sent, log sender in use",
		"to", email.To,
		"subject", email.Subject,
		"body", email.TextBody,
	)
	return "", nil
}
