// Package email composes order notifications and hands them to a Sender.
package email

import "context"

// Email represents an email message to be sent.
type Email struct {
	To       []string
	From     string
	Subject  string
	TextBody string
	HTMLBody string // optional
	Headers  map[string]string
}

// Sender delivers a message and returns the provider's message ID when
// there is one. Implementations: SMTP, Postmark, and a log-only sender for
// development.
type Sender interface {
	Send(ctx context.Context, email *Email) (string, error)
}
