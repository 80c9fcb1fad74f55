package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP connection parameters.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string // optional, some relays accept unauthenticated mail
	Password string
	Timeout  time.Duration
}

// SMTPSender implements Sender with go-mail. TLS mode follows the port:
// implicit TLS on 465, mandatory STARTTLS on 587, opportunistic elsewhere.
type SMTPSender struct {
	config SMTPConfig
	logger *slog.Logger
}

func NewSMTPSender(config SMTPConfig, logger *slog.Logger) *SMTPSender {
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	return &SMTPSender{config: config, logger: logger}
}

func (s *SMTPSender) Send(ctx context.Context, email *Email) (string, error) {
	msg, err := buildMessage(email)
	if err != nil {
		return "", err
	}

	client, err := mail.NewClient(s.config.Host, clientOptions(s.config)...)
	if err != nil {
		return "", fmt.Errorf("failed to create SMTP client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	var id string
	if ids := msg.GetGenHeader(mail.HeaderMessageID); len(ids) > 0 {
		id = ids[0]
	}
	s.logger.InfoContext(ctx, "smtp: email sent", "to", email.To, "subject", email.Subject, "message_id", id)
	return id, nil
}

// buildMessage converts email into a MIME message, text first with an HTML
// alternative when both bodies are present.
func buildMessage(email *Email) (*mail.Msg, error) {
	if len(email.To) == 0 {
		return nil, ErrNoRecipients
	}

	msg := mail.NewMsg()
	if err := msg.From(email.From); err != nil {
		return nil, fmt.Errorf("invalid from address: %w", err)
	}
	if err := msg.To(email.To...); err != nil {
		return nil, fmt.Errorf("invalid to address: %w", err)
	}
	msg.Subject(email.Subject)
	msg.SetMessageID()

	switch {
	case email.HTMLBody != "" && email.TextBody != "":
		msg.SetBodyString(mail.TypeTextPlain, email.TextBody)
		msg.AddAlternativeString(mail.TypeTextHTML, email.HTMLBody)
	case email.HTMLBody != "":
		msg.SetBodyString(mail.TypeTextHTML, email.HTMLBody)
	default:
		msg.SetBodyString(mail.TypeTextPlain, email.TextBody)
	}

	for key, value := range email.Headers {
		msg.SetGenHeader(mail.Header(key), value)
	}
	return msg, nil
}

func clientOptions(config SMTPConfig) []mail.Option {
	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(config.Timeout),
	}

	switch config.Port {
	case 465:
		opts = append(opts, mail.WithSSL())
	case 587:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		// 25, or 1025 for a local catcher such as Mailpit
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}
	return opts
}
