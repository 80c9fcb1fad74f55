package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/dukerupert/brokkr/internal/domain"
)

var ErrNoRecipients = &domain.Error{Code: domain.EINVALID, Message: "Email has no recipients"}

// Config addresses outgoing mail.
type Config struct {
	FromAddress string
	FromName    string

	// OpsAddress receives review alerts. Empty disables them.
	OpsAddress string

	// BaseURL prefixes order links in alerts.
	BaseURL string
}

// Service handles email composition and sending
type Service struct {
	sender    Sender
	config    Config
	templates *template.Template
	logger    *slog.Logger
}

var _ domain.OrderNotifier = (*Service)(nil)

func NewService(sender Sender, config Config, logger *slog.Logger) *Service {
	return &Service{
		sender:    sender,
		config:    config,
		templates: parseTemplates(),
		logger:    logger,
	}
}

// OrderPlaced confirms the order to the customer and, when it needs review,
// alerts the shop. Both are attempted; failures are joined.
func (s *Service) OrderPlaced(ctx context.Context, o *domain.Order) error {
	var errs []error
	if o.CustomerEmail != "" {
		errs = append(errs, s.SendOrderConfirmation(ctx, o.CustomerEmail, confirmationFor(o)))
	}
	if o.NeedsReview && s.config.OpsAddress != "" {
		errs = append(errs, s.SendReviewAlert(ctx, reviewAlertFor(o, s.config.BaseURL)))
	}
	return errors.Join(errs...)
}

// SendOrderConfirmation sends an order confirmation email
func (s *Service) SendOrderConfirmation(ctx context.Context, to string, data OrderConfirmationEmail) error {
	if err := s.send(ctx, []string{to}, data); err != nil {
		return fmt.Errorf("failed to send order confirmation email: %w", err)
	}
	return nil
}

// SendReviewAlert sends a review alert to the operations address.
func (s *Service) SendReviewAlert(ctx context.Context, data ReviewAlertEmail) error {
	if err := s.send(ctx, []string{s.config.OpsAddress}, data); err != nil {
		return fmt.Errorf("failed to send review alert email: %w", err)
	}
	return nil
}

func (s *Service) send(ctx context.Context, to []string, data EmailTemplate) error {
	htmlBody, textBody, err := s.renderTemplate(data.TemplateName(), data)
	if err != nil {
		return err
	}

	from := s.config.FromAddress
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.FromAddress)
	}

	id, err := s.sender.Send(ctx, &Email{
		To:       to,
		From:     from,
		Subject:  data.Subject(),
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return err
	}
	s.logger.DebugContext(ctx, "email sent", "template", data.TemplateName(), "message_id", id)
	return nil
}

func (s *Service) renderTemplate(templateName string, data any) (string, string, error) {
	var htmlBuf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&htmlBuf, templateName, data); err != nil {
		return "", "", fmt.Errorf("failed to execute template %s: %w", templateName, err)
	}
	htmlBody := htmlBuf.String()
	return htmlBody, generatePlainText(htmlBody), nil
}

var plainTextBreaks = strings.NewReplacer(
	"<br>", "\n", "<br/>", "\n", "<br />", "\n",
	"</p>", "\n\n", "</div>", "\n", "</tr>", "\n", "</li>", "\n",
	"</h1>", "\n\n", "</h2>", "\n\n", "</h3>", "\n\n",
	"</td><td>", "  ",
)

var plainTextEntities = strings.NewReplacer(
	"&nbsp;", " ", "&amp;", "&", "&lt;", "<", "&gt;", ">", "&quot;", "\"", "&#34;", "\"", "&#39;", "'", "&#43;", "+",
)

// generatePlainText creates a simple plain text version from HTML
func generatePlainText(html string) string {
	text := plainTextBreaks.Replace(html)

	var b strings.Builder
	inTag := false
	for _, r := range text {
		switch {
		case r == '<':
			inTag = true
		case r == '>' && inTag:
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	text = plainTextEntities.Replace(b.String())

	var cleaned []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
