package email

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/dukerupert/brokkr/internal/domain"
)

type recordingSender struct {
	sent []*Email
	err  error
}

func (r *recordingSender) Send(ctx context.Context, email *Email) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, email)
	return "msg-1", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleOrder(needsReview bool) *domain.Order {
	o := &domain.Order{
		ID:            "ord-1",
		OrderNumber:   "ORD-20260119-7KQ2MX",
		CustomerEmail: "buyer@example.com",
		Currency:      "usd",
		TotalCents:    27000,
		NeedsReview:   needsReview,
		CreatedAt:     time.Date(2026, 1, 19, 10, 0, 0, 0, time.UTC),
		Items: []domain.OrderItem{
			{
				ProductName: "Oak Door", VariantKey: "l+red", Quantity: 2,
				UnitPrice: decimal.NewFromInt(100), InstallationOption: true, InstallationPrice: decimal.NewFromInt(25),
				StockReserved: true,
			},
			{
				ProductName: "Oak Door", VariantKey: "blue+s", Quantity: 1,
				UnitPrice: decimal.NewFromInt(20), InstallationPrice: decimal.Zero,
				StockReserved: !needsReview,
			},
		},
	}
	if needsReview {
		o.Items[1].StockError = "Insufficient stock"
	}
	return o
}

func TestService_OrderPlaced(t *testing.T) {
	t.Run("confirmation only", func(t *testing.T) {
		sender := &recordingSender{}
		svc := NewService(sender, Config{FromAddress: "shop@example.com", FromName: "Brokkr", OpsAddress: "ops@example.com"}, testLogger())

		require.NoError(t, svc.OrderPlaced(context.Background(), sampleOrder(false)))
		require.Len(t, sender.sent, 1)

		msg := sender.sent[0]
		assert.Equal(t, []string{"buyer@example.com"}, msg.To)
		assert.Equal(t, "Brokkr <shop@example.com>", msg.From)
		assert.Equal(t, "Order Confirmation - ORD-20260119-7KQ2MX", msg.Subject)
		assert.Contains(t, msg.TextBody, "2 x Oak Door (l+red) with installation")
		assert.Contains(t, msg.TextBody, "250.00 USD")
		assert.Contains(t, msg.TextBody, "Total: 270.00 USD")
		assert.NotContains(t, msg.TextBody, "waiting on stock")
		assert.Contains(t, msg.HTMLBody, "<strong>ORD-20260119-7KQ2MX</strong>")
	})

	t.Run("flagged order alerts ops", func(t *testing.T) {
		sender := &recordingSender{}
		svc := NewService(sender, Config{FromAddress: "shop@example.com", OpsAddress: "ops@example.com", BaseURL: "https://shop.example.com"}, testLogger())

		require.NoError(t, svc.OrderPlaced(context.Background(), sampleOrder(true)))
		require.Len(t, sender.sent, 2)

		assert.Contains(t, sender.sent[0].TextBody, "waiting on stock")

		alert := sender.sent[1]
		assert.Equal(t, []string{"ops@example.com"}, alert.To)
		assert.Equal(t, "shop@example.com", alert.From)
		assert.Equal(t, "Order needs review - ORD-20260119-7KQ2MX", alert.Subject)
		assert.Contains(t, alert.TextBody, "1 x Oak Door (blue+s): Insufficient stock")
		assert.NotContains(t, alert.TextBody, "l+red")
		assert.Contains(t, alert.TextBody, "https://shop.example.com/orders/ord-1")
	})

	t.Run("no customer email and no ops address", func(t *testing.T) {
		sender := &recordingSender{}
		svc := NewService(sender, Config{FromAddress: "shop@example.com"}, testLogger())

		o := sampleOrder(true)
		o.CustomerEmail = ""
		require.NoError(t, svc.OrderPlaced(context.Background(), o))
		assert.Empty(t, sender.sent)
	})

	t.Run("sender failure is returned", func(t *testing.T) {
		sender := &recordingSender{err: errors.New("smtp: 421 try later")}
		svc := NewService(sender, Config{FromAddress: "shop@example.com"}, testLogger())

		err := svc.OrderPlaced(context.Background(), sampleOrder(false))
		assert.ErrorContains(t, err, "421 try later")
	})
}

func TestPostmarkSender_Send(t *testing.T) {
	var got postmarkEmail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "token-1", r.Header.Get("X-Postmark-Server-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"MessageID":"pm-42","ErrorCode":0}`))
	}))
	defer srv.Close()

	p := NewPostmarkSender("token-1", time.Second)
	p.endpoint = srv.URL

	id, err := p.Send(context.Background(), &Email{
		To:       []string{"a@example.com", "b@example.com"},
		From:     "shop@example.com",
		Subject:  "Hi",
		TextBody: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "pm-42", id)
	assert.Equal(t, "a@example.com,b@example.com", got.To)
	assert.Equal(t, "hello", got.TextBody)
}

func TestPostmarkSender_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer srv.Close()

	p := NewPostmarkSender("token-1", time.Second)
	p.endpoint = srv.URL

	_, err := p.Send(context.Background(), &Email{To: []string{"a@example.com"}, From: "shop@example.com"})
	assert.ErrorContains(t, err, "postmark error 300")

	_, err = p.Send(context.Background(), &Email{From: "shop@example.com"})
	assert.ErrorIs(t, err, ErrNoRecipients)
}

func TestBuildMessage(t *testing.T) {
	msg, err := buildMessage(&Email{
		To:       []string{"buyer@example.com"},
		From:     "Brokkr <shop@example.com>",
		Subject:  "Order Confirmation",
		TextBody: "plain",
		HTMLBody: "<p>html</p>",
		Headers:  map[string]string{"X-Order-Number": "ORD-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Order Confirmation"}, msg.GetGenHeader(mail.HeaderSubject))
	assert.Equal(t, []string{"ORD-1"}, msg.GetGenHeader(mail.Header("X-Order-Number")))
	assert.NotEmpty(t, msg.GetGenHeader(mail.HeaderMessageID))

	_, err = buildMessage(&Email{From: "shop@example.com"})
	assert.ErrorIs(t, err, ErrNoRecipients)

	_, err = buildMessage(&Email{To: []string{"not an address"}, From: "shop@example.com"})
	assert.ErrorContains(t, err, "invalid to address")
}

func TestClientOptions(t *testing.T) {
	assert.Len(t, clientOptions(SMTPConfig{Host: "localhost", Port: 1025}), 3)
	assert.Len(t, clientOptions(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "u", Password: "p"}), 6)
}

func TestGeneratePlainText(t *testing.T) {
	tests := []struct {
		name     string
		html     string
		contains []string
		excludes []string
	}{
		{
			name:     "simple paragraph",
			html:     "<p>Hello, World!</p>",
			contains: []string{"Hello, World!"},
			excludes: []string{"<p>", "</p>"},
		},
		{
			name:     "line breaks",
			html:     "Line 1<br>Line 2<br/>Line 3<br />Line 4",
			contains: []string{"Line 1", "Line 2", "Line 3", "Line 4"},
			excludes: []string{"<br>", "<br/>", "<br />"},
		},
		{
			name:     "headings",
			html:     "<h1>Title</h1><h2>Subtitle</h2><h3>Section</h3>",
			contains: []string{"Title", "Subtitle", "Section"},
			excludes: []string{"<h1>", "</h1>", "<h2>", "</h2>", "<h3>", "</h3>"},
		},
		{
			name:     "nested tags",
			html:     "<div><p><strong>Bold text</strong> and <em>italic</em></p></div>",
			contains: []string{"Bold text", "and", "italic"},
			excludes: []string{"<div>", "<p>", "<strong>", "<em>"},
		},
		{
			name:     "HTML entities",
			html:     "Price: $10 &amp; shipping &nbsp; included &lt;$5&gt; &quot;free&quot;",
			contains: []string{"Price: $10 & shipping", "included <$5>", "\"free\""},
			excludes: []string{"&amp;", "&nbsp;", "&lt;", "&gt;", "&quot;"},
		},
		{
			name:     "links stripped",
			html:     `<a href="https://example.com">Click here</a>`,
			contains: []string{"Click here"},
			excludes: []string{"<a", "href", "</a>"},
		},
		{
			name:     "empty content",
			html:     "",
			contains: []string{},
			excludes: []string{},
		},
		{
			name: "email template structure",
			html: `
				<div class="email-content">
					<h2>Welcome!</h2>
					<p>Thank you for signing up.</p>
					<p>Click <a href="https://example.com/verify">here</a> to verify.</p>
				</div>
			`,
			contains: []string{"Welcome!", "Thank you for signing up", "here", "to verify"},
			excludes: []string{"<div", "<h2>", "<p>", "<a href"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := generatePlainText(tt.html)

			for _, want := range tt.contains {
				if !strings.Contains(result, want) {
					t.Errorf("generatePlainText() result should contain %q, got: %q", want, result)
				}
			}

			for _, exclude := range tt.excludes {
				if strings.Contains(result, exclude) {
					t.Errorf("generatePlainText() result should not contain %q, got: %q", exclude, result)
				}
			}
		})
	}
}

func TestGeneratePlainText_WhitespaceHandling(t *testing.T) {
	html := `
		<p>   Line with spaces   </p>
		<p></p>
		<p>Another line</p>
	`

	result := generatePlainText(html)

	// Should not have empty lines (they get filtered)
	lines := strings.Split(result, "\n")
	for _, line := range lines {
		if strings.TrimSpace(line) == "" && line != "" {
			t.Error("generatePlainText() should not have blank lines with only whitespace")
		}
	}

	// Should contain the actual content
	if !strings.Contains(result, "Line with spaces") {
		t.Error("generatePlainText() should contain trimmed content")
	}
	if !strings.Contains(result, "Another line") {
		t.Error("generatePlainText() should contain 'Another line'")
	}
}
