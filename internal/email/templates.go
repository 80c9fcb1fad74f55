package email

import (
	"html/template"
	"strings"
	"time"

	"github.com/dukerupert/brokkr/internal/domain"
)

// EmailTemplate is the data for one kind of message.
type EmailTemplate interface {
	Subject() string
	TemplateName() string
}

// OrderConfirmationEmail is sent to the customer once an order exists.
type OrderConfirmationEmail struct {
	OrderNumber string
	OrderDate   time.Time
	Currency    string
	TotalCents  int64
	Items       []OrderLine

	// Delayed is set when some units could not be reserved and the shop
	// will follow up by hand.
	Delayed bool
}

// OrderLine is one purchased combination.
type OrderLine struct {
	Name         string
	VariantKey   string
	Quantity     int
	Installation bool
	LineCents    int64
}

func (e OrderConfirmationEmail) Subject() string {
	return "Order Confirmation - " + e.OrderNumber
}

func (e OrderConfirmationEmail) TemplateName() string {
	return "order_confirmation.html"
}

// ReviewAlertEmail tells the shop that a paid order is short of stock.
type ReviewAlertEmail struct {
	OrderID     string
	OrderNumber string
	OrderURL    string
	Shortfalls  []Shortfall
}

// Shortfall is an order line whose reservation failed.
type Shortfall struct {
	ProductName string
	VariantKey  string
	Quantity    int
	Reason      string
}

func (e ReviewAlertEmail) Subject() string {
	return "Order needs review - " + e.OrderNumber
}

func (e ReviewAlertEmail) TemplateName() string {
	return "review_alert.html"
}

var templateFuncs = template.FuncMap{
	"money": func(cents int64, currency string) string {
		return domain.FromCents(cents).StringFixed(2) + " " + strings.ToUpper(currency)
	},
	"date": func(t time.Time) string { return t.Format("January 2, 2006") },
}

const layoutTemplates = `
{{define "header"}}<!DOCTYPE html>
<html><body style="font-family:sans-serif;color:#222">
<div class="email-content">{{end}}

{{define "footer"}}</div>
<p style="color:#888;font-size:12px">This message was sent automatically.</p>
</body></html>{{end}}

{{define "order_confirmation.html"}}{{template "header" .}}
<h2>Thank you for your order</h2>
<p>Order <strong>{{.OrderNumber}}</strong> placed on {{date .OrderDate}}.</p>
<table>
{{range .Items}}<tr><td>{{.Quantity}} x {{.Name}} ({{.VariantKey}}){{if .Installation}} with installation{{end}}</td><td>{{money .LineCents $.Currency}}</td></tr>
{{end}}</table>
<p>Total: <strong>{{money .TotalCents .Currency}}</strong></p>
{{if .Delayed}}<p>Part of your order is waiting on stock. We will contact you about delivery.</p>{{end}}
{{template "footer"}}{{end}}

{{define "review_alert.html"}}{{template "header" .}}
<h2>Order {{.OrderNumber}} needs review</h2>
<p>Payment succeeded but stock could not be reserved for these lines:</p>
<ul>
{{range .Shortfalls}}<li>{{.Quantity}} x {{.ProductName}} ({{.VariantKey}}): {{.Reason}}</li>
{{end}}</ul>
<p>Order: {{.OrderURL}}</p>
{{template "footer"}}{{end}}
`

func parseTemplates() *template.Template {
	return template.Must(template.New("email").Funcs(templateFuncs).Parse(layoutTemplates))
}

// confirmationFor builds the customer message for o.
func confirmationFor(o *domain.Order) OrderConfirmationEmail {
	data := OrderConfirmationEmail{
		OrderNumber: o.OrderNumber,
		OrderDate:   o.CreatedAt,
		Currency:    o.Currency,
		TotalCents:  o.TotalCents,
		Delayed:     o.NeedsReview,
	}
	for _, item := range o.Items {
		unit := item.UnitPrice
		if item.InstallationOption {
			unit = unit.Add(item.InstallationPrice)
		}
		data.Items = append(data.Items, OrderLine{
			Name:         item.ProductName,
			VariantKey:   item.VariantKey,
			Quantity:     item.Quantity,
			Installation: item.InstallationOption,
			LineCents:    domain.ToCents(unit) * int64(item.Quantity),
		})
	}
	return data
}

// reviewAlertFor lists the unreserved lines of o.
func reviewAlertFor(o *domain.Order, baseURL string) ReviewAlertEmail {
	data := ReviewAlertEmail{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		OrderURL:    baseURL + "/orders/" + o.ID,
	}
	for _, item := range o.Items {
		if item.StockReserved {
			continue
		}
		data.Shortfalls = append(data.Shortfalls, Shortfall{
			ProductName: item.ProductName,
			VariantKey:  item.VariantKey,
			Quantity:    item.Quantity,
			Reason:      item.StockError,
		})
	}
	return data
}
