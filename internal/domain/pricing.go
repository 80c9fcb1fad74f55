package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// UnitPrice returns what one unit of the combination key costs. A ledger
// entry's absolute price wins over the base price; otherwise the entry's
// delta is added to the base price. The product's offer percentage is then
// taken off and the result rounded to cents. Negative results clamp to zero.
func UnitPrice(p *Product, key string) decimal.Decimal {
	price := p.BasePrice
	if entry, ok := p.StockEntry(key); ok {
		switch {
		case entry.Price.Valid:
			price = entry.Price.Decimal
		case entry.PriceDelta.Valid:
			price = price.Add(entry.PriceDelta.Decimal)
		}
	}

	if p.OfferPercentage.Valid && p.OfferPercentage.Decimal.IsPositive() {
		discount := price.Mul(p.OfferPercentage.Decimal).Div(hundred)
		price = price.Sub(discount)
	}

	if price.IsNegative() {
		return decimal.Zero
	}
	return price.Round(2)
}

// InstallationPrice returns the add-on price, or zero when the product does
// not offer installation.
func InstallationPrice(p *Product) decimal.Decimal {
	if p.InstallationService == nil || !p.InstallationService.Available {
		return decimal.Zero
	}
	return p.InstallationService.Price.Round(2)
}

// ToCents converts a currency amount to minor units.
func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

// FromCents converts minor units back to a currency amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
