// Package textfmt renders amounts for chat replies.
package textfmt

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Money renders a cash amount as "$1,234.56". Negative amounts render as
// "-$1,234.56".
func Money(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + Money(d.Neg())
	}
	return printer.Sprintf("$%.2f", d.Round(2).InexactFloat64())
}

// SignedMoney is Money with an explicit sign, e.g. "+$12.00".
func SignedMoney(d decimal.Decimal) string {
	if d.IsNegative() {
		return Money(d)
	}
	return "+" + Money(d)
}

// Price renders a provider spot price as money.
func Price(p float64) string {
	return Money(decimal.NewFromFloat(p))
}

// Quantity renders a holding with a fixed number of decimals.
func Quantity(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

// Percent renders a ratio already scaled to percent, with a sign and one
// decimal, e.g. "+12.5%".
func Percent(d decimal.Decimal) string {
	s := d.StringFixed(1) + "%"
	if !d.IsNegative() {
		s = "+" + s
	}
	return s
}

// Int renders a count with thousands separators.
func Int(n int64) string {
	return printer.Sprintf("%d", n)
}
