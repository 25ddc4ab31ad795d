package dunning

import (
	"html"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const germanDateLayout = "02.01.2006"

var currencySymbols = map[string]string{
	"EUR": "€",
	"USD": "$",
	"GBP": "£",
}

// FormatMoney renders an amount the way German invoices print it, e.g. "1.190,00 €".
func FormatMoney(amount decimal.Decimal, currency string) string {
	rounded := amount.Round(2)
	intPart, frac, _ := strings.Cut(rounded.Abs().StringFixed(2), ".")

	// message.Printer is not safe for concurrent use.
	p := message.NewPrinter(language.German)
	if whole := rounded.Abs().Truncate(0).BigInt(); whole.IsInt64() {
		intPart = p.Sprintf("%v", number.Decimal(whole.Int64()))
	}
	formatted := intPart + "," + frac
	if rounded.IsNegative() {
		formatted = "-" + formatted
	}

	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "EUR"
	}
	symbol, ok := currencySymbols[currency]
	if !ok {
		symbol = currency
	}
	return formatted + " " + symbol
}

func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(germanDateLayout)
}

// ToHTML turns a rendered plain-text body into minimal HTML for the mail transport.
func ToHTML(body string) string {
	escaped := html.EscapeString(body)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	return strings.ReplaceAll(escaped, "\n", "<br/>")
}
