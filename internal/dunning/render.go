package dunning

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"dunning-service/internal/domain"

	"github.com/shopspring/decimal"
)

// Matches {{ snake_case }}, {{snake_case}} and {camelCase}. Double braces go first so
// the inner single-brace form does not swallow them.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_]+)\s*\}\}|\{([A-Za-z]+)\}`)

// Aliases for placeholder names used by older templates.
var legacyPlaceholders = map[string]string{
	"original_amount":   "totalAmount",
	"surcharge_amount":  "totalFees",
	"total_open_amount": "totalDue",
}

type Message struct {
	Subject string
	Body    string

	DaysOverdue    int
	FeeAmount      decimal.Decimal
	TotalFees      decimal.Decimal
	InterestAmount decimal.Decimal
	TotalDue       decimal.Decimal
}

// Renderer fills level templates. It needs the whole policy to accumulate fees across levels.
type Renderer struct {
	settings domain.ReminderSettings
}

func NewRenderer(settings domain.ReminderSettings) *Renderer {
	return &Renderer{settings: settings}
}

// InterestAmount is simple daily interest: gross × rate/100 × days/365, rounded to cents.
func InterestAmount(gross, ratePercent decimal.Decimal, daysOverdue int) decimal.Decimal {
	if daysOverdue <= 0 || ratePercent.IsZero() {
		return decimal.Zero
	}
	return gross.
		Mul(ratePercent).
		Mul(decimal.NewFromInt(int64(daysOverdue))).
		Div(decimal.NewFromInt(36500)).
		Round(2)
}

// PaymentLink points at the external payment page for an invoice.
func PaymentLink(baseURL, invoiceID string) string {
	if baseURL == "" || invoiceID == "" {
		return ""
	}
	return strings.TrimRight(baseURL, "/") + "/pay/" + invoiceID
}

// Render substitutes every placeholder in the level templates. Inputs are not modified.
func (r *Renderer) Render(
	level domain.ReminderLevel,
	inv domain.Invoice,
	cust domain.Customer,
	company domain.CompanySettings,
	today time.Time,
) (Message, error) {
	daysOverdue := DaysOverdue(inv.DueDate, today)

	fee := level.FeeAmount.Round(2)
	totalFees := r.settings.CumulativeFees(level.Level).Round(2)
	if _, configured := r.settings.Level(level.Level); !configured {
		totalFees = fee
	}
	interest := InterestAmount(inv.TotalGross, level.InterestRatePercent, daysOverdue)
	open := inv.OpenAmount().Round(2)
	totalDue := open.Add(totalFees).Add(interest)

	values := map[string]string{
		"customerName":    cust.Name,
		"customerCompany": cust.DisplayCompany(),
		"invoiceNumber":   inv.InvoiceNumber,
		"invoiceDate":     FormatDate(inv.IssueDate),
		"dueDate":         FormatDate(inv.DueDate),
		"totalAmount":     FormatMoney(inv.TotalGross, inv.Currency),
		"openAmount":      FormatMoney(open, inv.Currency),
		"feeAmount":       FormatMoney(fee, inv.Currency),
		"totalFees":       FormatMoney(totalFees, inv.Currency),
		"interestAmount":  FormatMoney(interest, inv.Currency),
		"totalDue":        FormatMoney(totalDue, inv.Currency),
		"daysOverdue":     strconv.Itoa(daysOverdue),
		"iban":            company.IBAN,
		"paymentLink":     PaymentLink(company.PaymentBaseURL, inv.ID),
		"companyName":     company.Name,
	}

	subject, err := substitute(level.SubjectTemplate, values)
	if err != nil {
		return Message{}, err
	}
	body, err := substitute(level.BodyTemplate, values)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Subject:        subject,
		Body:           body,
		DaysOverdue:    daysOverdue,
		FeeAmount:      fee,
		TotalFees:      totalFees,
		InterestAmount: interest,
		TotalDue:       totalDue,
	}, nil
}

func substitute(tpl string, values map[string]string) (string, error) {
	matches := placeholderRe.FindAllStringSubmatchIndex(tpl, -1)
	if len(matches) == 0 {
		return tpl, nil
	}

	var b strings.Builder
	b.Grow(len(tpl))
	last := 0
	for _, m := range matches {
		name := placeholderName(tpl, m)
		value, ok := values[name]
		if !ok {
			return "", &domain.TemplateError{Placeholder: name, Reason: "unknown placeholder"}
		}
		if value == "" {
			return "", &domain.TemplateError{Placeholder: name, Reason: "no value available"}
		}

		b.WriteString(tpl[last:m[0]])
		b.WriteString(value)
		last = m[1]
	}
	b.WriteString(tpl[last:])
	return b.String(), nil
}

func placeholderName(tpl string, m []int) string {
	if m[2] >= 0 {
		return snakeToCamel(tpl[m[2]:m[3]])
	}
	return tpl[m[4]:m[5]]
}

var companyValues = map[string]func(domain.CompanySettings) string{
	"companyName": func(c domain.CompanySettings) string { return c.Name },
	"iban":        func(c domain.CompanySettings) string { return c.IBAN },
	"paymentLink": func(c domain.CompanySettings) string { return c.PaymentBaseURL },
}

// MissingCompanyValues names the company placeholders used by any level template
// that company leaves empty. Rendering with such a company always fails.
func (r *Renderer) MissingCompanyValues(company domain.CompanySettings) []string {
	seen := make(map[string]bool)
	var missing []string
	for _, lvl := range r.settings.Levels {
		for _, tpl := range []string{lvl.SubjectTemplate, lvl.BodyTemplate} {
			for _, m := range placeholderRe.FindAllStringSubmatchIndex(tpl, -1) {
				name := placeholderName(tpl, m)
				value, ok := companyValues[name]
				if !ok || seen[name] {
					continue
				}
				seen[name] = true
				if value(company) == "" {
					missing = append(missing, name)
				}
			}
		}
	}
	sort.Strings(missing)
	return missing
}

func snakeToCamel(s string) string {
	if alias, ok := legacyPlaceholders[s]; ok {
		return alias
	}
	parts := strings.Split(s, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "" {
			continue
		}
		parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
	}
	return strings.Join(parts, "")
}
