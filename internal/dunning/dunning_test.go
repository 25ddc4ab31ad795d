package dunning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"dunning-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func threeLevelSettings(t *testing.T) domain.ReminderSettings {
	t.Helper()
	s, err := domain.NewReminderSettings([]domain.ReminderLevel{
		{Level: domain.LevelDunning2, DaysAfterDue: 30, FeeAmount: decimal.NewFromInt(10), InterestRatePercent: decimal.NewFromInt(5), SubjectTemplate: "2. Mahnung {invoiceNumber}", BodyTemplate: "{customerName}"},
		{Level: domain.LevelReminder, DaysAfterDue: 0, SubjectTemplate: "Erinnerung {invoiceNumber}", BodyTemplate: "{customerName}"},
		{Level: domain.LevelDunning1, DaysAfterDue: 14, FeeAmount: decimal.NewFromInt(5), InterestRatePercent: decimal.NewFromInt(5), SubjectTemplate: "1. Mahnung {invoiceNumber}", BodyTemplate: "{customerName}"},
	}, 24, true, false)
	require.NoError(t, err)
	return s
}

func openInvoice() domain.Invoice {
	return domain.Invoice{
		ID:            "inv_001",
		InvoiceNumber: "RE-2024-001",
		IssueDate:     date(2023, time.December, 18),
		DueDate:       date(2024, time.January, 1),
		TotalGross:    decimal.RequireFromString("1190.00"),
		PaidAmount:    decimal.Zero,
		Currency:      "EUR",
		Status:        domain.InvoiceStatusSent,
		CustomerID:    "cust_001",
	}
}

func TestSelectLevel_PicksMostEscalatedApplicableLevel(t *testing.T) {
	settings := threeLevelSettings(t)
	inv := openInvoice()

	lvl, ok := SelectLevel(inv, settings, date(2024, time.January, 20))
	require.True(t, ok)
	require.Equal(t, domain.LevelDunning1, lvl.Level)

	lvl, ok = SelectLevel(inv, settings, date(2024, time.March, 1))
	require.True(t, ok)
	require.Equal(t, domain.LevelDunning2, lvl.Level)

	lvl, ok = SelectLevel(inv, settings, date(2024, time.January, 1))
	require.True(t, ok)
	require.Equal(t, domain.LevelReminder, lvl.Level)
}

func TestSelectLevel_NotYetDue(t *testing.T) {
	_, ok := SelectLevel(openInvoice(), threeLevelSettings(t), date(2023, time.December, 31))
	require.False(t, ok)
}

func TestSelectLevel_TerminalStatuses(t *testing.T) {
	settings := threeLevelSettings(t)
	for _, status := range []domain.InvoiceStatus{domain.InvoiceStatusPaid, domain.InvoiceStatusCancelled} {
		inv := openInvoice()
		inv.Status = status
		for _, today := range []time.Time{date(2024, time.January, 1), date(2024, time.January, 20), date(2025, time.January, 1)} {
			_, ok := SelectLevel(inv, settings, today)
			require.False(t, ok, "status %s on %s", status, today)
		}
	}
}

func TestSelectLevel_Monotonic(t *testing.T) {
	settings := threeLevelSettings(t)
	inv := openInvoice()

	prev := -1
	for offset := -10; offset <= 60; offset++ {
		today := inv.DueDate.AddDate(0, 0, offset)
		lvl, ok := SelectLevel(inv, settings, today)
		if offset < 0 {
			require.False(t, ok, "offset %d", offset)
			continue
		}
		require.True(t, ok, "offset %d", offset)
		require.GreaterOrEqual(t, lvl.Level.Rank(), prev, "offset %d", offset)
		prev = lvl.Level.Rank()
	}
}

func TestDaysBetween_IgnoresClockTime(t *testing.T) {
	due := time.Date(2024, time.January, 1, 23, 59, 0, 0, time.UTC)
	today := time.Date(2024, time.January, 20, 0, 1, 0, 0, time.UTC)
	require.Equal(t, 19, DaysBetween(due, today))
	require.Equal(t, 0, DaysOverdue(today, due))
}

func TestNextLevel(t *testing.T) {
	settings := threeLevelSettings(t)
	inv := openInvoice()

	lvl, at, ok := NextLevel(inv, settings, "")
	require.True(t, ok)
	require.Equal(t, domain.LevelReminder, lvl.Level)
	require.Equal(t, date(2024, time.January, 1), at)

	lvl, at, ok = NextLevel(inv, settings, domain.LevelDunning1)
	require.True(t, ok)
	require.Equal(t, domain.LevelDunning2, lvl.Level)
	require.Equal(t, date(2024, time.January, 31), at)

	_, _, ok = NextLevel(inv, settings, domain.LevelDunning2)
	require.False(t, ok)
}

func TestUpcoming_PrefersApplicableLevel(t *testing.T) {
	settings := threeLevelSettings(t)
	inv := openInvoice()

	// 19 days overdue, nothing sent yet: dunning1 is what fires
	lvl, at, ok := Upcoming(inv, settings, "", date(2024, time.January, 20))
	require.True(t, ok)
	require.Equal(t, domain.LevelDunning1, lvl.Level)
	require.Equal(t, date(2024, time.January, 15), at)

	// dunning1 already sent: the next rung, still in the future
	lvl, at, ok = Upcoming(inv, settings, domain.LevelDunning1, date(2024, time.January, 20))
	require.True(t, ok)
	require.Equal(t, domain.LevelDunning2, lvl.Level)
	require.Equal(t, date(2024, time.January, 31), at)

	// not yet due
	lvl, _, ok = Upcoming(inv, settings, "", date(2023, time.December, 20))
	require.True(t, ok)
	require.Equal(t, domain.LevelReminder, lvl.Level)
}

type lastSentStub struct {
	last *domain.ReminderLog
	err  error
}

func (s lastSentStub) LastSent(ctx context.Context, invoiceID string) (*domain.ReminderLog, error) {
	return s.last, s.err
}

func TestCanSend_Window(t *testing.T) {
	ctx := context.Background()
	sentAt := time.Date(2024, time.January, 20, 9, 0, 0, 0, time.UTC)
	logs := lastSentStub{last: &domain.ReminderLog{InvoiceID: "inv_001", SentDate: sentAt, Status: domain.ReminderStatusSent}}
	interval := 24 * time.Hour

	for _, at := range []time.Time{sentAt, sentAt.Add(time.Hour), sentAt.Add(interval - time.Nanosecond)} {
		ok, _, err := CanSend(ctx, logs, "inv_001", interval, at)
		require.NoError(t, err)
		require.False(t, ok, "at %s", at)
	}
	for _, at := range []time.Time{sentAt.Add(interval), sentAt.Add(72 * time.Hour)} {
		ok, _, err := CanSend(ctx, logs, "inv_001", interval, at)
		require.NoError(t, err)
		require.True(t, ok, "at %s", at)
	}
}

func TestCanSend_NoHistory(t *testing.T) {
	ok, last, err := CanSend(context.Background(), lastSentStub{}, "inv_001", 24*time.Hour, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, last)
}

func TestCheckResend_ReportsRemaining(t *testing.T) {
	sentAt := time.Date(2024, time.January, 20, 9, 0, 0, 0, time.UTC)
	logs := lastSentStub{last: &domain.ReminderLog{SentDate: sentAt}}

	err := CheckResend(context.Background(), logs, "inv_001", 24*time.Hour, sentAt.Add(20*time.Hour))
	require.ErrorIs(t, err, domain.ErrResendTooSoon)

	var tooSoon *domain.ResendTooSoonError
	require.True(t, errors.As(err, &tooSoon))
	require.Equal(t, 4*time.Hour, tooSoon.Remaining)
}

func TestCheckResend_StoreError(t *testing.T) {
	boom := errors.New("db down")
	err := CheckResend(context.Background(), lastSentStub{err: boom}, "inv_001", time.Hour, time.Now())
	require.ErrorIs(t, err, boom)
}

func TestInterestAmount(t *testing.T) {
	got := InterestAmount(decimal.RequireFromString("1000.00"), decimal.NewFromInt(5), 365)
	require.Equal(t, "50.00", got.StringFixed(2))

	got = InterestAmount(decimal.RequireFromString("1190.00"), decimal.NewFromInt(5), 19)
	require.Equal(t, "3.10", got.StringFixed(2))

	require.True(t, InterestAmount(decimal.NewFromInt(100), decimal.NewFromInt(5), 0).IsZero())
}

func germanSettings(t *testing.T) domain.ReminderSettings {
	t.Helper()
	s := DefaultReminderSettings()
	require.NoError(t, s.Validate())
	return s
}

func company() domain.CompanySettings {
	return domain.CompanySettings{
		Name:           "Ihre Firma GmbH",
		IBAN:           "DE89 3704 0044 0532 0130 00",
		PaymentBaseURL: "https://pay.example.com/",
	}
}

func customer() domain.Customer {
	return domain.Customer{ID: "cust_001", Name: "Max Mustermann", Email: "max@mustermann.de", Language: "de"}
}

func TestRender_SubstitutesPlaceholders(t *testing.T) {
	settings := germanSettings(t)
	lvl, ok := settings.Level(domain.LevelDunning2)
	require.True(t, ok)

	inv := openInvoice()
	msg, err := NewRenderer(settings).Render(lvl, inv, customer(), company(), date(2024, time.January, 20))
	require.NoError(t, err)

	require.Equal(t, "2. Mahnung - Rechnung RE-2024-001 - Sofortige Zahlung erforderlich", msg.Subject)
	require.Contains(t, msg.Body, "Sehr geehrte/r Max Mustermann")
	require.Contains(t, msg.Body, "seit 19 Tagen")
	require.Contains(t, msg.Body, "https://pay.example.com/pay/inv_001")
	require.Contains(t, msg.Body, "DE89 3704 0044 0532 0130 00")
	require.NotContains(t, msg.Body, "{")

	require.Equal(t, 19, msg.DaysOverdue)
	require.Equal(t, "10.00", msg.FeeAmount.StringFixed(2))
	require.Equal(t, "15.00", msg.TotalFees.StringFixed(2))
	require.Equal(t, "3.10", msg.InterestAmount.StringFixed(2))
	require.Equal(t, "1208.10", msg.TotalDue.StringFixed(2))

	require.Equal(t, "RE-2024-001", inv.InvoiceNumber)
	require.Equal(t, domain.InvoiceStatusSent, inv.Status)
}

func TestRender_Deterministic(t *testing.T) {
	settings := germanSettings(t)
	lvl, _ := settings.Level(domain.LevelFinal)
	r := NewRenderer(settings)
	today := date(2024, time.March, 1)

	a, err := r.Render(lvl, openInvoice(), customer(), company(), today)
	require.NoError(t, err)
	b, err := r.Render(lvl, openInvoice(), customer(), company(), today)
	require.NoError(t, err)

	require.Equal(t, a.Subject, b.Subject)
	require.Equal(t, a.Body, b.Body)
}

func TestRender_LegacyPlaceholders(t *testing.T) {
	lvl := domain.ReminderLevel{
		Level:           domain.LevelReminder,
		SubjectTemplate: "Rechnung {{ invoice_number }}",
		BodyTemplate:    "Hallo {{customer_name}}, offen: {{open_amount}}",
	}
	msg, err := NewRenderer(germanSettings(t)).Render(lvl, openInvoice(), customer(), company(), date(2024, time.January, 2))
	require.NoError(t, err)
	require.Equal(t, "Rechnung RE-2024-001", msg.Subject)
	require.True(t, strings.HasPrefix(msg.Body, "Hallo Max Mustermann, offen: "))
}

func TestRender_TemplateErrors(t *testing.T) {
	settings := germanSettings(t)
	r := NewRenderer(settings)
	today := date(2024, time.January, 20)

	unknown := domain.ReminderLevel{Level: domain.LevelReminder, SubjectTemplate: "{voucherCode}", BodyTemplate: "x"}
	_, err := r.Render(unknown, openInvoice(), customer(), company(), today)
	var tplErr *domain.TemplateError
	require.True(t, errors.As(err, &tplErr))
	require.Equal(t, "voucherCode", tplErr.Placeholder)

	missingIBAN := company()
	missingIBAN.IBAN = ""
	lvl, _ := settings.Level(domain.LevelReminder)
	_, err = r.Render(lvl, openInvoice(), customer(), missingIBAN, today)
	require.True(t, errors.As(err, &tplErr))
	require.Equal(t, "iban", tplErr.Placeholder)
}

func TestMissingCompanyValues(t *testing.T) {
	r := NewRenderer(germanSettings(t))
	require.Empty(t, r.MissingCompanyValues(company()))
	require.Equal(t, []string{"companyName", "iban", "paymentLink"}, r.MissingCompanyValues(domain.CompanySettings{}))

	noIBAN := company()
	noIBAN.IBAN = ""
	require.Equal(t, []string{"iban"}, r.MissingCompanyValues(noIBAN))

	// templates that never reference company data need none
	require.Empty(t, NewRenderer(threeLevelSettings(t)).MissingCompanyValues(domain.CompanySettings{}))
}

func TestRender_MissingEmailIsNotATemplateError(t *testing.T) {
	settings := germanSettings(t)
	lvl, _ := settings.Level(domain.LevelReminder)
	c := customer()
	c.Email = ""
	_, err := NewRenderer(settings).Render(lvl, openInvoice(), c, company(), date(2024, time.January, 2))
	require.NoError(t, err)
}

func TestFormatMoneyAndDate(t *testing.T) {
	require.Equal(t, "1.190,00 €", FormatMoney(decimal.RequireFromString("1190"), "EUR"))
	require.Equal(t, "0,50 CHF", FormatMoney(decimal.RequireFromString("0.5"), "chf"))
	require.Equal(t, "12.345.678.901.234.567,89 €", FormatMoney(decimal.RequireFromString("12345678901234567.885"), "EUR"))
	require.Equal(t, "-0,50 €", FormatMoney(decimal.RequireFromString("-0.5"), ""))
	require.Equal(t, "01.01.2024", FormatDate(date(2024, time.January, 1)))
}

func TestToHTML(t *testing.T) {
	require.Equal(t, "Hallo &lt;b&gt;<br/>Zeile 2", ToHTML("Hallo <b>\r\nZeile 2"))
}

func TestNextStatus(t *testing.T) {
	levels := []domain.Level{domain.LevelReminder, domain.LevelDunning1, domain.LevelDunning2, domain.LevelFinal}
	statuses := []domain.InvoiceStatus{
		domain.InvoiceStatusDraft, domain.InvoiceStatusSent, domain.InvoiceStatusPaid,
		domain.InvoiceStatusOverdue, domain.InvoiceStatusCancelled,
	}

	for _, l := range levels {
		for _, s := range statuses {
			to, changed := NextStatus(l, s)
			if l.IsDunning() && s == domain.InvoiceStatusSent {
				require.True(t, changed, "%s/%s", l, s)
				require.Equal(t, domain.InvoiceStatusOverdue, to)
				continue
			}
			require.False(t, changed, "%s/%s", l, s)
		}
	}
}
