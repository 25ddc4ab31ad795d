package dunning

import (
	"dunning-service/internal/domain"

	"github.com/shopspring/decimal"
)

const defaultReminderBody = `Sehr geehrte/r {customerName},

wir möchten Sie freundlich daran erinnern, dass die Rechnung {invoiceNumber} vom {invoiceDate} am {dueDate} fällig war.

Rechnungsdetails:
- Rechnungsnummer: {invoiceNumber}
- Fälligkeitsdatum: {dueDate}
- Offener Betrag: {openAmount}

Falls Sie die Rechnung bereits beglichen haben, betrachten Sie diese E-Mail als gegenstandslos.

Online-Zahlung: {paymentLink}
Überweisung auf IBAN: {iban}
Verwendungszweck: {invoiceNumber}

Mit freundlichen Grüßen
{companyName}`

const defaultDunning1Body = `Sehr geehrte/r {customerName},

unsere Rechnung {invoiceNumber} vom {invoiceDate} ist seit {daysOverdue} Tagen überfällig.

- Offener Betrag: {openAmount}
- Mahngebühr: {feeAmount}
- Verzugszinsen: {interestAmount}
- Gesamtbetrag: {totalDue}

Bitte begleichen Sie den ausstehenden Betrag umgehend.

Online-Zahlung: {paymentLink}
Überweisung auf IBAN: {iban}
Verwendungszweck: {invoiceNumber}

Mit freundlichen Grüßen
{companyName}`

const defaultDunning2Body = `Sehr geehrte/r {customerName},

trotz unserer ersten Mahnung ist die Rechnung {invoiceNumber} weiterhin unbezahlt und seit {daysOverdue} Tagen überfällig.

- Offener Betrag: {openAmount}
- Mahngebühren gesamt: {totalFees}
- Verzugszinsen: {interestAmount}
- Gesamtbetrag: {totalDue}

Wir fordern Sie hiermit auf, den Betrag innerhalb von 7 Tagen zu begleichen.
Bei ausbleibender Zahlung behalten wir uns weitere rechtliche Schritte vor.

Online-Zahlung: {paymentLink}
Überweisung auf IBAN: {iban}
Verwendungszweck: {invoiceNumber}

Mit freundlichen Grüßen
{companyName}`

const defaultFinalBody = `Sehr geehrte/r {customerName},

dies ist unsere letzte Mahnung für die Rechnung {invoiceNumber}, die seit {daysOverdue} Tagen überfällig ist.

- Offener Betrag: {openAmount}
- Mahngebühren gesamt: {totalFees}
- Verzugszinsen: {interestAmount}
- Gesamtbetrag: {totalDue}

LETZTE ZAHLUNGSFRIST: 3 Tage ab Erhalt dieser Mahnung.
Danach übergeben wir den Vorgang ohne weitere Ankündigung an ein Inkassobüro.

Online-Zahlung: {paymentLink}
Überweisung auf IBAN: {iban}
Verwendungszweck: {invoiceNumber}

{companyName}`

// DefaultReminderSettings is the policy used for organizations that never saved their own.
func DefaultReminderSettings() domain.ReminderSettings {
	return domain.ReminderSettings{
		Enabled:                true,
		MinResendIntervalHours: domain.DefaultMinResendIntervalHours,
		Levels: []domain.ReminderLevel{
			{
				Level:               domain.LevelReminder,
				DaysAfterDue:        0,
				FeeAmount:           decimal.Zero,
				InterestRatePercent: decimal.Zero,
				SubjectTemplate:     "Freundliche Erinnerung - Rechnung {invoiceNumber}",
				BodyTemplate:        defaultReminderBody,
			},
			{
				Level:               domain.LevelDunning1,
				DaysAfterDue:        7,
				FeeAmount:           decimal.NewFromInt(5),
				InterestRatePercent: decimal.NewFromInt(5),
				SubjectTemplate:     "1. Mahnung - Rechnung {invoiceNumber} überfällig",
				BodyTemplate:        defaultDunning1Body,
			},
			{
				Level:               domain.LevelDunning2,
				DaysAfterDue:        14,
				FeeAmount:           decimal.NewFromInt(10),
				InterestRatePercent: decimal.NewFromInt(5),
				SubjectTemplate:     "2. Mahnung - Rechnung {invoiceNumber} - Sofortige Zahlung erforderlich",
				BodyTemplate:        defaultDunning2Body,
			},
			{
				Level:               domain.LevelFinal,
				DaysAfterDue:        30,
				FeeAmount:           decimal.NewFromInt(15),
				InterestRatePercent: decimal.NewFromInt(5),
				SubjectTemplate:     "LETZTE MAHNUNG - Rechnung {invoiceNumber}",
				BodyTemplate:        defaultFinalBody,
			},
		},
	}
}
