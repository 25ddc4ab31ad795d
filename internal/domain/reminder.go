package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

type Level string

const (
	LevelReminder Level = "reminder"
	LevelDunning1 Level = "dunning1"
	LevelDunning2 Level = "dunning2"
	LevelFinal    Level = "final"
)

var levelRank = map[Level]int{
	LevelReminder: 0,
	LevelDunning1: 1,
	LevelDunning2: 2,
	LevelFinal:    3,
}

// ParseLevel accepts the canonical level names only.
func ParseLevel(s string) (Level, error) {
	l := Level(s)
	if _, ok := levelRank[l]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
	return l, nil
}

// Rank orders levels by escalation; unknown levels rank below reminder.
func (l Level) Rank() int {
	r, ok := levelRank[l]
	if !ok {
		return -1
	}
	return r
}

func (l Level) Valid() bool {
	_, ok := levelRank[l]
	return ok
}

// IsDunning is true for every level past the friendly reminder.
func (l Level) IsDunning() bool {
	return l.Rank() >= LevelDunning1.Rank()
}

type ReminderLevel struct {
	Level               Level           `json:"level"`
	DaysAfterDue        int             `json:"days_after_due"`
	FeeAmount           decimal.Decimal `json:"fee_amount"`
	InterestRatePercent decimal.Decimal `json:"interest_rate_percent"`
	SubjectTemplate     string          `json:"subject_template"`
	BodyTemplate        string          `json:"body_template"`
}

const DefaultMinResendIntervalHours = 24

type ReminderSettings struct {
	Enabled                bool            `json:"enabled"`
	Levels                 []ReminderLevel `json:"levels"`
	MinResendIntervalHours int             `json:"min_resend_interval_hours"`
	// AllowManualOverride lets operators bypass the resend interval with an explicit force flag.
	AllowManualOverride bool `json:"allow_manual_override"`
}

// UnmarshalJSON fills enabled and min_resend_interval_hours with their defaults
// when the document leaves them out.
func (s *ReminderSettings) UnmarshalJSON(data []byte) error {
	type plain ReminderSettings
	p := plain{Enabled: true, MinResendIntervalHours: DefaultMinResendIntervalHours}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = ReminderSettings(p)
	return nil
}

// NewReminderSettings sorts levels by escalation rank and validates the result.
func NewReminderSettings(levels []ReminderLevel, minResendIntervalHours int, enabled, allowOverride bool) (ReminderSettings, error) {
	s := ReminderSettings{
		Enabled:                enabled,
		Levels:                 append([]ReminderLevel(nil), levels...),
		MinResendIntervalHours: minResendIntervalHours,
		AllowManualOverride:    allowOverride,
	}
	s.sortLevels()
	if err := s.Validate(); err != nil {
		return ReminderSettings{}, err
	}
	return s, nil
}

func (s *ReminderSettings) sortLevels() {
	sort.SliceStable(s.Levels, func(i, j int) bool {
		return s.Levels[i].Level.Rank() < s.Levels[j].Level.Rank()
	})
}

// Validate checks what the selector and renderer rely on.
// Levels must already be in escalation order.
func (s ReminderSettings) Validate() error {
	if len(s.Levels) == 0 {
		return fmt.Errorf("%w: at least one level is required", ErrInvalidPolicy)
	}
	if s.MinResendIntervalHours < 0 {
		return fmt.Errorf("%w: min_resend_interval_hours must not be negative", ErrInvalidPolicy)
	}

	seen := make(map[Level]bool, len(s.Levels))
	prevRank, prevDays := -1, -1
	for i, l := range s.Levels {
		if !l.Level.Valid() {
			return fmt.Errorf("%w: levels[%d]: unknown level %q", ErrInvalidPolicy, i, l.Level)
		}
		if seen[l.Level] {
			return fmt.Errorf("%w: levels[%d]: duplicate level %q", ErrInvalidPolicy, i, l.Level)
		}
		seen[l.Level] = true

		if l.Level.Rank() < prevRank {
			return fmt.Errorf("%w: levels[%d]: %q is out of escalation order", ErrInvalidPolicy, i, l.Level)
		}
		if l.DaysAfterDue < 0 {
			return fmt.Errorf("%w: levels[%d]: days_after_due must not be negative", ErrInvalidPolicy, i)
		}
		if l.DaysAfterDue <= prevDays {
			return fmt.Errorf("%w: levels[%d]: days_after_due must be strictly increasing", ErrInvalidPolicy, i)
		}
		if l.FeeAmount.IsNegative() {
			return fmt.Errorf("%w: levels[%d]: fee_amount must not be negative", ErrInvalidPolicy, i)
		}
		if l.InterestRatePercent.IsNegative() {
			return fmt.Errorf("%w: levels[%d]: interest_rate_percent must not be negative", ErrInvalidPolicy, i)
		}
		if l.SubjectTemplate == "" || l.BodyTemplate == "" {
			return fmt.Errorf("%w: levels[%d]: subject and body templates are required", ErrInvalidPolicy, i)
		}

		prevRank, prevDays = l.Level.Rank(), l.DaysAfterDue
	}
	return nil
}

func (s ReminderSettings) ResendInterval() time.Duration {
	return time.Duration(s.MinResendIntervalHours) * time.Hour
}

// Level returns the configured record for a level name.
func (s ReminderSettings) Level(l Level) (ReminderLevel, bool) {
	for _, lvl := range s.Levels {
		if lvl.Level == l {
			return lvl, true
		}
	}
	return ReminderLevel{}, false
}

// CumulativeFees sums the flat fees of every configured level up to and including l.
func (s ReminderSettings) CumulativeFees(l Level) decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range s.Levels {
		if lvl.Level.Rank() > l.Rank() {
			break
		}
		total = total.Add(lvl.FeeAmount)
	}
	return total
}

type ReminderStatus string

const (
	ReminderStatusSent   ReminderStatus = "sent"
	ReminderStatusFailed ReminderStatus = "failed"
)

type ReminderLog struct {
	ID             string
	OrganizationID string
	InvoiceID      string
	InvoiceNumber  string
	CustomerID     string

	ReminderLevel Level
	Recipient     string
	Subject       string
	SentDate      time.Time
	Status        ReminderStatus

	Manual bool
	Forced bool

	FeeAmount      decimal.Decimal
	InterestAmount decimal.Decimal

	MessageID    *string
	ErrorMessage *string
}

// RunSummary counts the outcome of one automatic run. Every processed invoice is
// counted in exactly one of sent, failed or skipped.
type RunSummary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

func (s *RunSummary) Add(o RunSummary) {
	s.Processed += o.Processed
	s.Sent += o.Sent
	s.Failed += o.Failed
	s.Skipped += o.Skipped
}
