package domain

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func level(l Level, days int) ReminderLevel {
	return ReminderLevel{
		Level:           l,
		DaysAfterDue:    days,
		FeeAmount:       decimal.NewFromInt(int64(l.Rank() * 5)),
		SubjectTemplate: "Rechnung {invoiceNumber}",
		BodyTemplate:    "Hallo {customerName}",
	}
}

func TestNewReminderSettings_SortsByRank(t *testing.T) {
	s, err := NewReminderSettings([]ReminderLevel{
		level(LevelFinal, 45),
		level(LevelReminder, 0),
		level(LevelDunning1, 14),
	}, 24, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Level{LevelReminder, LevelDunning1, LevelFinal}
	for i, l := range s.Levels {
		if l.Level != want[i] {
			t.Fatalf("levels[%d]: expected %s, got %s", i, want[i], l.Level)
		}
	}
}

func TestReminderSettings_Validate(t *testing.T) {
	negativeFee := level(LevelDunning1, 14)
	negativeFee.FeeAmount = decimal.NewFromInt(-1)

	noBody := level(LevelDunning1, 14)
	noBody.BodyTemplate = ""

	cases := map[string]ReminderSettings{
		"empty":              {},
		"negative interval":  {Levels: []ReminderLevel{level(LevelReminder, 0)}, MinResendIntervalHours: -1},
		"unknown level":      {Levels: []ReminderLevel{level("inkasso", 0)}},
		"duplicate level":    {Levels: []ReminderLevel{level(LevelReminder, 0), level(LevelReminder, 5)}},
		"negative days":      {Levels: []ReminderLevel{level(LevelReminder, -3)}},
		"days not ascending": {Levels: []ReminderLevel{level(LevelReminder, 10), level(LevelDunning1, 10)}},
		"out of order":       {Levels: []ReminderLevel{level(LevelDunning1, 0), level(LevelReminder, 5)}},
		"negative fee":       {Levels: []ReminderLevel{level(LevelReminder, 0), negativeFee}},
		"missing body":       {Levels: []ReminderLevel{level(LevelReminder, 0), noBody}},
	}

	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			err := s.Validate()
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestReminderSettings_CumulativeFees(t *testing.T) {
	s, err := NewReminderSettings([]ReminderLevel{
		level(LevelReminder, 0),
		level(LevelDunning1, 14),
		level(LevelDunning2, 30),
	}, 24, true, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := s.CumulativeFees(LevelDunning2).String(); got != "15" {
		t.Errorf("expected 15, got %s", got)
	}
	if got := s.CumulativeFees(LevelReminder).String(); got != "0" {
		t.Errorf("expected 0, got %s", got)
	}
	// final is not configured, all configured fees apply
	if got := s.CumulativeFees(LevelFinal).String(); got != "15" {
		t.Errorf("expected 15, got %s", got)
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("dunning2"); err != nil || l != LevelDunning2 {
		t.Fatalf("expected dunning2, got %q (%v)", l, err)
	}
	if _, err := ParseLevel("first_notice"); !errors.Is(err, ErrUnknownLevel) {
		t.Fatalf("expected ErrUnknownLevel, got %v", err)
	}
}

func TestInvoiceStatus_Terminal(t *testing.T) {
	for status, want := range map[InvoiceStatus]bool{
		InvoiceStatusDraft:     false,
		InvoiceStatusSent:      false,
		InvoiceStatusOverdue:   false,
		InvoiceStatusPaid:      true,
		InvoiceStatusCancelled: true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s: expected %v, got %v", status, want, got)
		}
	}
}

func TestReminderSettings_UnmarshalDefaults(t *testing.T) {
	var s ReminderSettings
	if err := json.Unmarshal([]byte(`{"levels":[{"level":"reminder","days_after_due":0}]}`), &s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Enabled {
		t.Fatalf("missing enabled must default to true")
	}
	if s.MinResendIntervalHours != DefaultMinResendIntervalHours {
		t.Fatalf("expected %d hours, got %d", DefaultMinResendIntervalHours, s.MinResendIntervalHours)
	}
	if len(s.Levels) != 1 || s.Levels[0].Level != LevelReminder {
		t.Fatalf("levels not decoded: %+v", s.Levels)
	}

	var explicit ReminderSettings
	if err := json.Unmarshal([]byte(`{"enabled":false,"min_resend_interval_hours":0,"levels":[]}`), &explicit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if explicit.Enabled || explicit.MinResendIntervalHours != 0 {
		t.Fatalf("explicit values must win: %+v", explicit)
	}
}
