package repository

import (
	"database/sql"
	"reflect"
	"testing"

	"dunning-service/internal/domain"
)

func TestSplitPlainToken(t *testing.T) {
	tests := []struct {
		in     string
		id     int64
		hasID  bool
		secret string
	}{
		{"12|abc", 12, true, "abc"},
		{"abc", 0, false, "abc"},
		{"x|abc", 0, false, "abc"},
		{"|abc", 0, false, "|abc"},
	}
	for _, tt := range tests {
		id, hasID, secret := splitPlainToken(tt.in)
		if id != tt.id || hasID != tt.hasID || secret != tt.secret {
			t.Errorf("splitPlainToken(%q) = %d, %v, %q", tt.in, id, hasID, secret)
		}
	}
}

func TestHashToken(t *testing.T) {
	// sha256("secret")
	want := "2bb80d537b1da3e38bd30361aa855686bde0eacd7162fef6a25fe97bf527a25b"
	if got := hashToken("secret"); got != want {
		t.Fatalf("hashToken = %s", got)
	}
}

func TestParseAbilities(t *testing.T) {
	tests := []struct {
		name string
		col  sql.NullString
		want []string
	}{
		{"null grants all", sql.NullString{}, []string{domain.AbilityAll}},
		{"list", sql.NullString{String: `["reminders:send"]`, Valid: true}, []string{"reminders:send"}},
		{"empty list", sql.NullString{String: `[]`, Valid: true}, []string{}},
		{"malformed", sql.NullString{String: `reminders`, Valid: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseAbilities(tt.col); !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("parseAbilities = %#v, want %#v", got, tt.want)
			}
		})
	}
}
