package domain

import "time"

// Token abilities checked by the API. "*" grants all of them.
const (
	AbilityAll           = "*"
	AbilityRemindersSend = "reminders:send"
	AbilitySettingsWrite = "settings:write"
)

type PersonalAccessToken struct {
	ID             int64
	TokenHash      string
	UserID         int64
	OrganizationID string
	Abilities      []string
	ExpiresAt      *time.Time
	LastUsedAt     *time.Time
}

func (t PersonalAccessToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !t.ExpiresAt.After(now)
}

// Can reports whether the token grants ability.
func (t PersonalAccessToken) Can(ability string) bool {
	return HasAbility(t.Abilities, ability)
}

func HasAbility(abilities []string, ability string) bool {
	for _, a := range abilities {
		if a == AbilityAll || a == ability {
			return true
		}
	}
	return false
}
