package rest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"dunning-service/internal/domain"
	"dunning-service/internal/repository"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type SendManualRequest struct {
	InvoiceID     string
	ReminderLevel string
	Force         bool
}

type rawSendManualRequest struct {
	InvoiceID     interface{} `json:"invoiceId"`
	ReminderLevel interface{} `json:"reminderLevel"`
	Force         bool        `json:"force"`
}

func ValidateSendManualRequest(r *http.Request) (*SendManualRequest, error) {
	var raw rawSendManualRequest

	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && err != io.EOF {
		return nil, &ValidationError{Field: "body", Message: "invalid JSON"}
	}

	invoiceID, err := toStringPtr(raw.InvoiceID)
	if err != nil || invoiceID == nil {
		return nil, &ValidationError{Field: "invoiceId", Message: "invoiceId is required"}
	}

	level, err := toStringPtr(raw.ReminderLevel)
	if err != nil {
		return nil, &ValidationError{Field: "reminderLevel", Message: "reminderLevel must be a string"}
	}
	if level == nil {
		def := string(domain.LevelReminder)
		level = &def
	}
	if _, err := domain.ParseLevel(*level); err != nil {
		return nil, &ValidationError{Field: "reminderLevel", Message: "reminderLevel must be one of reminder, dunning1, dunning2, final"}
	}

	return &SendManualRequest{
		InvoiceID:     *invoiceID,
		ReminderLevel: *level,
		Force:         raw.Force,
	}, nil
}

const (
	defaultLogsLimit = 100
	maxLogsLimit     = 1000
)

// ParseReminderLogsQuery reads the filter of the log listing from query parameters.
// The organization is never taken from the request.
func ParseReminderLogsQuery(q url.Values, organizationID string) (repository.ReminderLogsFilter, error) {
	f := repository.ReminderLogsFilter{
		OrganizationID: &organizationID,
		Limit:          defaultLogsLimit,
	}

	if v := q.Get("invoice_id"); v != "" {
		f.InvoiceID = &v
	}

	if v := q.Get("status"); v != "" {
		st := domain.ReminderStatus(v)
		if st != domain.ReminderStatusSent && st != domain.ReminderStatusFailed {
			return f, &ValidationError{Field: "status", Message: "status must be sent or failed"}
		}
		f.Status = &st
	}

	if v := q.Get("level"); v != "" {
		lvl, err := domain.ParseLevel(v)
		if err != nil {
			return f, &ValidationError{Field: "level", Message: "level must be one of reminder, dunning1, dunning2, final"}
		}
		f.Level = &lvl
	}

	from, err := toDatePtr(q.Get("from"))
	if err != nil {
		return f, &ValidationError{Field: "from", Message: "from must be YYYY-MM-DD or empty"}
	}
	to, err := toDatePtr(q.Get("to"))
	if err != nil {
		return f, &ValidationError{Field: "to", Message: "to must be YYYY-MM-DD or empty"}
	}
	f.SentFrom = from
	if to != nil {
		end := to.Add(24*time.Hour - time.Nanosecond)
		f.SentTo = &end
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, &ValidationError{Field: "limit", Message: "limit must be a positive integer"}
		}
		if n > maxLogsLimit {
			n = maxLogsLimit
		}
		f.Limit = n
	}

	return f, nil
}

type RemindersExportRequest struct {
	Fields []string
	Filter repository.ReminderLogsFilter
}

type rawRemindersExportRequest struct {
	Fields    []string    `json:"fields"`
	InvoiceID interface{} `json:"invoice_id"`
	Status    interface{} `json:"status"`
	Level     interface{} `json:"level"`
	From      interface{} `json:"from"`
	To        interface{} `json:"to"`
}

func ValidateRemindersExportRequest(r *http.Request, organizationID string) (*RemindersExportRequest, error) {
	var raw rawRemindersExportRequest

	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && err != io.EOF {
		return nil, err
	}

	if len(raw.Fields) == 0 {
		return nil, &ValidationError{Field: "fields", Message: "fields is required and must be an array"}
	}

	q := url.Values{}
	for key, v := range map[string]interface{}{
		"invoice_id": raw.InvoiceID,
		"status":     raw.Status,
		"level":      raw.Level,
		"from":       raw.From,
		"to":         raw.To,
	} {
		s, err := toStringPtr(v)
		if err != nil {
			return nil, &ValidationError{Field: key, Message: key + " must be string or empty"}
		}
		if s != nil {
			q.Set(key, *s)
		}
	}

	filter, err := ParseReminderLogsQuery(q, organizationID)
	if err != nil {
		return nil, err
	}
	filter.Limit = 0

	return &RemindersExportRequest{Fields: raw.Fields, Filter: filter}, nil
}

func toStringPtr(v interface{}) (*string, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		return &t, nil
	case float64:
		i := int64(t)
		s := strconv.FormatInt(i, 10)
		return &s, nil
	default:
		return nil, &ValidationError{Message: "invalid type for string field"}
	}
}

func toDatePtr(v interface{}) (*time.Time, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		if t == "" {
			return nil, nil
		}
		parsed, err := time.Parse("2006-01-02", t)
		if err != nil {
			return nil, err
		}
		return &parsed, nil
	default:
		return nil, &ValidationError{Message: "invalid type for date field"}
	}
}
