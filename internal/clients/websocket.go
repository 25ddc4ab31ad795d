package clients

import (
	"context"
	"fmt"

	"dunning-service/internal/domain"
	ws "dunning-service/internal/transport/websocket"
)

// Event types pushed to the browser.
const (
	EventExportProgress  = "export_progress"
	EventExportComplete  = "export_complete"
	EventExportFailed    = "export_failed"
	EventReminderRunDone = "reminder_run_finished"

	eventReminderPrefix = "reminder_"
	channelExports      = "exports"
	channelReminders    = "reminders"
	channelOrganization = "organization"
)

type exportPayload struct {
	ID       string   `json:"id"`
	Progress *float64 `json:"progress,omitempty"`
	Stage    string   `json:"stage,omitempty"`
	URL      string   `json:"url,omitempty"`
	Filename string   `json:"filename,omitempty"`
	Message  string   `json:"message,omitempty"`
}

type reminderPayload struct {
	InvoiceID string `json:"invoice_id"`
	Level     string `json:"level"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
}

// WebSocketClient turns export and reminder events into hub messages.
type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{hub: hub}
}

func userChannel(name string, userID int64) string {
	return fmt.Sprintf("%s.%d", name, userID)
}

func (c *WebSocketClient) toUser(userID int64, eventType, channel string, data interface{}) error {
	if c.hub == nil || userID == 0 {
		return nil
	}
	c.hub.Broadcast(userID, &ws.Message{
		Type:    eventType,
		Channel: userChannel(channel, userID),
		Data:    data,
	})
	return nil
}

func (c *WebSocketClient) NotifyExportProgress(ctx context.Context, userID int64, exportID string, progress float64, stage string) error {
	return c.toUser(userID, EventExportProgress, channelExports, exportPayload{
		ID:       exportID,
		Progress: &progress,
		Stage:    stage,
	})
}

func (c *WebSocketClient) NotifyExportComplete(ctx context.Context, userID int64, exportID, url, filename string) error {
	return c.toUser(userID, EventExportComplete, channelExports, exportPayload{
		ID:       exportID,
		URL:      url,
		Filename: filename,
	})
}

func (c *WebSocketClient) NotifyExportFailed(ctx context.Context, userID int64, exportID string, errMsg string) error {
	return c.toUser(userID, EventExportFailed, channelExports, exportPayload{
		ID:      exportID,
		Message: errMsg,
	})
}

// NotifyReminder tells the operator who triggered a manual send how it ended.
// Automatic sends have no operator and are not pushed.
func (c *WebSocketClient) NotifyReminder(ctx context.Context, userID int64, invoiceID, level, status, errMsg string) error {
	return c.toUser(userID, eventReminderPrefix+status, channelReminders, reminderPayload{
		InvoiceID: invoiceID,
		Level:     level,
		Status:    status,
		Message:   errMsg,
	})
}

// NotifyRunFinished pushes the outcome of an automatic run to every operator of the organization.
func (c *WebSocketClient) NotifyRunFinished(ctx context.Context, organizationID string, sum domain.RunSummary) error {
	if c.hub == nil || organizationID == "" {
		return nil
	}
	c.hub.BroadcastOrganization(organizationID, &ws.Message{
		Type:    EventReminderRunDone,
		Channel: channelOrganization + "." + organizationID,
		Data:    sum,
	})
	return nil
}
