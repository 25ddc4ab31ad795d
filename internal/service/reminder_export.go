package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"dunning-service/internal/clients"
	"dunning-service/internal/domain"
	"dunning-service/internal/dunning"
	"dunning-service/internal/repository"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

type ExportNotifier interface {
	NotifyExportProgress(ctx context.Context, userID int64, exportID string, progress float64, stage string) error
	NotifyExportComplete(ctx context.Context, userID int64, exportID string, url string, filename string) error
	NotifyExportFailed(ctx context.Context, userID int64, exportID string, errMsg string) error
}

type ReminderExportService struct {
	logs    ReminderLogStore
	exports *ExportService
	files   clients.FileStore
	ws      ExportNotifier
	log     *zap.Logger
}

func NewReminderExportService(
	logs ReminderLogStore,
	exports *ExportService,
	files clients.FileStore,
	ws ExportNotifier,
) *ReminderExportService {
	return &ReminderExportService{
		logs:    logs,
		exports: exports,
		files:   files,
		ws:      ws,
		log:     zap.L().Named("export"),
	}
}

type ReminderColumn struct {
	Header string
	Value  func(l domain.ReminderLog) any
}

var reminderLevelDisplay = map[domain.Level]string{
	domain.LevelReminder: "Zahlungserinnerung",
	domain.LevelDunning1: "1. Mahnung",
	domain.LevelDunning2: "2. Mahnung",
	domain.LevelFinal:    "Letzte Mahnung",
}

var reminderColumns = map[string]ReminderColumn{
	"id": {
		Header: "ID",
		Value:  func(l domain.ReminderLog) any { return l.ID },
	},
	"invoice_id": {
		Header: "Rechnungs-ID",
		Value:  func(l domain.ReminderLog) any { return l.InvoiceID },
	},
	"invoice_number": {
		Header: "Rechnungsnummer",
		Value:  func(l domain.ReminderLog) any { return l.InvoiceNumber },
	},
	"customer_id": {
		Header: "Kunden-ID",
		Value:  func(l domain.ReminderLog) any { return l.CustomerID },
	},
	"reminder_level": {
		Header: "Mahnstufe",
		Value: func(l domain.ReminderLog) any {
			if title, ok := reminderLevelDisplay[l.ReminderLevel]; ok {
				return title
			}
			return string(l.ReminderLevel)
		},
	},
	"recipient": {
		Header: "Empfänger",
		Value:  func(l domain.ReminderLog) any { return l.Recipient },
	},
	"subject": {
		Header: "Betreff",
		Value:  func(l domain.ReminderLog) any { return l.Subject },
	},
	"sent_date": {
		Header: "Versanddatum",
		Value:  func(l domain.ReminderLog) any { return l.SentDate.Format("02.01.2006 15:04") },
	},
	"status": {
		Header: "Status",
		Value: func(l domain.ReminderLog) any {
			if l.Status == domain.ReminderStatusSent {
				return "versendet"
			}
			return "fehlgeschlagen"
		},
	},
	"manual": {
		Header: "Manuell",
		Value: func(l domain.ReminderLog) any {
			if l.Manual {
				return "ja"
			}
			return "nein"
		},
	},
	"fee_amount": {
		Header: "Mahngebühr",
		Value:  func(l domain.ReminderLog) any { return dunning.FormatMoney(l.FeeAmount, "EUR") },
	},
	"interest_amount": {
		Header: "Verzugszinsen",
		Value:  func(l domain.ReminderLog) any { return dunning.FormatMoney(l.InterestAmount, "EUR") },
	},
	"error_message": {
		Header: "Fehler",
		Value:  func(l domain.ReminderLog) any { return strOrEmpty(l.ErrorMessage) },
	},
}

var defaultReminderExportColumns = []string{
	"invoice_number",
	"reminder_level",
	"recipient",
	"sent_date",
	"status",
}

const maxRemindersForExport = 500_000

func (s *ReminderExportService) StartRemindersExport(
	ctx context.Context,
	selected []string,
	filter repository.ReminderLogsFilter,
	userID int64,
) (string, error) {
	if len(selected) == 0 {
		selected = defaultReminderExportColumns
	}

	var cols []ReminderColumn
	for _, key := range selected {
		if col, ok := reminderColumns[key]; ok {
			cols = append(cols, col)
		}
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("no known columns in %v", selected)
	}

	filter.Limit = 0
	tooMany, err := s.logs.HasMoreThan(ctx, maxRemindersForExport, filter)
	if err != nil {
		return "", err
	}
	if tooMany {
		return "", fmt.Errorf("zu viele Einträge für den Export (mehr als %d)", maxRemindersForExport)
	}

	status := &ExportStatus{
		Key:      exportPrefix + uuid.NewString(),
		Type:     "reminders",
		UserID:   userID,
		Filters:  buildReminderFiltersMap(filter, selected),
		Progress: 0,
		Created:  time.Now(),
	}
	if err := s.exports.saveStatus(ctx, status); err != nil {
		s.log.Warn("save export status failed", zap.String("export_id", status.Key), zap.Error(err))
	}

	go s.runRemindersExport(context.Background(), status, cols, filter)

	return status.Key, nil
}

func (s *ReminderExportService) runRemindersExport(
	ctx context.Context,
	status *ExportStatus,
	cols []ReminderColumn,
	filter repository.ReminderLogsFilter,
) {
	fail := func(stage string, err error) {
		s.log.Error("reminder export failed", zap.String("export_id", status.Key), zap.String("stage", stage), zap.Error(err))
		msg := err.Error()
		status.Error = &msg
		_ = s.exports.saveStatus(ctx, status)
		if s.ws != nil {
			_ = s.ws.NotifyExportFailed(ctx, status.UserID, status.Key, msg)
		}
	}

	logs, err := s.logs.List(ctx, filter)
	if err != nil {
		fail("query", err)
		return
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Mahnungen"
	f.SetSheetName(f.GetSheetName(0), sheet)
	_ = f.SetDocProps(&excelize.DocProperties{
		Creator: fmt.Sprintf("user_%d", status.UserID),
	})

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	total := len(logs)
	const chunkSize = 1000
	for i, l := range logs {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			_ = f.SetCellValue(sheet, cell, col.Value(l))
		}

		if (i+1)%chunkSize == 0 || i == total-1 {
			// 100 is reserved for the moment the file URL exists
			progress := math.Min(math.Round(float64(i+1)/float64(total)*100), 90)
			status.Progress = progress
			_ = s.exports.saveStatus(ctx, status)
			if s.ws != nil {
				_ = s.ws.NotifyExportProgress(ctx, status.UserID, status.Key, progress, "generating")
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		fail("write", err)
		return
	}

	fileName := fmt.Sprintf("mahnungen_%s.xlsx", time.Now().Format("20060102_150405"))

	status.Progress = 95
	_ = s.exports.saveStatus(ctx, status)
	if s.ws != nil {
		_ = s.ws.NotifyExportProgress(ctx, status.UserID, status.Key, 95, "uploading")
	}

	url, err := s.files.Upload(ctx, fileName, buf.Bytes())
	if err != nil {
		fail("upload", err)
		return
	}

	status.FileURL = &url
	status.Progress = 100
	_ = s.exports.saveStatus(ctx, status)
	if s.ws != nil {
		_ = s.ws.NotifyExportProgress(ctx, status.UserID, status.Key, 100, "ready")
		_ = s.ws.NotifyExportComplete(ctx, status.UserID, status.Key, url, fileName)
	}
}

func buildReminderFiltersMap(f repository.ReminderLogsFilter, fields []string) map[string]interface{} {
	m := map[string]interface{}{
		"invoice_id": nil,
		"status":     nil,
		"level":      nil,
		"from":       nil,
		"to":         nil,
	}
	if f.InvoiceID != nil {
		m["invoice_id"] = *f.InvoiceID
	}
	if f.Status != nil {
		m["status"] = string(*f.Status)
	}
	if f.Level != nil {
		m["level"] = string(*f.Level)
	}
	if f.SentFrom != nil {
		m["from"] = f.SentFrom.Format("2006-01-02")
	}
	if f.SentTo != nil {
		m["to"] = f.SentTo.Format("2006-01-02")
	}
	m["fields"] = fields
	return m
}
