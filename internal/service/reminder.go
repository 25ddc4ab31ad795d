package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dunning-service/internal/clients"
	"dunning-service/internal/domain"
	"dunning-service/internal/dunning"
	"dunning-service/internal/metrics"
	"dunning-service/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type InvoiceRepository interface {
	FindByID(ctx context.Context, organizationID, id string) (*domain.Invoice, error)
	ListOpen(ctx context.Context, organizationID string) ([]domain.Invoice, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.InvoiceStatus) error
}

type CustomerRepository interface {
	FindByID(ctx context.Context, organizationID, id string) (*domain.Customer, error)
}

type ReminderLogStore interface {
	Append(ctx context.Context, l domain.ReminderLog) error
	LastSent(ctx context.Context, invoiceID string) (*domain.ReminderLog, error)
	HighestSentLevel(ctx context.Context, invoiceID string) (domain.Level, bool, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]domain.ReminderLog, error)
	List(ctx context.Context, f repository.ReminderLogsFilter) ([]domain.ReminderLog, error)
	HasMoreThan(ctx context.Context, limit int64, f repository.ReminderLogsFilter) (bool, error)
	CountByStatus(ctx context.Context, f repository.ReminderLogsFilter) (map[domain.ReminderStatus]int64, []repository.LevelCount, error)
}

type ReminderNotifier interface {
	NotifyReminder(ctx context.Context, userID int64, invoiceID, level, status, errMsg string) error
	NotifyRunFinished(ctx context.Context, organizationID string, sum domain.RunSummary) error
}

var errNoRecipient = errors.New("customer has no email address")

type DispatcherConfig struct {
	MailFrom    string
	SendTimeout time.Duration
	// Location decides which calendar day "today" is.
	Location *time.Location
}

type ManualRequest struct {
	OrganizationID string
	InvoiceID      string
	Level          string
	Force          bool
	OperatorID     int64
}

type Summary = domain.RunSummary

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
)

type Dispatcher struct {
	invoices  InvoiceRepository
	customers CustomerRepository
	logs      ReminderLogStore
	settings  *SettingsService
	mail      clients.MailTransport
	locker    InvoiceLocker
	notifier  ReminderNotifier
	metrics   *metrics.ReminderMetrics
	cfg       DispatcherConfig
	log       *zap.Logger
	now       func() time.Time
}

func NewDispatcher(
	invoices InvoiceRepository,
	customers CustomerRepository,
	logs ReminderLogStore,
	settings *SettingsService,
	mail clients.MailTransport,
	locker InvoiceLocker,
	cfg DispatcherConfig,
) *Dispatcher {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Dispatcher{
		invoices:  invoices,
		customers: customers,
		logs:      logs,
		settings:  settings,
		mail:      mail,
		locker:    locker,
		cfg:       cfg,
		log:       zap.L().Named("dispatcher"),
		now:       time.Now,
	}
}

func (d *Dispatcher) WithNotifier(n ReminderNotifier) *Dispatcher {
	d.notifier = n
	return d
}

func (d *Dispatcher) WithMetrics(m *metrics.ReminderMetrics) *Dispatcher {
	d.metrics = m
	return d
}

// SendManual sends the requested level for one invoice, regardless of which level the selector would pick.
func (d *Dispatcher) SendManual(ctx context.Context, req ManualRequest) (domain.ReminderLog, error) {
	level, err := domain.ParseLevel(req.Level)
	if err != nil {
		return domain.ReminderLog{}, err
	}

	settings, err := d.settings.LoadReminderSettings(ctx, req.OrganizationID)
	if err != nil {
		return domain.ReminderLog{}, err
	}
	levelCfg, ok := settings.Level(level)
	if !ok {
		return domain.ReminderLog{}, fmt.Errorf("%w: %s", domain.ErrLevelNotConfigured, level)
	}

	unlock, err := d.locker.Lock(ctx, req.InvoiceID)
	if err != nil {
		return domain.ReminderLog{}, fmt.Errorf("lock invoice %s: %w", req.InvoiceID, err)
	}
	defer unlock()

	inv, err := d.invoices.FindByID(ctx, req.OrganizationID, req.InvoiceID)
	if err != nil {
		return domain.ReminderLog{}, err
	}
	if inv.Status.Terminal() {
		return domain.ReminderLog{}, fmt.Errorf("%w: invoice %s is %s", domain.ErrInvalidInvoiceState, inv.ID, inv.Status)
	}

	cust, err := d.customers.FindByID(ctx, req.OrganizationID, inv.CustomerID)
	if err != nil {
		return domain.ReminderLog{}, err
	}

	now := d.now()
	forced := false
	if err := dunning.CheckResend(ctx, d.logs, inv.ID, settings.ResendInterval(), now); err != nil {
		var tooSoon *domain.ResendTooSoonError
		if !errors.As(err, &tooSoon) || !req.Force || !settings.AllowManualOverride {
			return domain.ReminderLog{}, err
		}
		forced = true
		d.log.Info("resend interval overridden",
			zap.String("invoice_id", inv.ID),
			zap.Int64("operator_id", req.OperatorID),
			zap.Duration("remaining", tooSoon.Remaining),
		)
	}

	company, err := d.settings.LoadCompanySettings(ctx, req.OrganizationID)
	if err != nil {
		return domain.ReminderLog{}, err
	}

	msg, err := dunning.NewRenderer(settings).Render(levelCfg, *inv, *cust, company, now.In(d.cfg.Location))
	if err != nil {
		return domain.ReminderLog{}, err
	}

	entry, err := d.deliver(ctx, *inv, *cust, level, msg, now, true, forced)
	d.notify(ctx, req.OperatorID, entry, err)
	return entry, err
}

// RunAutomatic walks every open invoice of every organization with reminders enabled
// and sends the level that is due. Failures of single invoices never stop the run.
func (d *Dispatcher) RunAutomatic(ctx context.Context) (Summary, error) {
	started := d.now()
	var sum Summary
	defer func() {
		d.metrics.RunFinished(started, d.now())
		d.log.Info("automatic reminder run finished",
			zap.Int("processed", sum.Processed),
			zap.Int("sent", sum.Sent),
			zap.Int("failed", sum.Failed),
			zap.Int("skipped", sum.Skipped),
		)
	}()

	orgs, err := d.settings.OrganizationIDs(ctx)
	if err != nil {
		return sum, fmt.Errorf("list organizations: %w", err)
	}

	for _, org := range orgs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		settings, err := d.settings.LoadReminderSettings(ctx, org)
		if err != nil {
			d.log.Error("skipping organization with unusable reminder settings", zap.String("organization_id", org), zap.Error(err))
			continue
		}
		if !settings.Enabled {
			continue
		}

		company, err := d.settings.LoadCompanySettings(ctx, org)
		if err != nil {
			d.log.Error("skipping organization without company settings", zap.String("organization_id", org), zap.Error(err))
			continue
		}

		renderer := dunning.NewRenderer(settings)
		if missing := renderer.MissingCompanyValues(company); len(missing) > 0 {
			d.log.Warn("skipping organization with incomplete company settings",
				zap.String("organization_id", org),
				zap.Strings("missing", missing),
			)
			d.metrics.Skipped("company_settings")
			continue
		}

		invoices, err := d.invoices.ListOpen(ctx, org)
		if err != nil {
			d.log.Error("list open invoices failed", zap.String("organization_id", org), zap.Error(err))
			continue
		}

		var orgSum Summary
		for _, inv := range invoices {
			if err := ctx.Err(); err != nil {
				sum.Add(orgSum)
				return sum, err
			}
			orgSum.Processed++
			switch d.processInvoice(ctx, settings, renderer, company, inv) {
			case outcomeSent:
				orgSum.Sent++
			case outcomeFailed:
				orgSum.Failed++
			default:
				orgSum.Skipped++
			}
		}
		sum.Add(orgSum)

		if d.notifier != nil && orgSum.Processed > 0 {
			_ = d.notifier.NotifyRunFinished(ctx, org, orgSum)
		}
	}

	return sum, nil
}

func (d *Dispatcher) processInvoice(
	ctx context.Context,
	settings domain.ReminderSettings,
	renderer *dunning.Renderer,
	company domain.CompanySettings,
	listed domain.Invoice,
) outcome {
	log := d.log.With(zap.String("invoice_id", listed.ID), zap.String("organization_id", listed.OrganizationID))

	unlock, err := d.locker.Lock(ctx, listed.ID)
	if err != nil {
		log.Warn("invoice lock not acquired", zap.Error(err))
		d.metrics.Skipped("locked")
		return outcomeSkipped
	}
	defer unlock()

	// the listing may be stale by the time the lock is held
	inv, err := d.invoices.FindByID(ctx, listed.OrganizationID, listed.ID)
	if err != nil {
		log.Error("reload invoice failed", zap.Error(err))
		return outcomeFailed
	}
	if inv.Status.Terminal() || !inv.OpenAmount().IsPositive() {
		d.metrics.Skipped("settled")
		return outcomeSkipped
	}

	now := d.now()
	today := now.In(d.cfg.Location)

	level, ok := dunning.SelectLevel(*inv, settings, today)
	if !ok {
		d.metrics.Skipped("not_due")
		return outcomeSkipped
	}

	highest, found, err := d.logs.HighestSentLevel(ctx, inv.ID)
	if err != nil {
		log.Error("load reminder history failed", zap.Error(err))
		return outcomeFailed
	}
	if found && highest.Rank() >= level.Level.Rank() {
		d.metrics.Skipped("already_sent")
		return outcomeSkipped
	}

	allowed, _, err := dunning.CanSend(ctx, d.logs, inv.ID, settings.ResendInterval(), now)
	if err != nil {
		log.Error("resend guard failed", zap.Error(err))
		return outcomeFailed
	}
	if !allowed {
		d.metrics.Skipped("resend_interval")
		return outcomeSkipped
	}

	cust, err := d.customers.FindByID(ctx, inv.OrganizationID, inv.CustomerID)
	if err != nil {
		log.Error("load customer failed", zap.String("customer_id", inv.CustomerID), zap.Error(err))
		return outcomeFailed
	}

	msg, err := renderer.Render(level, *inv, *cust, company, today)
	if err != nil {
		log.Error("render reminder failed", zap.String("level", string(level.Level)), zap.Error(err))
		return outcomeFailed
	}

	if _, err := d.deliver(ctx, *inv, *cust, level.Level, msg, now, false, false); err != nil {
		return outcomeFailed
	}
	return outcomeSent
}

// deliver hands the message to the transport, appends the log entry and applies the status transition.
// On transport failure the entry is logged as failed and the invoice is left untouched.
func (d *Dispatcher) deliver(
	ctx context.Context,
	inv domain.Invoice,
	cust domain.Customer,
	level domain.Level,
	msg dunning.Message,
	now time.Time,
	manual, forced bool,
) (domain.ReminderLog, error) {
	entry := domain.ReminderLog{
		ID:             uuid.NewString(),
		OrganizationID: inv.OrganizationID,
		InvoiceID:      inv.ID,
		InvoiceNumber:  inv.InvoiceNumber,
		CustomerID:     cust.ID,
		ReminderLevel:  level,
		Recipient:      cust.Email,
		Subject:        msg.Subject,
		SentDate:       now,
		Manual:         manual,
		Forced:         forced,
		FeeAmount:      msg.FeeAmount,
		InterestAmount: msg.InterestAmount,
	}
	log := d.log.With(
		zap.String("invoice_id", inv.ID),
		zap.String("level", string(level)),
		zap.Bool("manual", manual),
	)

	sendErr := d.send(ctx, cust.Email, msg, &entry)
	if sendErr != nil {
		entry.Status = domain.ReminderStatusFailed
		errMsg := sendErr.Error()
		entry.ErrorMessage = &errMsg

		if err := d.logs.Append(ctx, entry); err != nil {
			log.Error("append failed reminder log", zap.Error(err))
		}
		d.metrics.Attempt(string(level), string(entry.Status), manual)
		log.Warn("reminder not sent", zap.Error(sendErr))
		return entry, &domain.MailTransportError{Recipient: cust.Email, Err: sendErr}
	}

	entry.Status = domain.ReminderStatusSent
	d.metrics.Attempt(string(level), string(entry.Status), manual)
	if err := d.logs.Append(ctx, entry); err != nil {
		log.Error("reminder sent but log append failed", zap.String("message_id", strOrEmpty(entry.MessageID)), zap.Error(err))
		return entry, fmt.Errorf("append reminder log: %w", err)
	}

	if to, ok := dunning.NextStatus(level, inv.Status); ok {
		if err := d.invoices.UpdateStatus(ctx, inv.ID, inv.Status, to); err != nil {
			log.Error("invoice status transition failed",
				zap.String("from", string(inv.Status)),
				zap.String("to", string(to)),
				zap.Error(err),
			)
		}
	}

	log.Info("reminder sent", zap.String("recipient", cust.Email), zap.String("message_id", strOrEmpty(entry.MessageID)))
	return entry, nil
}

func (d *Dispatcher) send(ctx context.Context, to string, msg dunning.Message, entry *domain.ReminderLog) error {
	if to == "" {
		return errNoRecipient
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()

	started := time.Now()
	res, err := d.mail.Send(sendCtx, clients.Mail{
		From:    d.cfg.MailFrom,
		To:      to,
		Subject: msg.Subject,
		HTML:    dunning.ToHTML(msg.Body),
		Text:    msg.Body,
	})
	d.metrics.MailSent(d.mail.Name(), time.Since(started))
	if err != nil {
		return err
	}
	if res.MessageID != "" {
		id := res.MessageID
		entry.MessageID = &id
	}
	return nil
}

func (d *Dispatcher) notify(ctx context.Context, operatorID int64, entry domain.ReminderLog, err error) {
	if d.notifier == nil || entry.ID == "" {
		return
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	_ = d.notifier.NotifyReminder(ctx, operatorID, entry.InvoiceID, string(entry.ReminderLevel), string(entry.Status), errMsg)
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
