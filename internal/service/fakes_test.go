package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"dunning-service/internal/clients"
	"dunning-service/internal/domain"
)

type fakeInvoices struct {
	mu       sync.Mutex
	invoices map[string]domain.Invoice
	updates  int
}

func newFakeInvoices(invs ...domain.Invoice) *fakeInvoices {
	f := &fakeInvoices{invoices: make(map[string]domain.Invoice)}
	for _, inv := range invs {
		f.invoices[inv.ID] = inv
	}
	return f
}

func (f *fakeInvoices) FindByID(_ context.Context, organizationID, id string) (*domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok || inv.OrganizationID != organizationID {
		return nil, domain.ErrInvoiceNotFound
	}
	return &inv, nil
}

func (f *fakeInvoices) ListOpen(_ context.Context, organizationID string) ([]domain.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Invoice
	for _, inv := range f.invoices {
		if inv.OrganizationID != organizationID {
			continue
		}
		if inv.Status != domain.InvoiceStatusSent && inv.Status != domain.InvoiceStatusOverdue {
			continue
		}
		if !inv.OpenAmount().IsPositive() {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (f *fakeInvoices) UpdateStatus(_ context.Context, id string, from, to domain.InvoiceStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invoices[id]
	if !ok || inv.Status != from {
		return domain.ErrInvoiceNotFound
	}
	inv.Status = to
	f.invoices[id] = inv
	f.updates++
	return nil
}

func (f *fakeInvoices) status(id string) domain.InvoiceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.invoices[id].Status
}

type fakeCustomers map[string]domain.Customer

func (f fakeCustomers) FindByID(_ context.Context, _ string, id string) (*domain.Customer, error) {
	c, ok := f[id]
	if !ok {
		return nil, domain.ErrCustomerNotFound
	}
	return &c, nil
}

type fakeSettingsRepo struct {
	mu       sync.Mutex
	reminder map[string]domain.ReminderSettings
	company  map[string]domain.CompanySettings
	orgs     []string
	reads    int
}

func newFakeSettingsRepo() *fakeSettingsRepo {
	return &fakeSettingsRepo{
		reminder: make(map[string]domain.ReminderSettings),
		company:  make(map[string]domain.CompanySettings),
	}
}

func (f *fakeSettingsRepo) ReminderSettings(_ context.Context, organizationID string) (*domain.ReminderSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	s, ok := f.reminder[organizationID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeSettingsRepo) SaveReminderSettings(_ context.Context, organizationID string, s domain.ReminderSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reminder[organizationID] = s
	return nil
}

func (f *fakeSettingsRepo) CompanySettings(_ context.Context, organizationID string) (*domain.CompanySettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.company[organizationID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (f *fakeSettingsRepo) OrganizationIDs(context.Context) ([]string, error) {
	return f.orgs, nil
}

// mapCache covers both the settings cache and the export status store.
type mapCache struct {
	mu   sync.Mutex
	kv   map[string]string
	sets map[string]map[string]struct{}
}

func newMapCache() *mapCache {
	return &mapCache{kv: make(map[string]string), sets: make(map[string]map[string]struct{})}
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.kv[key]
	if !ok {
		return "", clients.ErrCacheMiss
	}
	return v, nil
}

func (c *mapCache) Set(_ context.Context, key string, value any, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := value.(type) {
	case string:
		c.kv[key] = v
	case []byte:
		c.kv[key] = string(v)
	default:
		return errors.New("unsupported value type")
	}
	return nil
}

func (c *mapCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.kv, k)
	}
	return nil
}

func (c *mapCache) SAdd(_ context.Context, key string, members ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.sets[key]
	if !ok {
		set = make(map[string]struct{})
		c.sets[key] = set
	}
	for _, m := range members {
		set[m.(string)] = struct{}{}
	}
	return nil
}

func (c *mapCache) SMembers(_ context.Context, key string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for m := range c.sets[key] {
		out = append(out, m)
	}
	return out, nil
}

func (c *mapCache) SRem(_ context.Context, key string, members ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range members {
		delete(c.sets[key], m.(string))
	}
	return nil
}

type fakeMail struct {
	mu   sync.Mutex
	sent []clients.Mail
	err  error
}

func (f *fakeMail) Send(_ context.Context, m clients.Mail) (clients.MailResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return clients.MailResult{}, f.err
	}
	f.sent = append(f.sent, m)
	return clients.MailResult{MessageID: "msg-" + m.To}, nil
}

func (f *fakeMail) Name() string { return "fake" }

func (f *fakeMail) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type notification struct {
	userID    int64
	invoiceID string
	level     string
	status    string
	errMsg    string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notification
	runs  map[string]Summary
}

func (f *fakeNotifier) NotifyRunFinished(_ context.Context, organizationID string, sum Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.runs == nil {
		f.runs = make(map[string]Summary)
	}
	f.runs[organizationID] = sum
	return nil
}

func (f *fakeNotifier) NotifyReminder(_ context.Context, userID int64, invoiceID, level, status, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notification{userID, invoiceID, level, status, errMsg})
	return nil
}

type exportEvent struct {
	kind     string
	progress float64
	url      string
}

type fakeExportNotifier struct {
	mu     sync.Mutex
	events []exportEvent
	done   chan struct{}
}

func newFakeExportNotifier() *fakeExportNotifier {
	return &fakeExportNotifier{done: make(chan struct{}, 1)}
}

func (f *fakeExportNotifier) NotifyExportProgress(_ context.Context, _ int64, _ string, progress float64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, exportEvent{kind: "progress", progress: progress})
	return nil
}

func (f *fakeExportNotifier) NotifyExportComplete(_ context.Context, _ int64, _ string, url string, _ string) error {
	f.mu.Lock()
	f.events = append(f.events, exportEvent{kind: "complete", url: url})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeExportNotifier) NotifyExportFailed(_ context.Context, _ int64, _ string, errMsg string) error {
	f.mu.Lock()
	f.events = append(f.events, exportEvent{kind: "failed", url: errMsg})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

type fakeFiles struct {
	mu    sync.Mutex
	files map[string][]byte
}

func (f *fakeFiles) Upload(_ context.Context, fileName string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = make(map[string][]byte)
	}
	f.files[fileName] = data
	return "http://files.local/" + strings.TrimPrefix(fileName, "/"), nil
}
