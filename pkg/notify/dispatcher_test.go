package notify

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MockStore is a simple in-memory implementation of the Store interface for testing.
type MockStore struct {
	users         map[uuid.UUID]*models.User
	installments  map[uuid.UUID]*models.Installment
	reminders     map[uuid.UUID]*models.Reminder
	notifications []*models.Notification
	events        []*models.Event
}

func NewMockStore() *MockStore {
	return &MockStore{
		users:        make(map[uuid.UUID]*models.User),
		installments: make(map[uuid.UUID]*models.Installment),
		reminders:    make(map[uuid.UUID]*models.Reminder),
	}
}

func (m *MockStore) ListDueReminders(ctx context.Context, before time.Time) ([]*models.Reminder, error) {
	var out []*models.Reminder
	for _, r := range m.reminders {
		if r.Status == models.ReminderScheduled && r.IsActive && !r.ScheduledDate.After(before) {
			c := *r
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockStore) UpdateReminder(ctx context.Context, r *models.Reminder) error {
	c := *r
	m.reminders[r.ID] = &c
	return nil
}

func (m *MockStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, apperr.NotFound("user not found")
}

func (m *MockStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	if i, ok := m.installments[id]; ok {
		c := *i
		return &c, nil
	}
	return nil, apperr.NotFound("installment not found")
}

func (m *MockStore) UpdateInstallment(ctx context.Context, inst *models.Installment) error {
	c := *inst
	m.installments[inst.ID] = &c
	return nil
}

func (m *MockStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *MockStore) UpdateNotification(ctx context.Context, n *models.Notification) error {
	for i, stored := range m.notifications {
		if stored.ID == n.ID {
			c := *n
			m.notifications[i] = &c
			return nil
		}
	}
	return apperr.NotFound("notification not found")
}

func (m *MockStore) ListRetryableNotifications(ctx context.Context, maxRetries int) ([]*models.Notification, error) {
	var out []*models.Notification
	for _, n := range m.notifications {
		if !n.IsRead && n.RetryCount > 0 && n.RetryCount < maxRetries && len(failedChannels(*n)) > 0 {
			c := *n
			out = append(out, &c)
		}
	}
	return out, nil
}

func (m *MockStore) CreateEvent(ctx context.Context, e *models.Event) error {
	m.events = append(m.events, e)
	return nil
}

type fakeSender struct {
	err  error
	sent []Message
}

func (f *fakeSender) Send(ctx context.Context, msg Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sent = append(f.sent, msg)
	return "fake-1", nil
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	store *MockStore
	email *fakeSender
	d     *Dispatcher
	user  *models.User
	inst  *models.Installment
}

func newFixture() *fixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{store: NewMockStore(), email: &fakeSender{}}
	f.d = NewDispatcher(f.store, map[models.Channel]Sender{
		models.ChannelInApp: InAppSender{},
		models.ChannelEmail: f.email,
	}, logger)

	f.user = &models.User{ID: uuid.New(), Email: "borrower@example.com"}
	f.store.users[f.user.ID] = f.user
	f.inst = &models.Installment{
		ID:          uuid.New(),
		LoanID:      uuid.New(),
		TotalAmount: decimal.NewFromInt(500),
		PaidAmount:  decimal.Zero,
		DueDate:     date(2024, time.January, 10),
	}
	f.store.installments[f.inst.ID] = f.inst
	return f
}

func (f *fixture) addReminder(channels ...models.Channel) *models.Reminder {
	r := &models.Reminder{
		ID:            uuid.New(),
		UserID:        f.user.ID,
		LoanID:        f.inst.LoanID,
		InstallmentID: &f.inst.ID,
		Type:          models.ReminderPaymentDue,
		Title:         "Installment due",
		Message:       "Please pay 500",
		ScheduledDate: date(2024, time.January, 8),
		Priority:      models.PriorityMedium,
		Status:        models.ReminderScheduled,
		Channels:      channels,
		Frequency:     models.RecurOnce,
		IsActive:      true,
	}
	f.store.reminders[r.ID] = r
	return r
}

func TestDispatchDueSendsAndNotifies(t *testing.T) {
	f := newFixture()
	f.email.err = errors.New("smtp down")
	r := f.addReminder(models.ChannelEmail, models.ChannelInApp)
	now := date(2024, time.January, 8).Add(time.Hour)

	report, err := f.d.DispatchDue(context.Background(), now)
	if err != nil {
		t.Fatalf("DispatchDue failed: %v", err)
	}
	if report.Processed != 1 || report.Sent != 1 || report.Errors != 0 {
		t.Errorf("Unexpected report %+v", report)
	}

	stored := f.store.reminders[r.ID]
	if stored.Status != models.ReminderSent {
		t.Errorf("Expected one working channel to mark the reminder sent, got %s", stored.Status)
	}
	if len(stored.DeliveryAttempts) != 2 {
		t.Errorf("Expected 2 delivery attempts, got %d", len(stored.DeliveryAttempts))
	}

	if len(f.store.notifications) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(f.store.notifications))
	}
	n := f.store.notifications[0]
	if n.UserID != f.user.ID || n.Type != models.NotifyPaymentReminder {
		t.Errorf("Unexpected notification %+v", n)
	}
	if n.DeliveryStatus[models.ChannelEmail].Status != models.ChannelFailed || n.DeliveryStatus[models.ChannelInApp].Status != models.ChannelSent {
		t.Errorf("Unexpected delivery status %+v", n.DeliveryStatus)
	}
	if n.Data.Amount == nil || !n.Data.Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("Expected remaining amount on the notification, got %v", n.Data.Amount)
	}

	if len(f.store.events) != 1 || f.store.events[0].Type != models.EventReminderSent {
		t.Errorf("Expected a reminder_sent event, got %+v", f.store.events)
	}
	if f.store.installments[f.inst.ID].RemindersSent != 1 {
		t.Errorf("Expected installment reminder count to be bumped")
	}

	// Sent reminders are not picked up again.
	report, _ = f.d.DispatchDue(context.Background(), now.Add(time.Hour))
	if report.Processed != 0 {
		t.Errorf("Expected nothing left to dispatch, got %d", report.Processed)
	}
}

func TestDispatchDueAllChannelsFail(t *testing.T) {
	f := newFixture()
	f.email.err = errors.New("smtp down")
	r := f.addReminder(models.ChannelEmail, models.ChannelSMS)

	report, _ := f.d.DispatchDue(context.Background(), date(2024, time.January, 9))
	if report.Failed != 1 || report.Sent != 0 {
		t.Errorf("Unexpected report %+v", report)
	}
	if f.store.reminders[r.ID].Status != models.ReminderFailed {
		t.Errorf("Expected failed reminder, got %s", f.store.reminders[r.ID].Status)
	}
	if len(f.store.notifications) != 0 {
		t.Errorf("Expected no notification when nothing was delivered")
	}
}

func TestDispatchDueExpiresAndSkips(t *testing.T) {
	f := newFixture()
	expired := f.addReminder(models.ChannelInApp)
	expiresAt := date(2024, time.January, 8).Add(time.Minute)
	expired.ExpiresAt = &expiresAt

	skipped := f.addReminder(models.ChannelInApp)
	skipped.Conditions.OnlyIfUnpaid = true
	f.inst.PaidAmount = decimal.NewFromInt(500)

	report, _ := f.d.DispatchDue(context.Background(), date(2024, time.January, 9))
	if report.Expired != 1 || report.Skipped != 1 || report.Sent != 0 {
		t.Errorf("Unexpected report %+v", report)
	}
	if f.store.reminders[expired.ID].Status != models.ReminderExpired {
		t.Errorf("Expected expired reminder, got %s", f.store.reminders[expired.ID].Status)
	}
	if f.store.reminders[skipped.ID].Status != models.ReminderScheduled {
		t.Errorf("Expected skipped reminder to stay scheduled, got %s", f.store.reminders[skipped.ID].Status)
	}
}

func TestDispatchDueReschedulesRecurring(t *testing.T) {
	f := newFixture()
	r := f.addReminder(models.ChannelInApp)
	r.Frequency = models.RecurWeekly
	r.Recurring.MaxOccurrences = 2

	f.d.DispatchDue(context.Background(), date(2024, time.January, 8).Add(time.Hour))
	stored := f.store.reminders[r.ID]
	if stored.Status != models.ReminderScheduled || !stored.ScheduledDate.Equal(date(2024, time.January, 15)) {
		t.Fatalf("Expected reschedule to Jan 15, got %s %v", stored.Status, stored.ScheduledDate)
	}

	f.d.DispatchDue(context.Background(), date(2024, time.January, 15).Add(time.Hour))
	stored = f.store.reminders[r.ID]
	if stored.IsActive {
		t.Errorf("Expected reminder to stop after its last occurrence")
	}
	if len(f.store.notifications) != 2 {
		t.Errorf("Expected 2 notifications, got %d", len(f.store.notifications))
	}
}

func TestDispatchDueEscalates(t *testing.T) {
	f := newFixture()
	lender := uuid.New()
	r := f.addReminder(models.ChannelInApp)
	due := date(2024, time.January, 10)
	r.DueDate = &due
	r.ScheduledDate = date(2024, time.January, 14)
	r.Escalation = models.Escalation{EscalateAfterDays: 3, EscalateToUserID: &lender, Message: "Borrower has not paid"}

	report, _ := f.d.DispatchDue(context.Background(), date(2024, time.January, 14))
	if report.Escalated != 1 {
		t.Fatalf("Expected escalation, got %+v", report)
	}
	if !f.store.reminders[r.ID].Escalation.IsEscalated {
		t.Errorf("Expected escalation to be persisted")
	}

	var found bool
	for _, n := range f.store.notifications {
		if n.UserID == lender && n.Message == "Borrower has not paid" && n.Priority == models.PriorityUrgent {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected escalation notification for the lender")
	}
}

func TestDispatchDueCountsErrors(t *testing.T) {
	f := newFixture()
	r := f.addReminder(models.ChannelInApp)
	r.UserID = uuid.New()

	report, err := f.d.DispatchDue(context.Background(), date(2024, time.January, 9))
	if err != nil {
		t.Fatalf("Expected per-reminder errors not to abort the sweep, got %v", err)
	}
	if report.Errors != 1 {
		t.Errorf("Expected 1 error, got %+v", report)
	}
}
