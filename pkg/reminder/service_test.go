package reminder

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/sirupsen/logrus"
)

// MockStore is a simple in-memory implementation of the Store interface for testing.
type MockStore struct {
	loans         map[uuid.UUID]*models.Loan
	installments  map[uuid.UUID]*models.Installment
	reminders     map[uuid.UUID]*models.Reminder
	notifications map[uuid.UUID]*models.Notification
}

func NewMockStore() *MockStore {
	return &MockStore{
		loans:         make(map[uuid.UUID]*models.Loan),
		installments:  make(map[uuid.UUID]*models.Installment),
		reminders:     make(map[uuid.UUID]*models.Reminder),
		notifications: make(map[uuid.UUID]*models.Notification),
	}
}

func (m *MockStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	if l, ok := m.loans[id]; ok {
		return l, nil
	}
	return nil, apperr.NotFound("loan not found")
}

func (m *MockStore) GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error) {
	if i, ok := m.installments[id]; ok {
		return i, nil
	}
	return nil, apperr.NotFound("installment not found")
}

func (m *MockStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	c := *r
	m.reminders[r.ID] = &c
	return nil
}

func (m *MockStore) GetReminder(ctx context.Context, id uuid.UUID) (*models.Reminder, error) {
	if r, ok := m.reminders[id]; ok {
		c := *r
		return &c, nil
	}
	return nil, apperr.NotFound("reminder not found")
}

func (m *MockStore) UpdateReminder(ctx context.Context, r *models.Reminder) error {
	if _, ok := m.reminders[r.ID]; !ok {
		return apperr.NotFound("reminder not found")
	}
	c := *r
	m.reminders[r.ID] = &c
	return nil
}

func (m *MockStore) ListRemindersForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*models.Reminder, error) {
	var out []*models.Reminder
	for _, r := range m.reminders {
		if r.UserID == userID && (!activeOnly || r.IsActive) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockStore) GetNotification(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	if n, ok := m.notifications[id]; ok {
		c := *n
		return &c, nil
	}
	return nil, apperr.NotFound("notification not found")
}

func (m *MockStore) UpdateNotification(ctx context.Context, n *models.Notification) error {
	c := *n
	m.notifications[n.ID] = &c
	return nil
}

func (m *MockStore) ListNotificationsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error) {
	var out []*models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID && len(out) < limit {
			out = append(out, n)
		}
	}
	return out, nil
}

type fixture struct {
	store    *MockStore
	service  *Service
	loan     *models.Loan
	inst     *models.Installment
	lender   uuid.UUID
	borrower uuid.UUID
}

func newFixture() *fixture {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	f := &fixture{store: NewMockStore(), lender: uuid.New(), borrower: uuid.New()}
	f.service = NewService(f.store, logger)
	f.service.now = func() time.Time { return date(2024, time.January, 1) }

	f.loan = &models.Loan{ID: uuid.New(), LenderID: f.lender, BorrowerID: f.borrower, Status: models.LoanStatusActive}
	f.store.loans[f.loan.ID] = f.loan
	f.inst = &models.Installment{ID: uuid.New(), LoanID: f.loan.ID, DueDate: date(2024, time.January, 10)}
	f.store.installments[f.inst.ID] = f.inst
	return f
}

func (f *fixture) request() Request {
	return Request{
		CreatorID:     f.lender,
		RecipientID:   &f.borrower,
		LoanID:        f.loan.ID,
		InstallmentID: &f.inst.ID,
		Type:          models.ReminderPaymentDue,
		Title:         "Installment due",
		Message:       "Your installment is due on the 10th",
		ScheduledDate: date(2024, time.January, 7),
	}
}

func TestCreateReminderDefaults(t *testing.T) {
	f := newFixture()

	r, err := f.service.Create(context.Background(), f.request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if r.UserID != f.borrower {
		t.Errorf("Expected reminder for the borrower, got %s", r.UserID)
	}
	if r.Status != models.ReminderScheduled || !r.IsActive {
		t.Errorf("Expected active scheduled reminder, got %s", r.Status)
	}
	if len(r.Channels) != 1 || r.Channels[0] != models.ChannelInApp {
		t.Errorf("Expected default in-app channel, got %v", r.Channels)
	}
	if r.Priority != models.PriorityMedium || r.Frequency != models.RecurOnce {
		t.Errorf("Expected default priority and frequency, got %s/%s", r.Priority, r.Frequency)
	}
	if r.DueDate == nil || !r.DueDate.Equal(f.inst.DueDate) {
		t.Errorf("Expected due date taken from the installment, got %v", r.DueDate)
	}
	if _, ok := f.store.reminders[r.ID]; !ok {
		t.Errorf("Expected reminder to be stored")
	}
}

func TestCreateReminderErrors(t *testing.T) {
	f := newFixture()
	outsider := uuid.New()
	otherInst := &models.Installment{ID: uuid.New(), LoanID: uuid.New()}
	f.store.installments[otherInst.ID] = otherInst

	tests := []struct {
		name   string
		modify func(r *Request)
		kind   apperr.Kind
	}{
		{"bad type", func(r *Request) { r.Type = "nag" }, apperr.KindValidation},
		{"missing title", func(r *Request) { r.Title = "" }, apperr.KindValidation},
		{"missing schedule", func(r *Request) { r.ScheduledDate = time.Time{} }, apperr.KindValidation},
		{"bad channel", func(r *Request) { r.Channels = []models.Channel{"pigeon"} }, apperr.KindValidation},
		{"bad frequency", func(r *Request) { r.Frequency = "hourly" }, apperr.KindValidation},
		{"unknown loan", func(r *Request) { r.LoanID = uuid.New() }, apperr.KindNotFound},
		{"outside creator", func(r *Request) { r.CreatorID = outsider }, apperr.KindAuthorization},
		{"outside recipient", func(r *Request) { r.RecipientID = &outsider }, apperr.KindAuthorization},
		{"foreign installment", func(r *Request) { r.InstallmentID = &otherInst.ID }, apperr.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request()
			tt.modify(&req)
			if _, err := f.service.Create(context.Background(), req); !apperr.Is(err, tt.kind) {
				t.Errorf("Expected error kind %v, got %v", tt.kind, err)
			}
		})
	}
}

func TestAcknowledgeAndCancelReminder(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	r, err := f.service.Create(ctx, f.request())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := f.service.Acknowledge(ctx, r.ID, f.lender, "", ""); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("Expected only the recipient to acknowledge, got %v", err)
	}
	if _, err := f.service.Acknowledge(ctx, r.ID, f.borrower, "", "shrug"); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected invalid action to be rejected, got %v", err)
	}
	acked, err := f.service.Acknowledge(ctx, r.ID, f.borrower, "will pay friday", models.ActionPaymentScheduled)
	if err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if !f.store.reminders[acked.ID].UserResponse.IsAcknowledged {
		t.Errorf("Expected acknowledgement to be persisted")
	}

	if _, err := f.service.Cancel(ctx, r.ID, uuid.New()); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("Expected outsider cancel to be refused, got %v", err)
	}
	if _, err := f.service.Cancel(ctx, r.ID, f.lender); err != nil {
		t.Fatalf("Expected lender to cancel, got %v", err)
	}
	if f.store.reminders[r.ID].IsActive {
		t.Errorf("Expected cancelled reminder to be inactive")
	}
	if _, err := f.service.Cancel(ctx, r.ID, f.borrower); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected second cancel to be invalid, got %v", err)
	}

	active, _ := f.service.List(ctx, f.borrower, true)
	if len(active) != 0 {
		t.Errorf("Expected no active reminders, got %d", len(active))
	}
}

func TestNotificationReadAndAction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	n := &models.Notification{ID: uuid.New(), UserID: f.borrower, Status: models.NotificationSent}
	f.store.notifications[n.ID] = n

	if _, err := f.service.MarkRead(ctx, n.ID, f.lender); !apperr.Is(err, apperr.KindAuthorization) {
		t.Errorf("Expected other users to be refused, got %v", err)
	}
	read, err := f.service.MarkRead(ctx, n.ID, f.borrower)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if !read.IsRead || !f.store.notifications[n.ID].IsRead {
		t.Errorf("Expected notification to be read and persisted")
	}
	if _, err := f.service.MarkActionTaken(ctx, n.ID, f.borrower); err != nil {
		t.Fatalf("MarkActionTaken failed: %v", err)
	}
	if !f.store.notifications[n.ID].ActionTaken {
		t.Errorf("Expected action to be persisted")
	}

	list, err := f.service.Notifications(ctx, f.borrower, 0)
	if err != nil || len(list) != 1 {
		t.Errorf("Expected 1 notification, got %d (%v)", len(list), err)
	}
}
