package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/sirupsen/logrus"
)

const (
	dashboardListSize   = 5
	recentPaymentsSize  = 10
	notificationsOnDash = 5
	maxUserEvents       = 100
)

// Store is the read side the aggregator works from, plus the event log.
type Store interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	ListLoansByLender(ctx context.Context, lenderID uuid.UUID) ([]*models.Loan, error)
	ListLoansByBorrower(ctx context.Context, borrowerID uuid.UUID) ([]*models.Loan, error)
	ListInstallments(ctx context.Context, loanIDs []uuid.UUID) ([]*models.Installment, error)
	ListPayments(ctx context.Context, loanIDs []uuid.UUID) ([]*models.Payment, error)
	ListNotificationsForUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Notification, error)
	ListRemindersForUser(ctx context.Context, userID uuid.UUID, activeOnly bool) ([]*models.Reminder, error)
	CreateEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)
}

// Service answers dashboard and analytics queries.
type Service struct {
	storage Store
	logger  *logrus.Logger
	now     func() time.Time
}

func NewService(s Store, logger *logrus.Logger) *Service {
	return &Service{storage: s, logger: logger, now: time.Now}
}

// Dashboard is the payload of the lender and client dashboards.
type Dashboard struct {
	Role                 string                 `json:"user_role"`
	Summary              Summary                `json:"summary"`
	Loans                []*models.Loan         `json:"loans"`
	RecentPayments       []*models.Payment      `json:"recent_payments"`
	OverdueInstallments  []models.Installment   `json:"overdue_installments"`
	UpcomingInstallments []models.Installment   `json:"upcoming_installments"`
	Notifications        []*models.Notification `json:"notifications"`
	Reminders            []*models.Reminder     `json:"reminders"`
}

// portfolio is everything attached to a user's loans on one side.
type portfolio struct {
	loans        []*models.Loan
	installments []models.Installment
	payments     []*models.Payment // all payments on the loans, newest first
}

func (s *Service) load(ctx context.Context, userID uuid.UUID, asLender bool, now time.Time) (*portfolio, error) {
	var loans []*models.Loan
	var err error
	if asLender {
		loans, err = s.storage.ListLoansByLender(ctx, userID)
	} else {
		loans, err = s.storage.ListLoansByBorrower(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(loans))
	for i, loan := range loans {
		ids[i] = loan.ID
	}
	installments, err := s.storage.ListInstallments(ctx, ids)
	if err != nil {
		return nil, err
	}
	payments, err := s.storage.ListPayments(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &portfolio{
		loans:        loans,
		installments: DeriveAll(installments, now),
		payments:     payments,
	}, nil
}

// own keeps the payments the user received (as lender) or made (as borrower).
func own(payments []*models.Payment, userID uuid.UUID, asLender bool) []*models.Payment {
	var out []*models.Payment
	for _, p := range payments {
		if (asLender && p.ReceiverID == userID) || (!asLender && p.PayerID == userID) {
			out = append(out, p)
		}
	}
	return out
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// LenderDashboard summarises the loans a user has given.
func (s *Service) LenderDashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	return s.dashboard(ctx, userID, true)
}

// ClientDashboard summarises the loans a user has taken.
func (s *Service) ClientDashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	return s.dashboard(ctx, userID, false)
}

func (s *Service) dashboard(ctx context.Context, userID uuid.UUID, asLender bool) (*Dashboard, error) {
	now := s.now().UTC()
	pf, err := s.load(ctx, userID, asLender, now)
	if err != nil {
		return nil, err
	}
	payments := own(pf.payments, userID, asLender)

	notifications, err := s.storage.ListNotificationsForUser(ctx, userID, notificationsOnDash)
	if err != nil {
		return nil, err
	}
	reminders, err := s.storage.ListRemindersForUser(ctx, userID, true)
	if err != nil {
		return nil, err
	}

	role := "client"
	if asLender {
		role = "lender"
	}
	d := &Dashboard{
		Role:                 role,
		Summary:              Summarize(pf.loans, payments, pf.installments, now),
		Loans:                pf.loans,
		RecentPayments:       head(payments, recentPaymentsSize),
		OverdueInstallments:  head(Overdue(pf.installments), dashboardListSize),
		UpcomingInstallments: head(Upcoming(pf.installments, now), dashboardListSize),
		Notifications:        notifications,
		Reminders:            head(reminders, dashboardListSize),
	}

	s.logger.WithFields(logrus.Fields{"user_id": userID, "role": role}).Debug("Dashboard computed")
	s.Track(ctx, TrackRequest{UserID: userID, Type: models.EventDashboardViewed, Context: map[string]interface{}{"role": role}})
	return d, nil
}

// asLender decides which side of the user's loans the role-based views show.
func (s *Service) asLender(ctx context.Context, userID uuid.UUID) (bool, error) {
	user, err := s.storage.GetUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Role == models.RoleLender, nil
}

type Stats struct {
	Role             models.Role    `json:"user_role"`
	MonthlyLoanStats []MonthlyPoint `json:"monthly_loan_stats"`
	PaymentTrends    []MonthlyPoint `json:"payment_trends"`
}

// Stats returns the monthly loan and payment series for the user's role.
func (s *Service) Stats(ctx context.Context, userID uuid.UUID) (*Stats, error) {
	asLender, err := s.asLender(ctx, userID)
	if err != nil {
		return nil, err
	}
	pf, err := s.load(ctx, userID, asLender, s.now().UTC())
	if err != nil {
		return nil, err
	}
	role := models.RoleClient
	if asLender {
		role = models.RoleLender
	}
	return &Stats{
		Role:             role,
		MonthlyLoanStats: MonthlyLoanStats(pf.loans),
		PaymentTrends:    PaymentTrends(own(pf.payments, userID, asLender)),
	}, nil
}

// LoanAnalytics reports on one loan to either of its parties.
func (s *Service) LoanAnalytics(ctx context.Context, loanID, actorID uuid.UUID) (*LoanAnalytics, error) {
	loan, err := s.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsParty(actorID) {
		return nil, apperr.Authorization("not a party to this loan")
	}
	ids := []uuid.UUID{loanID}
	installments, err := s.storage.ListInstallments(ctx, ids)
	if err != nil {
		return nil, err
	}
	payments, err := s.storage.ListPayments(ctx, ids)
	if err != nil {
		return nil, err
	}
	events, err := s.storage.ListEvents(ctx, models.EventFilter{LoanID: &loanID})
	if err != nil {
		return nil, err
	}
	report := LoanSummary(loan, DeriveAll(installments, s.now().UTC()), payments, events)
	return &report, nil
}

type PaymentReport struct {
	Payments  []*models.Payment `json:"payments"`
	Breakdown Breakdown         `json:"breakdown"`
}

// PaymentAnalytics breaks down the user's payments within an optional range.
func (s *Service) PaymentAnalytics(ctx context.Context, userID uuid.UUID, from, to *time.Time) (*PaymentReport, error) {
	if from != nil && to != nil && to.Before(*from) {
		return nil, apperr.Validation("end date is before start date")
	}
	asLender, err := s.asLender(ctx, userID)
	if err != nil {
		return nil, err
	}
	pf, err := s.load(ctx, userID, asLender, s.now().UTC())
	if err != nil {
		return nil, err
	}

	var inRange []*models.Payment
	for _, p := range own(pf.payments, userID, asLender) {
		if (from == nil || !p.PaymentDate.Before(*from)) && (to == nil || !p.PaymentDate.After(*to)) {
			inRange = append(inRange, p)
		}
	}
	return &PaymentReport{Payments: inRange, Breakdown: PaymentBreakdown(inRange, nil, nil)}, nil
}

// QuickActions returns the role-specific dashboard shortcuts.
func (s *Service) QuickActions(ctx context.Context, userID uuid.UUID) ([]QuickAction, error) {
	asLender, err := s.asLender(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	pf, err := s.load(ctx, userID, asLender, now)
	if err != nil {
		return nil, err
	}
	overdue := len(Overdue(pf.installments))
	if asLender {
		pending := 0
		for _, loan := range pf.loans {
			if loan.Status == models.LoanStatusPending {
				pending++
			}
		}
		return LenderActions(pending, overdue), nil
	}
	return ClientActions(len(Upcoming(pf.installments, now)), overdue), nil
}

// RecentActivity returns the user's latest payments and loans as one feed.
func (s *Service) RecentActivity(ctx context.Context, userID uuid.UUID, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 10
	}
	asLender, err := s.asLender(ctx, userID)
	if err != nil {
		return nil, err
	}
	pf, err := s.load(ctx, userID, asLender, s.now().UTC())
	if err != nil {
		return nil, err
	}
	return RecentActivity(asLender, head(own(pf.payments, userID, asLender), 5), head(pf.loans, 3), limit), nil
}
