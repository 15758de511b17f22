// Package analytics computes read-only rollups over a user's loans,
// installments and payments, and keeps the analytics event log.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	day            = 24 * time.Hour
	upcomingWindow = 7 // days
)

// Summary is the headline block of a dashboard.
type Summary struct {
	TotalLoans     int             `json:"total_loans"`
	PendingLoans   int             `json:"pending_loans"`
	ActiveLoans    int             `json:"active_loans"`
	CompletedLoans int             `json:"completed_loans"`
	DefaultedLoans int             `json:"defaulted_loans"`
	CanceledLoans  int             `json:"canceled_loans"`
	TotalPrincipal decimal.Decimal `json:"total_principal"`
	TotalCollected decimal.Decimal `json:"total_collected"`
	Remaining      decimal.Decimal `json:"remaining_amount"`
	TotalPenalty   decimal.Decimal `json:"total_penalty"`
	OverdueCount   int             `json:"overdue_count"`
	UpcomingCount  int             `json:"upcoming_count"`
}

// Summarize rolls up loans, the payments that count towards the user's
// collected total, and installments already derived at the current time.
func Summarize(loans []*models.Loan, payments []*models.Payment, installments []models.Installment, now time.Time) Summary {
	s := Summary{
		TotalLoans:     len(loans),
		TotalPrincipal: decimal.Zero,
		TotalCollected: decimal.Zero,
		TotalPenalty:   decimal.Zero,
	}
	for _, loan := range loans {
		switch loan.Status {
		case models.LoanStatusPending:
			s.PendingLoans++
		case models.LoanStatusActive:
			s.ActiveLoans++
		case models.LoanStatusCompleted:
			s.CompletedLoans++
		case models.LoanStatusDefaulted:
			s.DefaultedLoans++
		case models.LoanStatusCanceled:
			s.CanceledLoans++
		}
		s.TotalPrincipal = s.TotalPrincipal.Add(loan.Principal)
	}
	for _, p := range payments {
		if p.Status.Counted() {
			s.TotalCollected = s.TotalCollected.Add(p.Amount)
		}
	}
	s.Remaining = s.TotalPrincipal.Sub(s.TotalCollected)

	for _, inst := range installments {
		s.TotalPenalty = s.TotalPenalty.Add(inst.PenaltyAmount)
	}
	s.OverdueCount = len(Overdue(installments))
	s.UpcomingCount = len(Upcoming(installments, now))
	return s
}

// DeriveAll re-derives stored installments at now.
func DeriveAll(installments []*models.Installment, now time.Time) []models.Installment {
	out := make([]models.Installment, len(installments))
	for i, inst := range installments {
		out[i] = ledger.DeriveInstallment(*inst, now)
	}
	return out
}

// Overdue keeps the installments whose derived status is overdue.
func Overdue(installments []models.Installment) []models.Installment {
	var out []models.Installment
	for _, inst := range installments {
		if inst.Status == models.InstallmentOverdue {
			out = append(out, inst)
		}
	}
	return out
}

// IsUpcoming reports whether a pending installment falls due within the
// next seven days, counting partial days as whole ones.
func IsUpcoming(inst models.Installment, now time.Time) bool {
	if inst.Status != models.InstallmentPending || inst.DueDate.IsZero() {
		return false
	}
	diffDays := int(math.Ceil(float64(inst.DueDate.Sub(now)) / float64(day)))
	return diffDays >= 0 && diffDays <= upcomingWindow
}

// Upcoming keeps the installments for which IsUpcoming holds, soonest first.
func Upcoming(installments []models.Installment, now time.Time) []models.Installment {
	var out []models.Installment
	for _, inst := range installments {
		if IsUpcoming(inst, now) {
			out = append(out, inst)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out
}

// MonthlyPoint aggregates one calendar month.
type MonthlyPoint struct {
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"total_amount"`
}

type monthKey struct{ year, month int }

type monthly map[monthKey]*MonthlyPoint

func (m monthly) add(at time.Time, amount decimal.Decimal) {
	at = at.UTC()
	k := monthKey{at.Year(), int(at.Month())}
	p, ok := m[k]
	if !ok {
		p = &MonthlyPoint{Year: k.year, Month: k.month, Amount: decimal.Zero}
		m[k] = p
	}
	p.Count++
	p.Amount = p.Amount.Add(amount)
}

func (m monthly) sorted() []MonthlyPoint {
	out := make([]MonthlyPoint, 0, len(m))
	for _, p := range m {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}

// MonthlyLoanStats groups loans by the month they were created.
func MonthlyLoanStats(loans []*models.Loan) []MonthlyPoint {
	m := monthly{}
	for _, loan := range loans {
		m.add(loan.CreatedAt, loan.Principal)
	}
	return m.sorted()
}

// PaymentTrends groups counted payments by the month they were made.
func PaymentTrends(payments []*models.Payment) []MonthlyPoint {
	m := monthly{}
	for _, p := range payments {
		if p.Status.Counted() {
			m.add(p.PaymentDate, p.Amount)
		}
	}
	return m.sorted()
}

// HistoryEntry is one line of a loan's payment history.
type HistoryEntry struct {
	PaymentID uuid.UUID            `json:"payment_id"`
	Date      time.Time            `json:"date"`
	Amount    decimal.Decimal      `json:"amount"`
	Method    models.PaymentMethod `json:"method"`
	Status    models.PaymentStatus `json:"status"`
}

type LoanSummaryFigures struct {
	TotalPaid           decimal.Decimal `json:"total_paid"`
	RemainingAmount     decimal.Decimal `json:"remaining_amount"`
	PaidInstallments    int             `json:"paid_installments"`
	OverdueInstallments int             `json:"overdue_installments"`
	TotalInstallments   int             `json:"total_installments"`
	NextDueDate         *time.Time      `json:"next_due_date,omitempty"`
	LatePayments        int             `json:"late_payments"`
	AverageDaysLate     decimal.Decimal `json:"average_days_late"`
}

// LoanAnalytics is the per-loan report behind GET /loans/{id}/analytics.
type LoanAnalytics struct {
	LoanID         uuid.UUID          `json:"loan_id"`
	Summary        LoanSummaryFigures `json:"summary"`
	PaymentHistory []HistoryEntry     `json:"payment_history"`
	Events         []*models.Event    `json:"events"`
}

// LoanSummary reports on a single loan. Only payments whose loan id matches
// the loan contribute, and only counted ones add to the total paid.
func LoanSummary(loan *models.Loan, installments []models.Installment, payments []*models.Payment, events []*models.Event) LoanAnalytics {
	out := LoanAnalytics{
		LoanID:         loan.ID,
		PaymentHistory: []HistoryEntry{},
		Events:         events,
	}
	out.Summary.TotalPaid = decimal.Zero
	out.Summary.AverageDaysLate = decimal.Zero

	var loanPayments []*models.Payment
	for _, p := range payments {
		if p.LoanID == loan.ID {
			loanPayments = append(loanPayments, p)
		}
	}
	sort.SliceStable(loanPayments, func(i, j int) bool {
		return loanPayments[i].PaymentDate.After(loanPayments[j].PaymentDate)
	})

	daysLate := 0
	for _, p := range loanPayments {
		out.PaymentHistory = append(out.PaymentHistory, HistoryEntry{
			PaymentID: p.ID,
			Date:      p.PaymentDate,
			Amount:    p.Amount,
			Method:    p.Method,
			Status:    p.Status,
		})
		if !p.Status.Counted() {
			continue
		}
		out.Summary.TotalPaid = out.Summary.TotalPaid.Add(p.Amount)
		if p.Metadata.IsLatePayment {
			out.Summary.LatePayments++
			daysLate += p.Metadata.DaysLate
		}
	}
	if out.Summary.LatePayments > 0 {
		out.Summary.AverageDaysLate = decimal.NewFromInt(int64(daysLate)).
			Div(decimal.NewFromInt(int64(out.Summary.LatePayments))).Round(1)
	}

	remaining := loan.Principal.Sub(out.Summary.TotalPaid)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	out.Summary.RemainingAmount = remaining

	out.Summary.TotalInstallments = len(installments)
	for _, inst := range installments {
		switch inst.Status {
		case models.InstallmentPaid:
			out.Summary.PaidInstallments++
		case models.InstallmentOverdue:
			out.Summary.OverdueInstallments++
		}
		if inst.Status != models.InstallmentPaid && (out.Summary.NextDueDate == nil || inst.DueDate.Before(*out.Summary.NextDueDate)) {
			due := inst.DueDate
			out.Summary.NextDueDate = &due
		}
	}
	return out
}

// Bucket is one group of a payment breakdown.
type Bucket struct {
	Key   string          `json:"key"`
	Count int             `json:"count"`
	Total decimal.Decimal `json:"total"`
}

type Breakdown struct {
	TotalPayments  int             `json:"total_payments"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AveragePayment decimal.Decimal `json:"average_payment"`
	ByMethod       []Bucket        `json:"by_method"`
	ByStatus       []Bucket        `json:"by_status"`
}

// PaymentBreakdown totals payments by method and by status. A nil bound
// leaves that side of the date range open.
func PaymentBreakdown(payments []*models.Payment, from, to *time.Time) Breakdown {
	b := Breakdown{TotalAmount: decimal.Zero, AveragePayment: decimal.Zero}
	byMethod := map[string]*Bucket{}
	byStatus := map[string]*Bucket{}

	for _, p := range payments {
		if from != nil && p.PaymentDate.Before(*from) {
			continue
		}
		if to != nil && p.PaymentDate.After(*to) {
			continue
		}
		b.TotalPayments++
		b.TotalAmount = b.TotalAmount.Add(p.Amount)
		addBucket(byMethod, string(p.Method), p.Amount)
		addBucket(byStatus, string(p.Status), p.Amount)
	}
	if b.TotalPayments > 0 {
		b.AveragePayment = b.TotalAmount.Div(decimal.NewFromInt(int64(b.TotalPayments))).Round(2)
	}
	b.ByMethod = sortedBuckets(byMethod)
	b.ByStatus = sortedBuckets(byStatus)
	return b
}

func addBucket(m map[string]*Bucket, key string, amount decimal.Decimal) {
	bk, ok := m[key]
	if !ok {
		bk = &Bucket{Key: key, Total: decimal.Zero}
		m[key] = bk
	}
	bk.Count++
	bk.Total = bk.Total.Add(amount)
}

func sortedBuckets(m map[string]*Bucket) []Bucket {
	out := make([]Bucket, 0, len(m))
	for _, bk := range m {
		out = append(out, *bk)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// QuickAction is a dashboard shortcut with an optional badge count.
type QuickAction struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Action      string          `json:"action"`
	Count       *int            `json:"count"`
	Priority    models.Priority `json:"priority"`
}

func badge(n int, hot models.Priority) (*int, models.Priority) {
	if n > 0 {
		return &n, hot
	}
	return &n, models.PriorityLow
}

// LenderActions builds the lender's shortcuts from the pending loan count and
// the number of overdue installments across their loans.
func LenderActions(pendingLoans, overdue int) []QuickAction {
	pendingCount, pendingPriority := badge(pendingLoans, models.PriorityHigh)
	overdueCount, overduePriority := badge(overdue, models.PriorityUrgent)
	return []QuickAction{
		{Title: "Create new loan", Description: "Set up a new loan agreement", Action: "create_loan", Priority: models.PriorityMedium},
		{Title: "Pending approvals", Description: "Loans waiting for activation", Action: "view_pending_loans", Count: pendingCount, Priority: pendingPriority},
		{Title: "Overdue payments", Description: "Installments past their due date", Action: "view_overdue", Count: overdueCount, Priority: overduePriority},
	}
}

// ClientActions builds the borrower's shortcuts.
func ClientActions(upcoming, overdue int) []QuickAction {
	upcomingCount, upcomingPriority := badge(upcoming, models.PriorityHigh)
	overdueCount, overduePriority := badge(overdue, models.PriorityUrgent)
	return []QuickAction{
		{Title: "Make payment", Description: "Pay your loan installments", Action: "make_payment", Priority: models.PriorityMedium},
		{Title: "Upcoming payments", Description: "Installments due in the next 7 days", Action: "view_upcoming", Count: upcomingCount, Priority: upcomingPriority},
		{Title: "Overdue payments", Description: "Installments past their due date", Action: "view_overdue", Count: overdueCount, Priority: overduePriority},
	}
}

// Activity is one entry of the recent activity feed.
type Activity struct {
	Type   string          `json:"type"`
	Title  string          `json:"title"`
	LoanID uuid.UUID       `json:"loan_id"`
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"`
}

// RecentActivity merges the latest payments and loans, newest first.
func RecentActivity(asLender bool, payments []*models.Payment, loans []*models.Loan, limit int) []Activity {
	paymentTitle, loanTitle := "Payment made", "Loan received"
	if asLender {
		paymentTitle, loanTitle = "Payment received", "Loan created"
	}

	activities := make([]Activity, 0, len(payments)+len(loans))
	for _, p := range payments {
		activities = append(activities, Activity{
			Type:   "payment",
			Title:  paymentTitle,
			LoanID: p.LoanID,
			Date:   p.CreatedAt,
			Amount: p.Amount,
			Status: string(p.Status),
		})
	}
	for _, loan := range loans {
		activities = append(activities, Activity{
			Type:   "loan",
			Title:  loanTitle,
			LoanID: loan.ID,
			Date:   loan.CreatedAt,
			Amount: loan.Principal,
			Status: string(loan.Status),
		})
	}
	sort.SliceStable(activities, func(i, j int) bool { return activities[i].Date.After(activities[j].Date) })
	if limit > 0 && len(activities) > limit {
		activities = activities[:limit]
	}
	return activities
}
