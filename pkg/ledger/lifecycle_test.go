package ledger

import (
	"testing"
	"time"

	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestDeriveInstallment(t *testing.T) {
	due := date(2024, time.January, 10)
	tests := []struct {
		name        string
		paid        string
		now         time.Time
		wantStatus  models.InstallmentStatus
		wantRemain  string
		wantOverdue int
	}{
		{"unpaid before due", "0", date(2024, time.January, 5), models.InstallmentPending, "1200", 0},
		{"unpaid on due date", "0", due, models.InstallmentPending, "1200", 0},
		{"unpaid after due", "0", date(2024, time.January, 13).Add(6 * time.Hour), models.InstallmentOverdue, "1200", 3},
		{"partial after due", "500", date(2024, time.January, 15), models.InstallmentPartiallyPaid, "700", 5},
		{"paid late", "1200", date(2024, time.February, 1), models.InstallmentPaid, "0", 0},
		{"overpaid", "1300", date(2024, time.January, 1), models.InstallmentPaid, "0", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			inst := models.Installment{
				TotalAmount: decimal.NewFromInt(1200),
				PaidAmount:  decimal.RequireFromString(tc.paid),
				DueDate:     due,
			}
			got := DeriveInstallment(inst, tc.now)
			if got.Status != tc.wantStatus {
				t.Errorf("Expected status %s, got %s", tc.wantStatus, got.Status)
			}
			if !got.RemainingAmount.Equal(decimal.RequireFromString(tc.wantRemain)) {
				t.Errorf("Expected remaining %s, got %s", tc.wantRemain, got.RemainingAmount)
			}
			if got.DaysOverdue != tc.wantOverdue {
				t.Errorf("Expected %d days overdue, got %d", tc.wantOverdue, got.DaysOverdue)
			}
		})
	}
}

func TestDeriveInstallmentStampsPaidDateOnce(t *testing.T) {
	first := date(2024, time.January, 9)
	inst := models.Installment{
		TotalAmount: decimal.NewFromInt(100),
		PaidAmount:  decimal.NewFromInt(100),
		DueDate:     date(2024, time.January, 10),
	}
	inst = DeriveInstallment(inst, first)
	inst = DeriveInstallment(inst, first.AddDate(0, 0, 30))
	if inst.PaidDate == nil || !inst.PaidDate.Equal(first) {
		t.Errorf("Expected paid date %v, got %v", first, inst.PaidDate)
	}
}

func TestDeriveInstallmentWithoutDueDate(t *testing.T) {
	inst := DeriveInstallment(models.Installment{TotalAmount: decimal.NewFromInt(10)}, time.Now())
	if inst.Status != models.InstallmentPending || inst.DaysOverdue != 0 {
		t.Errorf("Expected pending with 0 days overdue, got %s/%d", inst.Status, inst.DaysOverdue)
	}
}

func TestDeriveLoan(t *testing.T) {
	loan := models.Loan{
		Principal:     decimal.NewFromInt(1000),
		TotalInterest: decimal.NewFromInt(100),
		TotalPenalty:  decimal.Zero,
		TotalPaid:     decimal.NewFromInt(400),
		StartDate:     date(2024, time.January, 31),
		TermMonths:    1,
	}

	got, err := DeriveLoan(loan, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("DeriveLoan failed: %v", err)
	}
	if !got.RemainingBalance.Equal(decimal.NewFromInt(600)) {
		t.Errorf("Expected remaining balance 600, got %s", got.RemainingBalance)
	}
	if !got.EndDate.Equal(date(2024, time.March, 2)) {
		t.Errorf("Expected end date 2024-03-02, got %v", got.EndDate)
	}

	loan.TotalPaid = decimal.RequireFromString("1100.50")
	got, err = DeriveLoan(loan, decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("Expected overpayment within tolerance to pass, got %v", err)
	}
	if !got.RemainingBalance.IsZero() {
		t.Errorf("Expected remaining balance clamped to 0, got %s", got.RemainingBalance)
	}

	loan.TotalPaid = decimal.NewFromInt(1102)
	if _, err := DeriveLoan(loan, decimal.NewFromInt(1)); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("Expected validation error beyond tolerance, got %v", err)
	}
}

func TestAssessPenaltyAppliesOnce(t *testing.T) {
	loan := models.Loan{PenaltyRate: decimal.NewFromInt(2), GracePeriodDays: 3}
	inst := models.Installment{
		TotalAmount: decimal.NewFromInt(1000),
		PaidAmount:  decimal.NewFromInt(250),
		DueDate:     date(2024, time.March, 1),
	}

	if _, applied := AssessPenalty(inst, loan, date(2024, time.March, 4)); applied {
		t.Fatal("Expected no penalty inside the grace period")
	}

	inst, applied := AssessPenalty(inst, loan, date(2024, time.March, 5))
	if !applied {
		t.Fatal("Expected penalty once grace period passed")
	}
	if !inst.PenaltyAmount.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected penalty 15, got %s", inst.PenaltyAmount)
	}

	inst, applied = AssessPenalty(inst, loan, date(2024, time.April, 30))
	if applied {
		t.Error("Expected penalty not to be applied twice")
	}
	if !inst.PenaltyAmount.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected penalty to stay 15, got %s", inst.PenaltyAmount)
	}
}

func TestRefreshLoan(t *testing.T) {
	loan := models.Loan{
		Principal:       decimal.NewFromInt(300),
		PenaltyRate:     decimal.NewFromInt(10),
		GracePeriodDays: 0,
		TotalPaid:       decimal.NewFromInt(100),
	}
	installments := []models.Installment{
		{Number: 1, TotalAmount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100), DueDate: date(2024, time.January, 1)},
		{Number: 2, TotalAmount: decimal.NewFromInt(100), PaidAmount: decimal.Zero, DueDate: date(2024, time.February, 1)},
		{Number: 3, TotalAmount: decimal.NewFromInt(100), PaidAmount: decimal.Zero, DueDate: date(2024, time.March, 1)},
	}

	refresh := RefreshLoan(loan, installments, date(2024, time.February, 10))

	if len(refresh.Penalized) != 1 || refresh.Penalized[0] != 1 {
		t.Fatalf("Expected only installment 2 penalized, got %v", refresh.Penalized)
	}
	if !refresh.Loan.TotalPenalty.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected total penalty 10, got %s", refresh.Loan.TotalPenalty)
	}
	if refresh.Loan.NextDueDate == nil || !refresh.Loan.NextDueDate.Equal(date(2024, time.February, 1)) {
		t.Errorf("Expected next due 2024-02-01, got %v", refresh.Loan.NextDueDate)
	}
	if refresh.Installments[1].Status != models.InstallmentOverdue {
		t.Errorf("Expected installment 2 overdue, got %s", refresh.Installments[1].Status)
	}
	if !refresh.Loan.RemainingBalance.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Expected remaining balance 200, got %s", refresh.Loan.RemainingBalance)
	}
}

func TestGenerateScheduleSimple(t *testing.T) {
	loan := models.Loan{
		Principal:        decimal.NewFromInt(1000),
		InterestRate:     decimal.NewFromInt(12),
		InterestType:     models.InterestSimple,
		TermMonths:       3,
		PaymentFrequency: models.FrequencyMonthly,
		StartDate:        date(2024, time.January, 15),
	}

	got, installments := GenerateSchedule(loan, date(2024, time.January, 15))

	if len(installments) != 3 || got.TotalInstallments != 3 {
		t.Fatalf("Expected 3 installments, got %d", len(installments))
	}
	if !got.TotalInterest.Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected total interest 30, got %s", got.TotalInterest)
	}

	sum := decimal.Zero
	for _, inst := range installments {
		sum = sum.Add(inst.TotalAmount)
	}
	if !sum.Equal(decimal.NewFromInt(1030)) {
		t.Errorf("Expected schedule to sum to 1030, got %s", sum)
	}
	if !installments[0].PrincipalPortion.Equal(decimal.RequireFromString("333.33")) {
		t.Errorf("Expected first principal 333.33, got %s", installments[0].PrincipalPortion)
	}
	if !installments[2].PrincipalPortion.Equal(decimal.RequireFromString("333.34")) {
		t.Errorf("Expected last principal to absorb rounding, got %s", installments[2].PrincipalPortion)
	}
	if !installments[2].DueDate.Equal(date(2024, time.April, 15)) {
		t.Errorf("Expected last due date 2024-04-15, got %v", installments[2].DueDate)
	}
	if !got.InstallmentAmount.Equal(installments[0].TotalAmount) {
		t.Errorf("Expected installment amount %s, got %s", installments[0].TotalAmount, got.InstallmentAmount)
	}
}

func TestGenerateScheduleCompound(t *testing.T) {
	loan := models.Loan{
		Principal:        decimal.NewFromInt(1200),
		InterestRate:     decimal.NewFromInt(12),
		InterestType:     models.InterestCompound,
		TermMonths:       12,
		PaymentFrequency: models.FrequencyMonthly,
		StartDate:        date(2024, time.January, 1),
	}

	got, installments := GenerateSchedule(loan, date(2024, time.January, 1))

	principal := decimal.Zero
	for _, inst := range installments {
		principal = principal.Add(inst.PrincipalPortion)
	}
	if !principal.Equal(decimal.NewFromInt(1200)) {
		t.Errorf("Expected principal portions to sum to 1200, got %s", principal)
	}
	// 1200 at 1% a month over 12 months pays 106.62 per month.
	if !installments[0].TotalAmount.Equal(decimal.RequireFromString("106.62")) {
		t.Errorf("Expected first installment 106.62, got %s", installments[0].TotalAmount)
	}
	if !installments[0].InterestPortion.Equal(decimal.NewFromInt(12)) {
		t.Errorf("Expected first interest 12, got %s", installments[0].InterestPortion)
	}
	if got.TotalInterest.LessThan(decimal.NewFromInt(79)) || got.TotalInterest.GreaterThan(decimal.NewFromInt(80)) {
		t.Errorf("Expected total interest near 79.4, got %s", got.TotalInterest)
	}
}

func TestInstallmentCount(t *testing.T) {
	tests := []struct {
		freq models.PaymentFrequency
		term int
		want int
	}{
		{models.FrequencyMonthly, 6, 6},
		{models.FrequencyQuarterly, 12, 4},
		{models.FrequencyQuarterly, 4, 2},
		{models.FrequencyWeekly, 3, 13},
		{models.FrequencyBiWeekly, 12, 26},
	}
	for _, tc := range tests {
		if got := installmentCount(tc.term, tc.freq); got != tc.want {
			t.Errorf("installmentCount(%d, %s) = %d, want %d", tc.term, tc.freq, got, tc.want)
		}
	}
}

func TestCanTransition(t *testing.T) {
	if !canTransition(models.LoanStatusPending, models.LoanStatusActive) {
		t.Error("Expected pending -> active to be allowed")
	}
	if canTransition(models.LoanStatusCompleted, models.LoanStatusActive) {
		t.Error("Expected completed -> active to be refused")
	}
	if canTransition(models.LoanStatusPending, models.LoanStatusDefaulted) {
		t.Error("Expected pending -> defaulted to be refused")
	}
}

func TestPaymentTiming(t *testing.T) {
	due := date(2024, time.January, 10)
	if early, late := PaymentTiming(date(2024, time.January, 15), due); early != 0 || late != 5 {
		t.Errorf("Expected 5 days late, got early=%d late=%d", early, late)
	}
	if early, late := PaymentTiming(date(2024, time.January, 7), due); early != 3 || late != 0 {
		t.Errorf("Expected 3 days early, got early=%d late=%d", early, late)
	}
	if early, late := PaymentTiming(due.Add(2*time.Hour), due); early != 0 || late != 1 {
		t.Errorf("Expected a partial day to count as 1 day late, got early=%d late=%d", early, late)
	}
	if early, late := PaymentTiming(due, due); early != 0 || late != 0 {
		t.Errorf("Expected on-time payment, got early=%d late=%d", early, late)
	}
}

func TestSplitPortions(t *testing.T) {
	inst := models.Installment{
		PrincipalPortion: decimal.NewFromInt(100),
		InterestPortion:  decimal.NewFromInt(10),
		TotalAmount:      decimal.NewFromInt(110),
		PenaltyAmount:    decimal.NewFromInt(5),
	}

	principal, interest, penalty, overpay := splitPortions(inst, decimal.NewFromInt(50))
	if !interest.Equal(decimal.NewFromInt(10)) || !principal.Equal(decimal.NewFromInt(40)) || !penalty.IsZero() || overpay {
		t.Errorf("Unexpected split of 50: principal=%s interest=%s penalty=%s overpay=%v", principal, interest, penalty, overpay)
	}

	principal, interest, penalty, overpay = splitPortions(inst, decimal.NewFromInt(120))
	if !interest.Equal(decimal.NewFromInt(10)) || !principal.Equal(decimal.NewFromInt(105)) || !penalty.Equal(decimal.NewFromInt(5)) || !overpay {
		t.Errorf("Unexpected split of 120: principal=%s interest=%s penalty=%s overpay=%v", principal, interest, penalty, overpay)
	}
}
