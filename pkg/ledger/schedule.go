package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/shopspring/decimal"
)

// installmentCount returns how many payments a term produces at a frequency.
func installmentCount(termMonths int, freq models.PaymentFrequency) int {
	var n int
	switch freq {
	case models.FrequencyWeekly:
		n = (termMonths*52 + 11) / 12
	case models.FrequencyBiWeekly:
		n = (termMonths*26 + 11) / 12
	case models.FrequencyQuarterly:
		n = (termMonths + 2) / 3
	case models.FrequencyMonthly:
		n = termMonths
	default:
		n = termMonths
	}
	if n < 1 {
		n = 1
	}
	return n
}

func periodsPerYear(freq models.PaymentFrequency) int64 {
	switch freq {
	case models.FrequencyWeekly:
		return 52
	case models.FrequencyBiWeekly:
		return 26
	case models.FrequencyQuarterly:
		return 4
	case models.FrequencyMonthly:
		return 12
	}
	return 12
}

func dueDate(start time.Time, freq models.PaymentFrequency, k int) time.Time {
	switch freq {
	case models.FrequencyWeekly:
		return start.AddDate(0, 0, 7*k)
	case models.FrequencyBiWeekly:
		return start.AddDate(0, 0, 14*k)
	case models.FrequencyQuarterly:
		return start.AddDate(0, 3*k, 0)
	case models.FrequencyMonthly:
		return start.AddDate(0, k, 0)
	}
	return start.AddDate(0, k, 0)
}

// GenerateSchedule splits a loan into installments and fills in the loan's
// installment amount, count and total interest. The last installment absorbs
// rounding so the schedule sums to principal plus interest exactly.
func GenerateSchedule(loan models.Loan, now time.Time) (models.Loan, []*models.Installment) {
	n := installmentCount(loan.TermMonths, loan.PaymentFrequency)
	count := decimal.NewFromInt(int64(n))

	principals := make([]decimal.Decimal, n)
	interests := make([]decimal.Decimal, n)

	periodicRate := loan.InterestRate.Div(hundred).Div(decimal.NewFromInt(periodsPerYear(loan.PaymentFrequency)))

	if loan.InterestType == models.InterestCompound && periodicRate.IsPositive() {
		// Annuity: A = P * i * (1+i)^n / ((1+i)^n - 1)
		growth := decimal.NewFromInt(1).Add(periodicRate).Pow(count)
		payment := loan.Principal.Mul(periodicRate).Mul(growth).Div(growth.Sub(decimal.NewFromInt(1))).Round(2)
		outstanding := loan.Principal
		for k := 0; k < n; k++ {
			interest := outstanding.Mul(periodicRate).Round(2)
			principal := payment.Sub(interest)
			if k == n-1 || principal.GreaterThan(outstanding) {
				principal = outstanding
			}
			principals[k] = principal
			interests[k] = interest
			outstanding = outstanding.Sub(principal)
		}
	} else {
		totalInterest := loan.Principal.Mul(loan.InterestRate).Div(hundred).
			Mul(decimal.NewFromInt(int64(loan.TermMonths))).Div(decimal.NewFromInt(12)).Round(2)
		principalEach := loan.Principal.Div(count).Round(2)
		interestEach := totalInterest.Div(count).Round(2)
		for k := 0; k < n; k++ {
			principals[k] = principalEach
			interests[k] = interestEach
		}
		principals[n-1] = loan.Principal.Sub(principalEach.Mul(decimal.NewFromInt(int64(n - 1))))
		interests[n-1] = totalInterest.Sub(interestEach.Mul(decimal.NewFromInt(int64(n - 1))))
	}

	installments := make([]*models.Installment, n)
	totalInterest := decimal.Zero
	for k := 0; k < n; k++ {
		inst := models.Installment{
			ID:               uuid.New(),
			LoanID:           loan.ID,
			Number:           k + 1,
			PrincipalPortion: principals[k],
			InterestPortion:  interests[k],
			TotalAmount:      principals[k].Add(interests[k]),
			DueDate:          dueDate(loan.StartDate, loan.PaymentFrequency, k+1),
			PaidAmount:       decimal.Zero,
			PenaltyAmount:    decimal.Zero,
			PaymentHistory:   []models.PaymentHistoryEntry{},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		derived := DeriveInstallment(inst, now)
		installments[k] = &derived
		totalInterest = totalInterest.Add(interests[k])
	}

	loan.TotalInstallments = n
	loan.InstallmentAmount = installments[0].TotalAmount
	loan.TotalInterest = totalInterest
	return loan, installments
}
