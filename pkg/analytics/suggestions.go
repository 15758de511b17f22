package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
)

type SuggestionType string

const (
	SuggestionUrgent   SuggestionType = "urgent"
	SuggestionReminder SuggestionType = "reminder"
)

// Suggestion is a rule-based hint about what a party should do next on a loan.
type Suggestion struct {
	Type       SuggestionType `json:"type"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Actionable bool           `json:"actionable"`
}

type LoanSuggestions struct {
	LoanID      uuid.UUID    `json:"loan_id"`
	Suggestions []Suggestion `json:"suggestions"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Suggest turns derived installments into suggestions: one for overdue
// installments and one for those due within the upcoming window.
func Suggest(installments []models.Installment, now time.Time) []Suggestion {
	suggestions := []Suggestion{}
	if n := len(Overdue(installments)); n > 0 {
		suggestions = append(suggestions, Suggestion{
			Type:       SuggestionUrgent,
			Title:      "Overdue Payments",
			Message:    fmt.Sprintf("You have %d overdue payments. Consider making immediate payments to avoid additional penalties.", n),
			Actionable: true,
		})
	}
	if n := len(Upcoming(installments, now)); n > 0 {
		suggestions = append(suggestions, Suggestion{
			Type:       SuggestionReminder,
			Title:      "Upcoming Payments",
			Message:    fmt.Sprintf("You have %d payments due within the next %d days.", n, upcomingWindow),
			Actionable: true,
		})
	}
	return suggestions
}

// LoanSuggestions builds suggestions for one loan for either of its parties
// and records the request in the event log.
func (s *Service) LoanSuggestions(ctx context.Context, loanID, actorID uuid.UUID) (*LoanSuggestions, error) {
	loan, err := s.storage.GetLoan(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if !loan.IsParty(actorID) {
		return nil, apperr.Authorization("not a party to this loan")
	}
	installments, err := s.storage.ListInstallments(ctx, []uuid.UUID{loanID})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	out := &LoanSuggestions{
		LoanID:      loanID,
		Suggestions: Suggest(DeriveAll(installments, now), now),
		GeneratedAt: now,
	}
	s.Track(ctx, TrackRequest{
		UserID:  actorID,
		LoanID:  &loanID,
		Type:    models.EventAISuggestionRequested,
		Context: map[string]interface{}{"suggestions": len(out.Suggestions)},
	})
	return out, nil
}
