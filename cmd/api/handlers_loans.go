package main

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/models"
)

func (s *Server) signUpHandler(w http.ResponseWriter, r *http.Request) {
	var input models.SignUpInput
	if err := decode(r, &input); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.auth.SignUp(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, session)
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var input models.SignInInput
	if err := decode(r, &input); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.auth.SignIn(r.Context(), input)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, session)
}

func (s *Server) profileHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Profile(r.Context(), currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, user)
}

func (s *Server) updateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var update models.ProfileUpdate
	if err := decode(r, &update); err != nil {
		s.fail(w, r, err)
		return
	}
	user, err := s.auth.UpdateProfile(r.Context(), currentUser(r), update)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, user)
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req ledger.LoanRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.LenderID = currentUser(r)

	loan, err := s.ledger.CreateLoan(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, loan)
}

// listLoansHandler lists one side of the user's loans: ?as=lender or
// ?as=borrower, defaulting to the side matching the user's role.
func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	userID := currentUser(r)
	var asLender bool
	switch r.URL.Query().Get("as") {
	case "lender":
		asLender = true
	case "borrower":
	case "":
		user, err := s.auth.Profile(r.Context(), userID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		asLender = user.Role == models.RoleLender
	default:
		s.fail(w, r, apperr.Validation("as must be lender or borrower"))
		return
	}

	loans, err := s.ledger.ListLoans(r.Context(), userID, asLender)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if loans == nil {
		loans = []*models.Loan{}
	}
	s.respond(w, http.StatusOK, loans)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	details, err := s.ledger.GetLoanDetails(r.Context(), loanID, currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, details)
}

// loanAction is a ledger transition such as ActivateLoan.
type loanAction func(ctx context.Context, loanID, actorID uuid.UUID) (*models.Loan, error)

func (s *Server) loanActionHandler(action loanAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, err := pathID(r)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		loan, err := action(r.Context(), loanID, currentUser(r))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.respond(w, http.StatusOK, loan)
	}
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req ledger.PaymentRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.LoanID = loanID
	req.PayerID = currentUser(r)

	payment, err := s.ledger.RecordPayment(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, payment)
}

func (s *Server) verifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	payment, err := s.ledger.VerifyPayment(r.Context(), paymentID, currentUser(r), body.Notes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, payment)
}

// reconcileLoanHandler rebuilds a loan's aggregates from its payments. Only
// the lender may trigger it.
func (s *Server) reconcileLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	userID := currentUser(r)
	details, err := s.ledger.GetLoanDetails(r.Context(), loanID, userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if details.Loan.LenderID != userID {
		s.fail(w, r, apperr.Authorization("only the lender can reconcile a loan"))
		return
	}
	report, err := s.reconciler.ReconcileLoan(r.Context(), loanID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}
