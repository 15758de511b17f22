package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/lendtrack/pkg/auth"
	"github.com/mcclellann/lendtrack/pkg/config"
	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func setupTestServer(t *testing.T) *mux.Router {
	t.Helper()
	dbFile := "test_api.db"
	remove := func() {
		os.Remove(dbFile)
		os.Remove(dbFile + "-wal")
		os.Remove(dbFile + "-shm")
	}
	remove()

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	s, err := store.NewSQLiteStore(dbFile, logger)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		remove()
	})

	cfg := &config.Config{
		JWTSecret:        "test-secret",
		TokenExpiry:      time.Hour,
		BalanceTolerance: decimal.NewFromInt(1),
	}
	return NewServer(s, cfg, logger).Routes()
}

func call(t *testing.T, router *mux.Router, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func signUp(t *testing.T, router *mux.Router, email string, role models.Role) auth.Session {
	t.Helper()
	rr := call(t, router, "POST", "/auth/signup", "", models.SignUpInput{
		FirstName: "Test",
		LastName:  "User",
		Email:     email,
		Password:  "secret1",
		Role:      role,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Signup failed with %d: %s", rr.Code, rr.Body.String())
	}
	var session auth.Session
	json.Unmarshal(rr.Body.Bytes(), &session)
	return session
}

type activeLoan struct {
	router   *mux.Router
	lender   auth.Session
	borrower auth.Session
	loan     models.Loan
	details  ledger.LoanDetails
}

// setupActiveLoan signs up both parties and activates a 1200, 12 month,
// interest free loan through the API.
func setupActiveLoan(t *testing.T) *activeLoan {
	t.Helper()
	a := &activeLoan{router: setupTestServer(t)}
	a.lender = signUp(t, a.router, "lender@example.com", models.RoleLender)
	a.borrower = signUp(t, a.router, "borrower@example.com", models.RoleClient)

	rr := call(t, a.router, "POST", "/loans", a.lender.Token, map[string]interface{}{
		"borrower_id":   a.borrower.User.ID,
		"principal":     "1200",
		"interest_rate": "0",
		"term_months":   12,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201 creating loan, got %d: %s", rr.Code, rr.Body.String())
	}
	json.Unmarshal(rr.Body.Bytes(), &a.loan)
	if a.loan.Status != models.LoanStatusPending {
		t.Fatalf("Expected pending loan, got %s", a.loan.Status)
	}

	rr = call(t, a.router, "POST", "/loans/"+a.loan.ID.String()+"/activate", a.lender.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 activating loan, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = call(t, a.router, "GET", "/loans/"+a.loan.ID.String(), a.borrower.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200 fetching loan, got %d", rr.Code)
	}
	json.Unmarshal(rr.Body.Bytes(), &a.details)
	if len(a.details.Installments) != 12 {
		t.Fatalf("Expected 12 installments, got %d", len(a.details.Installments))
	}
	return a
}

func TestAPI_RequiresToken(t *testing.T) {
	router := setupTestServer(t)
	rr := call(t, router, "GET", "/loans", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", rr.Code)
	}
}

func TestAPI_Login(t *testing.T) {
	router := setupTestServer(t)
	signUp(t, router, "lender@example.com", models.RoleLender)

	rr := call(t, router, "POST", "/auth/login", "", models.SignInInput{Email: "lender@example.com", Password: "secret1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var session auth.Session
	json.Unmarshal(rr.Body.Bytes(), &session)

	rr = call(t, router, "GET", "/auth/me", session.Token, nil)
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 from /auth/me, got %d", rr.Code)
	}

	rr = call(t, router, "POST", "/auth/login", "", models.SignInInput{Email: "lender@example.com", Password: "wrong!"})
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a wrong password, got %d", rr.Code)
	}
}

func TestAPI_RecordPayment(t *testing.T) {
	a := setupActiveLoan(t)
	first := a.details.Installments[0]

	rr := call(t, a.router, "POST", "/loans/"+a.loan.ID.String()+"/payments", a.borrower.Token, map[string]interface{}{
		"installment_id": first.ID,
		"amount":         "100",
		"payment_method": "cash",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var payment models.Payment
	json.Unmarshal(rr.Body.Bytes(), &payment)
	if !payment.Amount.Equal(decimal.NewFromInt(100)) || payment.ReceiptNumber == "" {
		t.Errorf("Unexpected payment %+v", payment)
	}
	if payment.ReceiverID != a.lender.User.ID {
		t.Errorf("Expected payment to go to the lender")
	}

	rr = call(t, a.router, "GET", "/loans/"+a.loan.ID.String(), a.lender.Token, nil)
	var details ledger.LoanDetails
	json.Unmarshal(rr.Body.Bytes(), &details)
	if !details.Loan.TotalPaid.Equal(decimal.NewFromInt(100)) || !details.Loan.RemainingBalance.Equal(decimal.NewFromInt(1100)) {
		t.Errorf("Expected 100 paid and 1100 remaining, got %s/%s", details.Loan.TotalPaid, details.Loan.RemainingBalance)
	}
	if details.Installments[0].Status != models.InstallmentPaid {
		t.Errorf("Expected first installment paid, got %s", details.Installments[0].Status)
	}
}

func TestAPI_RecordPaymentCamelCaseBody(t *testing.T) {
	a := setupActiveLoan(t)
	first := a.details.Installments[0]

	body := `{"amount":500,"method":"cash","paymentDate":"2024-01-15T00:00:00Z","installmentId":"` + first.ID.String() + `"}`
	rr := call(t, a.router, "POST", "/loans/"+a.loan.ID.String()+"/payments", a.borrower.Token, body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var payment map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &payment); err != nil {
		t.Fatalf("Failed to decode payment: %v", err)
	}
	amount, ok := payment["amount"].(float64)
	if !ok || amount != 500 {
		t.Errorf("Expected amount as the JSON number 500, got %#v", payment["amount"])
	}
	if payment["payment_method"] != "cash" || payment["installment_id"] != first.ID.String() {
		t.Errorf("Expected a cash payment on %s, got %v/%v", first.ID, payment["payment_method"], payment["installment_id"])
	}
	if paidOn, _ := payment["payment_date"].(string); paidOn != "2024-01-15T00:00:00Z" {
		t.Errorf("Expected payment date 2024-01-15, got %v", payment["payment_date"])
	}

	rr = call(t, a.router, "GET", "/loans/"+a.loan.ID.String(), a.borrower.Token, nil)
	var details struct {
		Loan map[string]interface{} `json:"loan"`
	}
	json.Unmarshal(rr.Body.Bytes(), &details)
	if remaining, ok := details.Loan["remaining_balance"].(float64); !ok || remaining != 700 {
		t.Errorf("Expected remaining balance as the JSON number 700, got %#v", details.Loan["remaining_balance"])
	}
}

func TestAPI_RecordPaymentAcceptsOverpayment(t *testing.T) {
	a := setupActiveLoan(t)

	rr := call(t, a.router, "POST", "/loans/"+a.loan.ID.String()+"/payments", a.borrower.Token,
		map[string]interface{}{"amount": 1500, "method": "cash"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var payment models.Payment
	json.Unmarshal(rr.Body.Bytes(), &payment)
	if !payment.IsOverpayment {
		t.Error("Expected the payment to be flagged as an overpayment")
	}

	rr = call(t, a.router, "GET", "/loans/"+a.loan.ID.String(), a.lender.Token, nil)
	var details ledger.LoanDetails
	json.Unmarshal(rr.Body.Bytes(), &details)
	if details.Loan.Status != models.LoanStatusCompleted || !details.Loan.RemainingBalance.IsZero() {
		t.Errorf("Expected completed loan with nothing remaining, got %s %s", details.Loan.Status, details.Loan.RemainingBalance)
	}
}

func TestAPI_RecordPaymentErrors(t *testing.T) {
	a := setupActiveLoan(t)
	paymentsPath := "/loans/" + a.loan.ID.String() + "/payments"

	tests := []struct {
		name  string
		path  string
		token string
		body  interface{}
		want  int
	}{
		{"zero amount", paymentsPath, a.borrower.Token, map[string]interface{}{"amount": "0", "payment_method": "cash"}, http.StatusBadRequest},
		{"bad method", paymentsPath, a.borrower.Token, map[string]interface{}{"amount": "50", "payment_method": "barter"}, http.StatusBadRequest},
		{"malformed body", paymentsPath, a.borrower.Token, "{not json", http.StatusBadRequest},
		{"bad loan id", "/loans/not-a-uuid/payments", a.borrower.Token, map[string]interface{}{"amount": "50", "payment_method": "cash"}, http.StatusBadRequest},
		{"lender pays", paymentsPath, a.lender.Token, map[string]interface{}{"amount": "50", "payment_method": "cash"}, http.StatusForbidden},
		{"unknown loan", "/loans/" + a.borrower.User.ID.String() + "/payments", a.borrower.Token, map[string]interface{}{"amount": "50", "payment_method": "cash"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := call(t, a.router, "POST", tt.path, tt.token, tt.body)
			if rr.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["message"] == "" {
				t.Errorf("Expected a message body, got %s", rr.Body.String())
			}
		})
	}
}

func TestAPI_ReconcileIsLenderOnly(t *testing.T) {
	a := setupActiveLoan(t)
	path := "/loans/" + a.loan.ID.String() + "/reconcile"

	if rr := call(t, a.router, "POST", path, a.borrower.Token, nil); rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for the borrower, got %d", rr.Code)
	}
	if rr := call(t, a.router, "POST", path, a.lender.Token, nil); rr.Code != http.StatusOK {
		t.Errorf("Expected status 200 for the lender, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_DashboardAndReminders(t *testing.T) {
	a := setupActiveLoan(t)

	rr := call(t, a.router, "GET", "/dashboard/lender", a.lender.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var dashboard struct {
		Summary struct {
			TotalLoans  int `json:"total_loans"`
			ActiveLoans int `json:"active_loans"`
		} `json:"summary"`
	}
	json.Unmarshal(rr.Body.Bytes(), &dashboard)
	if dashboard.Summary.TotalLoans != 1 || dashboard.Summary.ActiveLoans != 1 {
		t.Errorf("Unexpected dashboard summary %+v", dashboard.Summary)
	}

	rr = call(t, a.router, "POST", "/reminders", a.lender.Token, map[string]interface{}{
		"user_id":        a.borrower.User.ID,
		"loan_id":        a.loan.ID,
		"installment_id": a.details.Installments[0].ID,
		"reminder_type":  "payment_due",
		"title":          "First installment",
		"message":        "Due soon",
		"scheduled_date": time.Now().UTC().Format(time.RFC3339),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = call(t, a.router, "GET", "/reminders", a.borrower.Token, nil)
	var reminders []models.Reminder
	json.Unmarshal(rr.Body.Bytes(), &reminders)
	if len(reminders) != 1 {
		t.Fatalf("Expected 1 reminder for the borrower, got %d", len(reminders))
	}

	rr = call(t, a.router, "POST", "/reminders/"+reminders[0].ID.String()+"/acknowledge", a.borrower.Token,
		map[string]string{"response_text": "on it", "action_taken": "payment_scheduled"})
	if rr.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_SignUpRejectsAdmin(t *testing.T) {
	router := setupTestServer(t)
	rr := call(t, router, "POST", "/auth/signup", "", models.SignUpInput{
		FirstName: "Eve",
		LastName:  "Root",
		Email:     "eve@example.com",
		Password:  "secret1",
		Role:      models.RoleAdmin,
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an admin sign-up, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestAPI_UpdateProfile(t *testing.T) {
	router := setupTestServer(t)
	session := signUp(t, router, "lender@example.com", models.RoleLender)

	rr := call(t, router, "PUT", "/auth/me", session.Token, map[string]string{"phone_number": "+15550100", "role": "admin"})
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var user models.User
	json.Unmarshal(rr.Body.Bytes(), &user)
	if user.PhoneNumber != "+15550100" || user.FirstName != "Test" || user.Role != models.RoleLender {
		t.Errorf("Unexpected profile %+v", user)
	}
}

func TestAPI_LoanSuggestions(t *testing.T) {
	a := setupActiveLoan(t)
	path := "/loans/" + a.loan.ID.String() + "/suggestions"

	rr := call(t, a.router, "GET", path, a.borrower.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out struct {
		LoanID      string        `json:"loan_id"`
		Suggestions []interface{} `json:"suggestions"`
	}
	json.Unmarshal(rr.Body.Bytes(), &out)
	if out.LoanID != a.loan.ID.String() || out.Suggestions == nil {
		t.Errorf("Unexpected suggestions body %s", rr.Body.String())
	}

	outsider := signUp(t, a.router, "outsider@example.com", models.RoleClient)
	if rr := call(t, a.router, "GET", path, outsider.Token, nil); rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for an outsider, got %d", rr.Code)
	}
}

func TestAPI_Chat(t *testing.T) {
	a := setupActiveLoan(t)

	rr := call(t, a.router, "POST", "/chat/conversations", a.borrower.Token, map[string]interface{}{"loan_id": a.loan.ID})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var conv models.Conversation
	json.Unmarshal(rr.Body.Bytes(), &conv)
	if conv.Type != models.ConversationLoanSpecific || conv.Title != "New Conversation" {
		t.Errorf("Unexpected conversation %+v", conv)
	}

	messagesPath := "/chat/conversations/" + conv.ID.String() + "/messages"
	rr = call(t, a.router, "POST", messagesPath, a.borrower.Token, map[string]string{"content": "When is my next payment?", "message_type": "user"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var exchange struct {
		Message models.Message  `json:"message"`
		Reply   *models.Message `json:"reply"`
	}
	json.Unmarshal(rr.Body.Bytes(), &exchange)
	if exchange.Reply == nil || exchange.Reply.AIResponse == nil || exchange.Reply.AIResponse.SuggestionType != models.ReplyPaymentPlan {
		t.Fatalf("Expected a payment plan reply, got %s", rr.Body.String())
	}

	if rr := call(t, a.router, "POST", messagesPath, a.lender.Token, map[string]string{"content": "hi", "message_type": "user"}); rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for another user, got %d", rr.Code)
	}
	if rr := call(t, a.router, "POST", messagesPath, a.borrower.Token, map[string]string{"content": "hi"}); rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without a message type, got %d", rr.Code)
	}

	rr = call(t, a.router, "GET", messagesPath+"?limit=1", a.borrower.Token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	var page struct {
		Messages []models.Message `json:"messages"`
		Total    int              `json:"total"`
	}
	json.Unmarshal(rr.Body.Bytes(), &page)
	if len(page.Messages) != 1 || page.Total != 2 || page.Messages[0].Type != models.MessageAI {
		t.Errorf("Expected the reply as the newest of 2 messages, got %s", rr.Body.String())
	}

	rr = call(t, a.router, "GET", "/chat/conversations", a.borrower.Token, nil)
	var conversations []models.Conversation
	json.Unmarshal(rr.Body.Bytes(), &conversations)
	if len(conversations) != 1 || conversations[0].Metadata.AISuggestionsCount != 1 {
		t.Errorf("Expected 1 conversation with 1 suggestion, got %s", rr.Body.String())
	}
}
