package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcclellann/lendtrack/pkg/analytics"
	"github.com/mcclellann/lendtrack/pkg/auth"
	"github.com/mcclellann/lendtrack/pkg/chat"
	"github.com/mcclellann/lendtrack/pkg/config"
	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/notify"
	"github.com/mcclellann/lendtrack/pkg/reminder"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Server holds the services behind the HTTP API.
type Server struct {
	ledger     *ledger.Ledger
	reconciler *ledger.Reconciler
	analytics  *analytics.Service
	reminders  *reminder.Service
	auth       *auth.Service
	chat       *chat.Service
	storage    store.Storage // Keep a reference to the storage to close it
	logger     *logrus.Logger
}

func NewServer(s store.Storage, cfg *config.Config, logger *logrus.Logger) *Server {
	return &Server{
		ledger:     ledger.NewLedger(s, logger, cfg.BalanceTolerance),
		reconciler: ledger.NewReconciler(s, logger),
		analytics:  analytics.NewService(s, logger),
		reminders:  reminder.NewService(s, logger),
		auth:       auth.NewService(s, cfg.JWTSecret, cfg.TokenExpiry, logger),
		chat:       chat.NewService(s, chat.KeywordResponder{}, logger),
		storage:    s,
		logger:     logger,
	}
}

// Routes builds the router. Everything outside /auth/signup and /auth/login
// requires a bearer token.
func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/auth/signup", s.signUpHandler).Methods("POST")
	router.HandleFunc("/auth/login", s.loginHandler).Methods("POST")

	api := router.NewRoute().Subrouter()
	api.Use(auth.Middleware(s.auth, s.logger))

	api.HandleFunc("/auth/me", s.profileHandler).Methods("GET")
	api.HandleFunc("/auth/me", s.updateProfileHandler).Methods("PUT")

	api.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	api.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}", s.getLoanHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/activate", s.loanActionHandler(s.ledger.ActivateLoan)).Methods("POST")
	api.HandleFunc("/loans/{id}/cancel", s.loanActionHandler(s.ledger.CancelLoan)).Methods("POST")
	api.HandleFunc("/loans/{id}/default", s.loanActionHandler(s.ledger.MarkDefaulted)).Methods("POST")
	api.HandleFunc("/loans/{id}/payments", s.recordPaymentHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/reconcile", s.reconcileLoanHandler).Methods("POST")
	api.HandleFunc("/loans/{id}/analytics", s.loanAnalyticsHandler).Methods("GET")
	api.HandleFunc("/loans/{id}/suggestions", s.loanSuggestionsHandler).Methods("GET")
	api.HandleFunc("/payments/{id}/verify", s.verifyPaymentHandler).Methods("POST")

	api.HandleFunc("/dashboard/lender", s.lenderDashboardHandler).Methods("GET")
	api.HandleFunc("/dashboard/client", s.clientDashboardHandler).Methods("GET")
	api.HandleFunc("/dashboard/stats", s.statsHandler).Methods("GET")
	api.HandleFunc("/dashboard/quick-actions", s.quickActionsHandler).Methods("GET")
	api.HandleFunc("/dashboard/activity", s.activityHandler).Methods("GET")

	api.HandleFunc("/analytics/payments", s.paymentAnalyticsHandler).Methods("GET")
	api.HandleFunc("/analytics/events", s.trackEventHandler).Methods("POST")
	api.HandleFunc("/analytics/events", s.userEventsHandler).Methods("GET")

	api.HandleFunc("/reminders", s.createReminderHandler).Methods("POST")
	api.HandleFunc("/reminders", s.listRemindersHandler).Methods("GET")
	api.HandleFunc("/reminders/{id}/acknowledge", s.acknowledgeReminderHandler).Methods("POST")
	api.HandleFunc("/reminders/{id}/cancel", s.cancelReminderHandler).Methods("POST")

	api.HandleFunc("/notifications", s.listNotificationsHandler).Methods("GET")
	api.HandleFunc("/notifications/{id}/read", s.readNotificationHandler).Methods("POST")
	api.HandleFunc("/notifications/{id}/action", s.notificationActionHandler).Methods("POST")

	api.HandleFunc("/chat/conversations", s.createConversationHandler).Methods("POST")
	api.HandleFunc("/chat/conversations", s.listConversationsHandler).Methods("GET")
	api.HandleFunc("/chat/conversations/{id}/messages", s.sendMessageHandler).Methods("POST")
	api.HandleFunc("/chat/conversations/{id}/messages", s.listMessagesHandler).Methods("GET")

	return router
}

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}

// scheduleSweeps registers the background reconciliation and reminder jobs.
// An empty schedule leaves the job out.
func scheduleSweeps(c *cron.Cron, cfg *config.Config, server *Server, dispatcher *notify.Dispatcher) error {
	logger := server.logger
	if cfg.ReconcileSchedule != "" {
		_, err := c.AddFunc(cfg.ReconcileSchedule, func() {
			reports, err := server.reconciler.ReconcileFlagged(context.Background())
			if err != nil {
				logger.WithError(err).Error("Reconciliation sweep failed")
				return
			}
			if len(reports) > 0 {
				logger.WithField("loans", len(reports)).Info("Reconciliation sweep finished")
			}
		})
		if err != nil {
			return err
		}
	}
	if cfg.ReminderSchedule != "" {
		_, err := c.AddFunc(cfg.ReminderSchedule, func() {
			if _, err := dispatcher.DispatchDue(context.Background(), time.Now().UTC()); err != nil {
				logger.WithError(err).Error("Reminder sweep failed")
			}
			if _, err := dispatcher.RetryFailed(context.Background(), time.Now().UTC()); err != nil {
				logger.WithError(err).Error("Notification retry sweep failed")
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	logger := newLogger(cfg.LogLevel)

	sqliteStore, err := store.NewSQLiteStore(cfg.DBPath, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize SQLite store: %v", err)
	}
	defer sqliteStore.Close()

	server := NewServer(sqliteStore, cfg, logger)
	dispatcher := notify.NewDispatcher(sqliteStore, map[models.Channel]notify.Sender{
		models.ChannelEmail: notify.NewEmailSender(cfg.SMTP, logger),
		models.ChannelSMS:   notify.LogSender{Channel: models.ChannelSMS, Logger: logger},
		models.ChannelPush:  notify.LogSender{Channel: models.ChannelPush, Logger: logger},
		models.ChannelInApp: notify.InAppSender{},
	}, logger)

	c := cron.New()
	if err := scheduleSweeps(c, cfg, server, dispatcher); err != nil {
		logger.Fatalf("Failed to configure scheduler: %v", err)
	}
	c.Start()

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("Server starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	<-c.Stop().Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Errorf("Shutdown failed: %v", err)
	}
	logger.Info("Server stopped")
}
