package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/reminder"
	"github.com/mcclellann/lendtrack/pkg/store"
	"github.com/sirupsen/logrus"
)

// Store is the storage the dispatcher works against.
type Store interface {
	ListDueReminders(ctx context.Context, before time.Time) ([]*models.Reminder, error)
	UpdateReminder(ctx context.Context, reminder *models.Reminder) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetInstallment(ctx context.Context, id uuid.UUID) (*models.Installment, error)
	UpdateInstallment(ctx context.Context, inst *models.Installment) error
	CreateNotification(ctx context.Context, n *models.Notification) error
	UpdateNotification(ctx context.Context, n *models.Notification) error
	ListRetryableNotifications(ctx context.Context, maxRetries int) ([]*models.Notification, error)
	CreateEvent(ctx context.Context, event *models.Event) error
}

// Dispatcher sends due reminders and drives them through the reminder state machine.
type Dispatcher struct {
	storage Store
	senders map[models.Channel]Sender
	logger  *logrus.Logger
}

func NewDispatcher(s Store, senders map[models.Channel]Sender, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{storage: s, senders: senders, logger: logger}
}

// Report counts what one sweep did.
type Report struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Expired   int `json:"expired"`
	Escalated int `json:"escalated"`
	Errors    int `json:"errors"`
}

// DispatchDue handles every scheduled reminder due by now. Errors on a single
// reminder are logged and counted; only a failure to list reminders aborts.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (*Report, error) {
	due, err := d.storage.ListDueReminders(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	report := &Report{}
	for _, r := range due {
		report.Processed++
		if err := d.dispatch(ctx, *r, now, report); err != nil {
			report.Errors++
			d.logger.WithError(err).WithField("reminder_id", r.ID).Error("Failed to dispatch reminder")
		}
	}
	if report.Processed > 0 {
		d.logger.WithFields(logrus.Fields{
			"processed": report.Processed,
			"sent":      report.Sent,
			"failed":    report.Failed,
			"skipped":   report.Skipped,
		}).Info("Reminder sweep finished")
	}
	return report, nil
}

type delivery struct {
	channel models.Channel
	id      string
	err     error
}

func (d *Dispatcher) dispatch(ctx context.Context, r models.Reminder, now time.Time, report *Report) error {
	log := d.logger.WithFields(logrus.Fields{"reminder_id": r.ID, "loan_id": r.LoanID})

	r, intent := reminder.Expire(r, now)
	if intent.Has(reminder.IntentPersist) {
		report.Expired++
		return d.storage.UpdateReminder(ctx, &r)
	}

	var inst *models.Installment
	if r.InstallmentID != nil {
		var err error
		if inst, err = d.storage.GetInstallment(ctx, *r.InstallmentID); err != nil {
			return fmt.Errorf("load installment: %w", err)
		}
	}
	if !reminder.Eligible(r, inst, now) {
		report.Skipped++
		log.Debug("Reminder conditions not met")
		return nil
	}

	user, err := d.storage.GetUser(ctx, r.UserID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}

	n := newNotification(r, inst, now)
	msg := Message{NotificationID: n.ID, To: user, Subject: r.Title, Body: r.Message, Priority: r.Priority}

	var results []delivery
	for _, ch := range r.Channels {
		sender, ok := d.senders[ch]
		if !ok {
			results = append(results, delivery{channel: ch, err: fmt.Errorf("no sender for channel %s", ch)})
			continue
		}
		id, err := sender.Send(ctx, msg)
		results = append(results, delivery{channel: ch, id: id, err: err})
	}

	// Failures first so a successful channel decides the final status.
	sent := false
	for _, res := range results {
		n, _ = reminder.RecordDelivery(n, res.channel, res.err, now)
		if res.err != nil {
			r, _ = reminder.MarkAsFailed(r, res.channel, res.err.Error(), now)
			log.WithError(res.err).WithField("channel", res.channel).Warn("Reminder delivery failed")
		}
	}
	for _, res := range results {
		if res.err == nil {
			r, _ = reminder.MarkAsSent(r, res.channel, res.id, now)
			sent = true
		}
	}

	if sent {
		report.Sent++
		if err := d.storage.CreateNotification(ctx, &n); err != nil {
			log.WithError(err).Warn("Failed to store notification")
		}
		d.track(ctx, r, now)
		if inst != nil {
			d.countReminder(ctx, *inst, now)
		}
		r, _ = reminder.Advance(r, now)
	} else {
		report.Failed++
	}

	if reminder.EscalationDue(r, now) {
		var escalate reminder.Intent
		r, escalate, err = reminder.Escalate(r, now)
		if err != nil {
			return err
		}
		if escalate.Has(reminder.IntentEscalate) {
			report.Escalated++
			d.notifyEscalation(ctx, r, now)
		}
	}

	return d.storage.UpdateReminder(ctx, &r)
}

func notificationType(t models.ReminderType) models.NotificationType {
	switch t {
	case models.ReminderPaymentOverdue:
		return models.NotifyPaymentOverdue
	case models.ReminderPenaltyWarning:
		return models.NotifyPenaltyApplied
	case models.ReminderLoanCompletion:
		return models.NotifyLoanCompleted
	case models.ReminderDocumentSubmission:
		return models.NotifyDocumentRequired
	case models.ReminderAgreementSigning:
		return models.NotifyAgreementSigned
	case models.ReminderCustom:
		return models.NotifySystemUpdate
	}
	return models.NotifyPaymentReminder
}

func newNotification(r models.Reminder, inst *models.Installment, now time.Time) models.Notification {
	loanID := r.LoanID
	n := models.Notification{
		ID:             uuid.New(),
		UserID:         r.UserID,
		LoanID:         &loanID,
		InstallmentID:  r.InstallmentID,
		Type:           notificationType(r.Type),
		Title:          r.Title,
		Message:        r.Message,
		Priority:       r.Priority,
		Status:         models.NotificationSent,
		Channels:       r.Channels,
		DeliveryStatus: make(map[models.Channel]models.ChannelDelivery, len(r.Channels)),
		Data:           models.NotificationData{Amount: r.Amount, DueDate: r.DueDate},
		ScheduledFor:   r.ScheduledDate,
		ExpiresAt:      r.ExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, ch := range r.Channels {
		n.DeliveryStatus[ch] = models.ChannelDelivery{Status: models.ChannelPending}
	}
	if inst != nil {
		derived := ledger.DeriveInstallment(*inst, now)
		n.Data.DaysOverdue = derived.DaysOverdue
		if n.Data.Amount == nil {
			remaining := derived.RemainingAmount
			n.Data.Amount = &remaining
		}
	}
	return n
}

func (d *Dispatcher) notifyEscalation(ctx context.Context, r models.Reminder, now time.Time) {
	message := r.Escalation.Message
	if message == "" {
		message = r.Message
	}
	loanID := r.LoanID
	n := models.Notification{
		ID:             uuid.New(),
		UserID:         *r.Escalation.EscalateToUserID,
		LoanID:         &loanID,
		InstallmentID:  r.InstallmentID,
		Type:           models.NotifyPaymentOverdue,
		Title:          "Escalated: " + r.Title,
		Message:        message,
		Priority:       models.PriorityUrgent,
		Status:         models.NotificationSent,
		Channels:       []models.Channel{models.ChannelInApp},
		DeliveryStatus: map[models.Channel]models.ChannelDelivery{models.ChannelInApp: {Status: models.ChannelSent, SentAt: &now}},
		ScheduledFor:   now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.storage.CreateNotification(ctx, &n); err != nil {
		d.logger.WithError(err).WithField("reminder_id", r.ID).Warn("Failed to store escalation notification")
		return
	}
	d.logger.WithFields(logrus.Fields{"reminder_id": r.ID, "escalated_to": n.UserID}).Info("Reminder escalated")
}

func (d *Dispatcher) track(ctx context.Context, r models.Reminder, now time.Time) {
	loanID := r.LoanID
	event := &models.Event{
		ID:     uuid.New(),
		UserID: r.UserID,
		LoanID: &loanID,
		Type:   models.EventReminderSent,
		Context: map[string]interface{}{
			"reminder_id":   r.ID.String(),
			"reminder_type": string(r.Type),
		},
		CreatedAt: now,
	}
	if err := d.storage.CreateEvent(ctx, event); err != nil {
		d.logger.WithError(err).WithField("reminder_id", r.ID).Warn("Failed to record reminder event")
	}
}

// countReminder bumps the installment's reminder counter. A concurrent
// payment wins a version conflict; the counter is informational.
func (d *Dispatcher) countReminder(ctx context.Context, inst models.Installment, now time.Time) {
	inst.RemindersSent++
	at := now
	inst.LastReminderDate = &at
	inst.UpdatedAt = now
	if err := d.storage.UpdateInstallment(ctx, &inst); err != nil && !errors.Is(err, store.ErrVersionConflict) {
		d.logger.WithError(err).WithField("installment_id", inst.ID).Warn("Failed to count reminder on installment")
	}
}
