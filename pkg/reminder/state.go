// Package reminder holds the reminder and notification state machines and
// the service behind the reminder and notification endpoints.
//
// State functions never touch storage. They take a value, return the updated
// value and the Intent flags telling the caller what to do with it.
package reminder

import (
	"errors"
	"math"
	"time"

	"github.com/mcclellann/lendtrack/pkg/ledger"
	"github.com/mcclellann/lendtrack/pkg/models"
)

const day = 24 * time.Hour

// Intent is a set of follow-up actions requested by a transition.
type Intent uint8

const (
	IntentPersist Intent = 1 << iota
	IntentNotify
	IntentEscalate
	IntentReschedule
)

func (i Intent) Has(flag Intent) bool { return i&flag != 0 }

var (
	ErrEscalationNotConfigured = errors.New("escalation not configured")
	ErrInactive                = errors.New("reminder is no longer active")
	ErrNotSent                 = errors.New("reminder has not been sent")
)

// closed reports whether the reminder reached a terminal state.
func closed(r models.Reminder) bool {
	return r.Status == models.ReminderCancelled || r.Status == models.ReminderExpired || !r.IsActive
}

func withAttempt(r models.Reminder, a models.DeliveryAttempt) models.Reminder {
	attempts := make([]models.DeliveryAttempt, 0, len(r.DeliveryAttempts)+1)
	attempts = append(attempts, r.DeliveryAttempts...)
	r.DeliveryAttempts = append(attempts, a)
	return r
}

// MarkAsSent records a successful delivery on one channel.
func MarkAsSent(r models.Reminder, channel models.Channel, deliveryID string, now time.Time) (models.Reminder, Intent) {
	r = withAttempt(r, models.DeliveryAttempt{
		Channel:     channel,
		AttemptDate: now,
		Status:      models.AttemptSuccess,
		DeliveryID:  deliveryID,
	})
	r.Status = models.ReminderSent
	sentAt := now
	r.SentAt = &sentAt
	r.UpdatedAt = now
	return r, IntentPersist | IntentNotify
}

// MarkAsFailed records a failed delivery. The reminder fails once there are
// at least as many failed attempts as configured channels.
func MarkAsFailed(r models.Reminder, channel models.Channel, errMsg string, now time.Time) (models.Reminder, Intent) {
	r = withAttempt(r, models.DeliveryAttempt{
		Channel:      channel,
		AttemptDate:  now,
		Status:       models.AttemptFailed,
		ErrorMessage: errMsg,
	})
	failed := 0
	for _, a := range r.DeliveryAttempts {
		if a.Status == models.AttemptFailed {
			failed++
		}
	}
	if failed >= len(r.Channels) {
		r.Status = models.ReminderFailed
	}
	r.UpdatedAt = now
	return r, IntentPersist
}

func MarkDelivered(r models.Reminder, now time.Time) (models.Reminder, Intent, error) {
	if r.Status != models.ReminderSent {
		return r, 0, ErrNotSent
	}
	r.Status = models.ReminderDelivered
	at := now
	r.DeliveredAt = &at
	r.UpdatedAt = now
	return r, IntentPersist, nil
}

// Acknowledge stores the recipient's response.
func Acknowledge(r models.Reminder, text string, action models.ResponseAction, now time.Time) (models.Reminder, Intent, error) {
	if r.Status == models.ReminderCancelled || r.Status == models.ReminderExpired {
		return r, 0, ErrInactive
	}
	at := now
	r.UserResponse = models.UserResponse{
		IsAcknowledged: true,
		AcknowledgedAt: &at,
		ResponseText:   text,
		ActionTaken:    action,
	}
	if action != "" {
		r.UserResponse.ActionTakenAt = &at
	}
	r.UpdatedAt = now
	return r, IntentPersist, nil
}

func Cancel(r models.Reminder, now time.Time) (models.Reminder, Intent, error) {
	if closed(r) {
		return r, 0, ErrInactive
	}
	r.Status = models.ReminderCancelled
	r.IsActive = false
	r.UpdatedAt = now
	return r, IntentPersist, nil
}

// Expire closes the reminder when its expiry has passed and is a no-op otherwise.
func Expire(r models.Reminder, now time.Time) (models.Reminder, Intent) {
	if r.ExpiresAt == nil || !now.After(*r.ExpiresAt) || closed(r) {
		return r, 0
	}
	r.Status = models.ReminderExpired
	r.IsActive = false
	r.UpdatedAt = now
	return r, IntentPersist
}

func escalationConfigured(r models.Reminder) bool {
	return r.Escalation.EscalateAfterDays > 0 && r.Escalation.EscalateToUserID != nil
}

// EscalationDue reports whether an unacknowledged reminder has waited past
// its escalation delay, counted from the due date or else the scheduled date.
func EscalationDue(r models.Reminder, now time.Time) bool {
	if !escalationConfigured(r) || r.Escalation.IsEscalated || r.UserResponse.IsAcknowledged {
		return false
	}
	from := r.ScheduledDate
	if r.DueDate != nil {
		from = *r.DueDate
	}
	return !now.Before(from.AddDate(0, 0, r.Escalation.EscalateAfterDays))
}

func Escalate(r models.Reminder, now time.Time) (models.Reminder, Intent, error) {
	if !escalationConfigured(r) {
		return r, 0, ErrEscalationNotConfigured
	}
	if r.Escalation.IsEscalated {
		return r, 0, nil
	}
	at := now
	r.Escalation.IsEscalated = true
	r.Escalation.EscalatedAt = &at
	r.UpdatedAt = now
	return r, IntentPersist | IntentEscalate, nil
}

func nextOccurrence(r models.Reminder, from time.Time) (time.Time, bool) {
	if r.Recurring.Interval > 0 {
		return from.AddDate(0, 0, r.Recurring.Interval), true
	}
	switch r.Frequency {
	case models.RecurDaily:
		return from.AddDate(0, 0, 1), true
	case models.RecurWeekly:
		return from.AddDate(0, 0, 7), true
	case models.RecurMonthly:
		return from.AddDate(0, 1, 0), true
	}
	return from, false
}

// Advance moves a sent recurring reminder to its next occurrence after now.
// It deactivates the reminder once maxOccurrences or the end date is reached.
// One-off reminders are left as they are.
func Advance(r models.Reminder, now time.Time) (models.Reminder, Intent) {
	next, ok := nextOccurrence(r, r.ScheduledDate)
	if !ok || closed(r) {
		return r, 0
	}
	r.Recurring.CurrentOccurrence++
	r.UpdatedAt = now
	if r.Recurring.MaxOccurrences > 0 && r.Recurring.CurrentOccurrence >= r.Recurring.MaxOccurrences {
		r.IsActive = false
		return r, IntentPersist
	}
	for !next.After(now) {
		next, _ = nextOccurrence(r, next)
	}
	if r.Recurring.EndDate != nil && next.After(*r.Recurring.EndDate) {
		r.IsActive = false
		return r, IntentPersist
	}
	r.ScheduledDate = next
	r.Status = models.ReminderScheduled
	return r, IntentPersist | IntentReschedule
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(day)))
}

// Eligible checks the reminder's conditions against its installment derived
// at now. Without an installment the reminder's own due date and amount
// stand in, and the paid-status gates pass.
func Eligible(r models.Reminder, inst *models.Installment, now time.Time) bool {
	c := r.Conditions
	if inst == nil {
		if c.DaysBeforeDue != nil || c.DaysAfterDue != nil {
			if r.DueDate == nil || !dueWindow(c, *r.DueDate, now) {
				return false
			}
		}
		return minimumMet(c, r)
	}

	derived := ledger.DeriveInstallment(*inst, now)
	if c.OnlyIfUnpaid && derived.Status == models.InstallmentPaid {
		return false
	}
	if c.SkipIfPartiallyPaid && derived.Status == models.InstallmentPartiallyPaid {
		return false
	}
	if c.MinimumAmount != nil && derived.RemainingAmount.LessThan(*c.MinimumAmount) {
		return false
	}
	return dueWindow(c, derived.DueDate, now)
}

func dueWindow(c models.ReminderConditions, due, now time.Time) bool {
	if c.DaysBeforeDue != nil {
		until := ceilDays(due.Sub(now))
		if until < 0 || until > *c.DaysBeforeDue {
			return false
		}
	}
	if c.DaysAfterDue != nil {
		if int(now.Sub(due)/day) < *c.DaysAfterDue {
			return false
		}
	}
	return true
}

func minimumMet(c models.ReminderConditions, r models.Reminder) bool {
	if c.MinimumAmount == nil {
		return true
	}
	return r.Amount != nil && r.Amount.GreaterThanOrEqual(*c.MinimumAmount)
}
