package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/reminder"
	"github.com/sirupsen/logrus"
)

// RetryFailed resends the failed channels of stored notifications that still
// have retries left. Each notification is rewritten with the new delivery
// state whatever the outcome.
func (d *Dispatcher) RetryFailed(ctx context.Context, now time.Time) (*Report, error) {
	pending, err := d.storage.ListRetryableNotifications(ctx, models.MaxNotificationRetries)
	if err != nil {
		return nil, fmt.Errorf("list retryable notifications: %w", err)
	}
	report := &Report{}
	for _, n := range pending {
		report.Processed++
		if err := d.retry(ctx, *n, now, report); err != nil {
			report.Errors++
			d.logger.WithError(err).WithField("notification_id", n.ID).Error("Failed to retry notification")
		}
	}
	if report.Processed > 0 {
		d.logger.WithFields(logrus.Fields{
			"processed": report.Processed,
			"sent":      report.Sent,
			"failed":    report.Failed,
		}).Info("Notification retry sweep finished")
	}
	return report, nil
}

func failedChannels(n models.Notification) []models.Channel {
	var out []models.Channel
	for _, ch := range n.Channels {
		if n.DeliveryStatus[ch].Status == models.ChannelFailed {
			out = append(out, ch)
		}
	}
	return out
}

func (d *Dispatcher) retry(ctx context.Context, n models.Notification, now time.Time, report *Report) error {
	channels := failedChannels(n)
	if !reminder.CanRetry(n) || len(channels) == 0 {
		report.Skipped++
		return nil
	}
	user, err := d.storage.GetUser(ctx, n.UserID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}

	log := d.logger.WithField("notification_id", n.ID)
	msg := Message{NotificationID: n.ID, To: user, Subject: n.Title, Body: n.Message, Priority: n.Priority}
	for _, ch := range channels {
		var sendErr error
		if sender, ok := d.senders[ch]; ok {
			_, sendErr = sender.Send(ctx, msg)
		} else {
			sendErr = fmt.Errorf("no sender for channel %s", ch)
		}

		var recordErr error
		n, recordErr = reminder.RecordDelivery(n, ch, sendErr, now)
		if sendErr == nil {
			report.Sent++
		} else {
			report.Failed++
			log.WithError(sendErr).WithField("channel", ch).Warn("Notification retry failed")
		}
		if errors.Is(recordErr, reminder.ErrRetriesExhausted) {
			log.WithField("retries", n.RetryCount).Warn("Notification retries exhausted")
			break
		}
	}
	return d.storage.UpdateNotification(ctx, &n)
}
