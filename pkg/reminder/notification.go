package reminder

import (
	"errors"
	"time"

	"github.com/mcclellann/lendtrack/pkg/models"
)

var ErrRetriesExhausted = errors.New("notification retries exhausted")

func copyDeliveries(n models.Notification) models.Notification {
	status := make(map[models.Channel]models.ChannelDelivery, len(n.DeliveryStatus)+1)
	for ch, d := range n.DeliveryStatus {
		status[ch] = d
	}
	n.DeliveryStatus = status
	return n
}

func MarkRead(n models.Notification, now time.Time) models.Notification {
	n = copyDeliveries(n)
	at := now
	n.IsRead = true
	n.ReadAt = &at
	n.Status = models.NotificationRead
	inApp := n.DeliveryStatus[models.ChannelInApp]
	inApp.Status = models.ChannelRead
	inApp.ReadAt = &at
	n.DeliveryStatus[models.ChannelInApp] = inApp
	n.UpdatedAt = now
	return n
}

func MarkActionTaken(n models.Notification, now time.Time) models.Notification {
	at := now
	n.ActionTaken = true
	n.ActionTakenAt = &at
	n.UpdatedAt = now
	return n
}

// CanRetry reports whether another delivery attempt is allowed.
func CanRetry(n models.Notification) bool {
	return n.Status != models.NotificationRead && n.RetryCount < models.MaxNotificationRetries
}

// RecordDelivery stores the outcome of sending n on one channel. A failure
// bumps RetryCount and returns ErrRetriesExhausted once the cap is reached;
// the notification fails when no channel has gone out.
func RecordDelivery(n models.Notification, channel models.Channel, sendErr error, now time.Time) (models.Notification, error) {
	n = copyDeliveries(n)
	at := now
	d := n.DeliveryStatus[channel]
	n.UpdatedAt = now

	if sendErr == nil {
		d.Status = models.ChannelSent
		d.SentAt = &at
		d.ErrorMessage = ""
		n.DeliveryStatus[channel] = d
		if n.Status != models.NotificationRead && n.Status != models.NotificationDelivered {
			n.Status = models.NotificationSent
		}
		return n, nil
	}

	d.Status = models.ChannelFailed
	d.ErrorMessage = sendErr.Error()
	n.DeliveryStatus[channel] = d

	anySent := false
	for _, ch := range n.Channels {
		switch n.DeliveryStatus[ch].Status {
		case models.ChannelSent, models.ChannelDelivered, models.ChannelRead:
			anySent = true
		}
	}
	if !anySent {
		n.Status = models.NotificationFailed
	}

	if n.RetryCount >= models.MaxNotificationRetries {
		return n, ErrRetriesExhausted
	}
	n.RetryCount++
	n.LastRetryAt = &at
	if n.RetryCount >= models.MaxNotificationRetries {
		return n, ErrRetriesExhausted
	}
	return n, nil
}
