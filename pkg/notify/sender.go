// Package notify delivers due reminders through per-channel senders.
package notify

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	ErrChannelDisabled = errors.New("channel disabled")
	ErrNoAddress       = errors.New("recipient has no address for this channel")
)

// Message is what a sender delivers for one reminder.
type Message struct {
	NotificationID uuid.UUID
	To             *models.User
	Subject        string
	Body           string
	Priority       models.Priority
}

// Sender delivers a message on one channel and returns a delivery id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// InAppSender delivers by way of the notification record the dispatcher
// stores, so the delivery id is the notification id.
type InAppSender struct{}

func (InAppSender) Send(ctx context.Context, msg Message) (string, error) {
	return msg.NotificationID.String(), nil
}

// LogSender stands in for channels without a gateway. It logs the message
// and reports it as delivered.
type LogSender struct {
	Channel models.Channel
	Logger  *logrus.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) (string, error) {
	if s.Channel == models.ChannelSMS && msg.To.PhoneNumber == "" {
		return "", ErrNoAddress
	}
	id := uuid.NewString()
	s.Logger.WithFields(logrus.Fields{
		"channel":         s.Channel,
		"user_id":         msg.To.ID,
		"notification_id": msg.NotificationID,
		"delivery_id":     id,
	}).Info(msg.Subject)
	return id, nil
}
