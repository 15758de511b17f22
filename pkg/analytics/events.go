package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/models"
)

// TrackRequest is a client-reported analytics event.
type TrackRequest struct {
	UserID    uuid.UUID              `json:"-"`
	LoanID    *uuid.UUID             `json:"loan_id,omitempty"`
	Type      models.EventType       `json:"event_type"`
	Context   map[string]interface{} `json:"context,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

// Track appends an event to the log.
func (s *Service) Track(ctx context.Context, req TrackRequest) (*models.Event, error) {
	if req.Type == "" {
		return nil, apperr.Validation("event type is required")
	}
	if !req.Type.Valid() {
		return nil, apperr.Validation("unknown event type %q", req.Type)
	}
	event := &models.Event{
		ID:        uuid.New(),
		UserID:    req.UserID,
		LoanID:    req.LoanID,
		Type:      req.Type,
		Context:   req.Context,
		UserAgent: req.UserAgent,
		IPAddress: req.IPAddress,
		SessionID: req.SessionID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.storage.CreateEvent(ctx, event); err != nil {
		s.logger.WithError(err).WithField("event_type", req.Type).Warn("Failed to record analytics event")
		return nil, err
	}
	return event, nil
}

// EventReport lists a user's events with a per-type count.
type EventReport struct {
	Events      []*models.Event          `json:"events"`
	Summary     map[models.EventType]int `json:"summary"`
	TotalEvents int                      `json:"total_events"`
}

// UserEvents returns the user's most recent events, optionally narrowed to a
// date range and an event type.
func (s *Service) UserEvents(ctx context.Context, userID uuid.UUID, from, to *time.Time, eventType models.EventType) (*EventReport, error) {
	if eventType != "" && !eventType.Valid() {
		return nil, apperr.Validation("unknown event type %q", eventType)
	}
	events, err := s.storage.ListEvents(ctx, models.EventFilter{
		UserID: &userID,
		Type:   eventType,
		From:   from,
		To:     to,
		Limit:  maxUserEvents,
	})
	if err != nil {
		return nil, err
	}
	report := &EventReport{Events: events, Summary: map[models.EventType]int{}, TotalEvents: len(events)}
	for _, e := range events {
		report.Summary[e.Type]++
	}
	return report, nil
}
