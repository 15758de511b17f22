package main

import (
	"net/http"

	"github.com/mcclellann/lendtrack/pkg/models"
	"github.com/mcclellann/lendtrack/pkg/reminder"
)

func (s *Server) createReminderHandler(w http.ResponseWriter, r *http.Request) {
	var req reminder.Request
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.CreatorID = currentUser(r)
	created, err := s.reminders.Create(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, created)
}

func (s *Server) listRemindersHandler(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") != "false"
	reminders, err := s.reminders.List(r.Context(), currentUser(r), activeOnly)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if reminders == nil {
		reminders = []*models.Reminder{}
	}
	s.respond(w, http.StatusOK, reminders)
}

func (s *Server) acknowledgeReminderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var body struct {
		ResponseText string                `json:"response_text"`
		ActionTaken  models.ResponseAction `json:"action_taken"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &body); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	updated, err := s.reminders.Acknowledge(r.Context(), id, currentUser(r), body.ResponseText, body.ActionTaken)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, updated)
}

func (s *Server) cancelReminderHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	updated, err := s.reminders.Cancel(r.Context(), id, currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, updated)
}

func (s *Server) listNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	notifications, err := s.reminders.Notifications(r.Context(), currentUser(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if notifications == nil {
		notifications = []*models.Notification{}
	}
	s.respond(w, http.StatusOK, notifications)
}

func (s *Server) readNotificationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.reminders.MarkRead(r.Context(), id, currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, n)
}

func (s *Server) notificationActionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := s.reminders.MarkActionTaken(r.Context(), id, currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, n)
}
