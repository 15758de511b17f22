package main

import (
	"net"
	"net/http"

	"github.com/mcclellann/lendtrack/pkg/analytics"
	"github.com/mcclellann/lendtrack/pkg/models"
)

func (s *Server) lenderDashboardHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.analytics.LenderDashboard(r.Context(), currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, d)
}

func (s *Server) clientDashboardHandler(w http.ResponseWriter, r *http.Request) {
	d, err := s.analytics.ClientDashboard(r.Context(), currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, d)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	stats, err := s.analytics.Stats(r.Context(), currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, stats)
}

func (s *Server) quickActionsHandler(w http.ResponseWriter, r *http.Request) {
	actions, err := s.analytics.QuickActions(r.Context(), currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, actions)
}

func (s *Server) activityHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	activity, err := s.analytics.RecentActivity(r.Context(), currentUser(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, activity)
}

func (s *Server) loanAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.analytics.LoanAnalytics(r.Context(), loanID, currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}

func (s *Server) loanSuggestionsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	suggestions, err := s.analytics.LoanSuggestions(r.Context(), loanID, currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, suggestions)
}

func (s *Server) paymentAnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	report, err := s.analytics.PaymentAnalytics(r.Context(), currentUser(r), from, to)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}

func (s *Server) trackEventHandler(w http.ResponseWriter, r *http.Request) {
	var req analytics.TrackRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.UserID = currentUser(r)
	if req.UserAgent == "" {
		req.UserAgent = r.UserAgent()
	}
	if req.IPAddress == "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			req.IPAddress = host
		}
	}
	event, err := s.analytics.Track(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, event)
}

func (s *Server) userEventsHandler(w http.ResponseWriter, r *http.Request) {
	from, err := queryTime(r, "from")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := queryTime(r, "to")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	eventType := models.EventType(r.URL.Query().Get("event_type"))
	report, err := s.analytics.UserEvents(r.Context(), currentUser(r), from, to, eventType)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, report)
}
