package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/lendtrack/pkg/apperr"
	"github.com/mcclellann/lendtrack/pkg/auth"
	"github.com/sirupsen/logrus"
)

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Warn("Failed to write response")
	}
}

// fail maps err onto a status and a {"message": ...} body. Internal errors
// are logged and never shown to the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := apperr.HTTPStatus(err)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		status, message = http.StatusUnauthorized, "Invalid credentials"
	}
	log := s.logger.WithError(err).WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path})
	if status >= http.StatusInternalServerError {
		log.Error("Request failed")
	} else {
		log.Debug("Request rejected")
	}
	s.respond(w, status, map[string]string{"message": message})
}

func currentUser(r *http.Request) uuid.UUID {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("invalid request body")
	}
	return nil
}

// queryTime reads an optional RFC 3339 or YYYY-MM-DD query parameter.
func queryTime(r *http.Request, key string) (*time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, apperr.Validation("invalid %s date", key)
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("invalid %s", key)
	}
	return n, nil
}
