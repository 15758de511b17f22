package main

import (
	"net/http"

	"github.com/mcclellann/lendtrack/pkg/chat"
)

func (s *Server) createConversationHandler(w http.ResponseWriter, r *http.Request) {
	var req chat.ConversationRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	req.UserID = currentUser(r)
	conv, err := s.chat.CreateConversation(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, conv)
}

func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	conversations, err := s.chat.Conversations(r.Context(), currentUser(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, conversations)
}

func (s *Server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	conversationID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req chat.MessageRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.ConversationID = conversationID
	req.UserID = currentUser(r)

	exchange, err := s.chat.SendMessage(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, exchange)
}

// listMessagesHandler pages through a conversation with ?page= and ?limit=.
func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	conversationID, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	messages, err := s.chat.Messages(r.Context(), conversationID, currentUser(r), page, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, messages)
}
