package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/asheshgoplani/linkdeck/internal/account"
	"github.com/asheshgoplani/linkdeck/internal/errlog"
)

const maxBodyBytes = 64 << 10

type createAccountRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
}

type sendMessageRequest struct {
	Destination string `json:"destination"`
	Text        string `json:"text"`
}

type accountsResponse struct {
	Accounts []account.AccountSummary `json:"accounts"`
}

type conversationsResponse struct {
	AccountID     string                        `json:"accountId"`
	Query         string                        `json:"query,omitempty"`
	Conversations []account.ConversationSummary `json:"conversations"`
}

type messagesResponse struct {
	AccountID      string                  `json:"accountId"`
	ConversationID string                  `json:"conversationId"`
	Messages       []account.MessageRecord `json:"messages"`
}

type errorsResponse struct {
	Errors []errlog.Entry `json:"errors"`
}

// decodeBody reads a bounded JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && err != io.EOF {
		return fmt.Errorf("%w: %v", account.ErrInvalidInput, err)
	}
	return nil
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	res, err := s.accounts.CreateAccount(r.Context(), req.ID, req.DisplayName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListAccounts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, accountsResponse{Accounts: s.accounts.ListAccounts()})
}

func (s *Server) handleRemoveAccount(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.RemoveAccount(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleHandshake blocks until the cascade yields a code or fails. A client
// that disconnects aborts the attempt.
func (s *Server) handleHandshake(w http.ResponseWriter, r *http.Request) {
	res, err := s.accounts.BeginHandshake(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Status == account.StatusInitializing {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	view, err := s.accounts.SwitchActive(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.accounts.StateHistory(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accountId": r.PathValue("id"), "history": history})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeBody(r, &req); err != nil {
		writeServiceError(w, r, err)
		return
	}
	rec, err := s.accounts.SendMessage(r.Context(), r.PathValue("id"), req.Destination, req.Text)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv := strings.TrimSpace(r.URL.Query().Get("conversation"))
	if conv == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "conversation is required")
		return
	}
	msgs, err := s.accounts.Messages(id, conv)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(msgs) {
		msgs = msgs[len(msgs)-limit:]
	}
	if msgs == nil {
		msgs = []account.MessageRecord{}
	}
	writeJSON(w, http.StatusOK, messagesResponse{AccountID: id, ConversationID: conv, Messages: msgs})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	query := strings.TrimSpace(r.URL.Query().Get("q"))

	var (
		convs []account.ConversationSummary
		err   error
	)
	if query == "" {
		convs, err = s.accounts.ListConversations(r.Context(), id)
	} else {
		convs, err = s.accounts.SearchConversations(r.Context(), id, query)
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationsResponse{AccountID: id, Query: query, Conversations: convs})
}

func (s *Server) handleSelectConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.SelectConversation(r.PathValue("id"), r.PathValue("conv")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.accounts.StatusSummary())
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	entries := s.accounts.RecentErrors()
	if id := strings.TrimSpace(r.URL.Query().Get("account")); id != "" {
		filtered := entries[:0:0]
		for _, e := range entries {
			if e.AccountID == id {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}
	if entries == nil {
		entries = []errlog.Entry{}
	}
	writeJSON(w, http.StatusOK, errorsResponse{Errors: entries})
}
