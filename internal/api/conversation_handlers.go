package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Rahuldrabit/Customer-Support-Sales-Agent-ForTikTok-Linkdin/internal/models"
)

// actorHeader names the operator performing an admin action when the body
// does not.
const actorHeader = "X-Actor"

type escalateRequest struct {
	Reason   string          `json:"reason"`
	Priority models.Priority `json:"priority"`
	Actor    string          `json:"actor"`
}

type overrideRequest struct {
	Text  string `json:"text"`
	Actor string `json:"actor"`
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func actorOf(r *http.Request, body string) string {
	if body != "" {
		return body
	}
	if h := r.Header.Get(actorHeader); h != "" {
		return h
	}
	return "admin"
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func queryBool(r *http.Request, key string) (*bool, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, true
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, false
	}
	return &b, true
}

// statusHandler handles GET /v1/admin/status.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status, err := s.admin.GetAgentStatus(r.Context())
	if err != nil {
		writeError(w, "statusHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(status))
}

// configHandler handles GET /v1/admin/config.
func (s *Server) configHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(s.admin.CurrentConfig()))
}

// listConversationsHandler handles GET /v1/admin/conversations.
func (s *Server) listConversationsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	escalated, okEsc := queryBool(r, "escalated")
	if !okLimit || !okOffset || !okEsc {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid query parameters"))
		return
	}
	filter := models.ConversationFilter{
		Platform:  models.Platform(q.Get("platform")),
		Status:    models.ConversationStatus(q.Get("status")),
		Priority:  models.Priority(q.Get("priority")),
		Escalated: escalated,
		Limit:     limit,
		Offset:    offset,
	}
	convs, err := s.admin.ListConversations(r.Context(), filter)
	if err != nil {
		writeError(w, "listConversationsHandler", err)
		return
	}
	slog.Debug("Server.listConversationsHandler: listed", "count", len(convs))
	writeJSONResponse(w, http.StatusOK, models.List(convs))
}

// getConversationHandler handles GET /v1/admin/conversations/{id}.
func (s *Server) getConversationHandler(w http.ResponseWriter, r *http.Request) {
	conv, err := s.admin.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "getConversationHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(conv))
}

// listMessagesHandler handles GET /v1/admin/conversations/{id}/messages.
func (s *Server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	limit, okLimit := queryInt(r, "limit")
	offset, okOffset := queryInt(r, "offset")
	if !okLimit || !okOffset {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid query parameters"))
		return
	}
	msgs, err := s.admin.ListMessages(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, "listMessagesHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.List(msgs))
}

// forceEscalateHandler handles POST /v1/admin/conversations/{id}/escalate.
func (s *Server) forceEscalateHandler(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	rec, err := s.admin.ForceEscalate(r.Context(), chi.URLParam(r, "id"), req.Reason, req.Priority, actorOf(r, req.Actor))
	if err != nil {
		writeError(w, "forceEscalateHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(rec))
}

// overrideHandler handles POST /v1/admin/messages/{id}/override.
func (s *Server) overrideHandler(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	o, err := s.admin.OverrideResponse(r.Context(), chi.URLParam(r, "id"), req.Text, actorOf(r, req.Actor))
	if err != nil {
		writeError(w, "overrideHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(o))
}

// listEscalationsHandler handles GET /v1/admin/escalations.
func (s *Server) listEscalationsHandler(w http.ResponseWriter, r *http.Request) {
	resolved, okRes := queryBool(r, "resolved")
	limit, okLimit := queryInt(r, "limit")
	if !okRes || !okLimit {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid query parameters"))
		return
	}
	recs, err := s.admin.ListEscalations(r.Context(), resolved, limit)
	if err != nil {
		writeError(w, "listEscalationsHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.List(recs))
}

// resolveEscalationHandler handles POST /v1/admin/escalations/{id}/resolve.
func (s *Server) resolveEscalationHandler(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	rec, err := s.admin.ResolveEscalation(r.Context(), chi.URLParam(r, "id"), actorOf(r, req.Actor))
	if err != nil {
		writeError(w, "resolveEscalationHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(rec))
}

// listDeadLettersHandler handles GET /v1/admin/dead-letters.
func (s *Server) listDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid query parameters"))
		return
	}
	items, err := s.admin.ListDeadLetters(r.Context(), limit)
	if err != nil {
		writeError(w, "listDeadLettersHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.List(items))
}

// requeueDeadLetterHandler handles POST /v1/admin/dead-letters/{id}/requeue.
func (s *Server) requeueDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := decodeOptional(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.admin.RequeueDeadLetter(r.Context(), id, actorOf(r, req.Actor)); err != nil {
		writeError(w, "requeueDeadLetterHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("requeued", map[string]string{"id": id}))
}
