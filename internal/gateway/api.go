// ABOUTME: HTTP API handlers for querying and writing chat collections
// ABOUTME: Scopes reads to the caller and derives chat summaries from message writes

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/dedupe"
	"github.com/2389/coven-chat/internal/query"
)

// QueryRequest is the JSON request body for POST /api/query.
type QueryRequest struct {
	Collection string        `json:"collection"`
	Filter     *query.Filter `json:"filter,omitempty"`
}

// QueryResponse is the JSON response for POST /api/query.
type QueryResponse struct {
	Records []query.Record `json:"records"`
}

// WriteRequest is the JSON request body for POST /api/write.
type WriteRequest struct {
	Collection string       `json:"collection"`
	Record     query.Record `json:"record"`
}

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// apiError carries an HTTP status for a handler failure.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func errorf(status int, format string, args ...any) *apiError {
	return &apiError{status: status, message: fmt.Sprintf(format, args...)}
}

// handleQuery handles POST /api/query.
func (g *Gateway) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	filter, err := scopeFilter(auth.UserID(r.Context()), req.Collection, req.Filter)
	if err != nil {
		g.sendAPIError(w, err)
		return
	}

	records, err := g.hub.Fetch(r.Context(), req.Collection, filter)
	if err != nil {
		g.sendAPIError(w, g.backendError("query", err))
		return
	}

	g.logger.Debug("query served",
		"user_id", auth.UserID(r.Context()),
		"collection", req.Collection,
		"records", len(records))
	g.sendJSON(w, http.StatusOK, QueryResponse{Records: records})
}

// handleWrite handles POST /api/write.
func (g *Gateway) handleWrite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req WriteRequest
	if err := decodeBody(w, r, &req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Record == nil {
		g.sendJSONError(w, http.StatusBadRequest, "record is required")
		return
	}

	principal := auth.UserID(r.Context())
	var (
		result query.WriteResult
		err    error
	)
	switch req.Collection {
	case query.CollectionMessages:
		result, err = g.writeMessage(r.Context(), principal, req.Record)
	case query.CollectionUsers:
		result, err = g.writeUser(r.Context(), principal, req.Record)
	case query.CollectionChats:
		err = errorf(http.StatusForbidden, "chats are derived from messages and cannot be written")
	default:
		err = errorf(http.StatusBadRequest, "unknown collection %q", req.Collection)
	}
	if err != nil {
		g.sendAPIError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, result)
}

// writeMessage stores a message sent by principal. A repeated id inside the
// dedupe window is acknowledged as a duplicate and not re-published.
func (g *Gateway) writeMessage(ctx context.Context, principal string, rec query.Record) (query.WriteResult, error) {
	rec = rec.Clone()
	from := rec.String("from")
	switch {
	case from == "":
		from = principal
		rec["from"] = from
	case from != principal:
		return query.WriteResult{}, errorf(http.StatusForbidden, "messages must be sent as the authenticated user")
	}
	to := rec.String("to")
	if to == "" {
		return query.WriteResult{}, errorf(http.StatusBadRequest, "message recipient (to) is required")
	}
	id := rec.ID()
	if id == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	sentAt, ok := rec.Time("time")
	if !ok {
		sentAt = g.now().UTC()
		rec["time"] = sentAt.Format(time.RFC3339Nano)
	}

	existing, err := g.hub.Fetch(ctx, query.CollectionMessages, query.Cond("id", query.OpEq, id))
	if err != nil {
		return query.WriteResult{}, g.backendError("write", err)
	}
	if len(existing) > 0 && existing[0].String("from") != from {
		return query.WriteResult{}, errorf(http.StatusConflict, "message id %q is already taken", id)
	}

	key := dedupe.Key(query.CollectionMessages, id)
	if g.dedupe.CheckAndMark(key) {
		g.logger.Debug("duplicate message write", "id", id, "from", from)
		return query.WriteResult{ID: id, Status: query.WriteDuplicate}, nil
	}

	result, err := g.hub.Write(ctx, query.CollectionMessages, rec)
	if err != nil {
		g.dedupe.Forget(key)
		return query.WriteResult{}, g.backendError("write", err)
	}

	summary := chat.ChatSummary{ID: chat.SummaryID(from, to), From: from, To: to, Time: sentAt}
	if _, err := g.hub.Write(ctx, query.CollectionChats, summary.Record()); err != nil {
		g.logger.Warn("failed to update chat summary", "chat_id", summary.ID, "error", err)
	}

	g.logger.Debug("message stored", "id", id, "from", from, "to", to)
	return result, nil
}

// writeUser updates principal's own users record. Fields not present in rec
// keep their stored values; the email cannot be changed here.
func (g *Gateway) writeUser(ctx context.Context, principal string, rec query.Record) (query.WriteResult, error) {
	id := rec.ID()
	if id == "" {
		id = principal
	}
	if id != principal {
		return query.WriteResult{}, errorf(http.StatusForbidden, "users may only update their own record")
	}
	if id == chat.BroadcastID {
		return query.WriteResult{}, errorf(http.StatusBadRequest, "user id %q is reserved", chat.BroadcastID)
	}

	existing, err := g.hub.Fetch(ctx, query.CollectionUsers, query.Cond("id", query.OpEq, id))
	if err != nil {
		return query.WriteResult{}, g.backendError("write", err)
	}
	merged := query.Record{}
	if len(existing) > 0 {
		merged = existing[0].Clone()
	}
	for k, v := range rec {
		if k == "email" {
			continue
		}
		merged[k] = v
	}
	merged["id"] = id

	result, err := g.hub.Write(ctx, query.CollectionUsers, merged)
	if err != nil {
		return query.WriteResult{}, g.backendError("write", err)
	}
	return result, nil
}

// scopeFilter restricts messages and chats to those the caller takes part
// in. Users are visible to every authenticated caller.
func scopeFilter(principal, collection string, filter *query.Filter) (*query.Filter, error) {
	if err := filter.Validate(); err != nil {
		return nil, errorf(http.StatusBadRequest, "invalid filter: %v", err)
	}
	switch collection {
	case query.CollectionUsers:
		return filter, nil
	case query.CollectionMessages, query.CollectionChats:
		visible := query.Or(
			query.Cond("from", query.OpEq, principal),
			query.Cond("to", query.OpEq, principal),
			query.Cond("to", query.OpEq, chat.BroadcastID),
		)
		if filter == nil {
			return visible, nil
		}
		return query.And(visible, filter), nil
	case "":
		return nil, errorf(http.StatusBadRequest, "collection is required")
	default:
		return nil, errorf(http.StatusBadRequest, "unknown collection %q", collection)
	}
}

// backendError maps hub failures onto HTTP errors.
func (g *Gateway) backendError(op string, err error) error {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	if errors.Is(err, query.ErrClosed) {
		return errorf(http.StatusServiceUnavailable, "gateway is shutting down")
	}
	g.logger.Error(op+" failed", "error", err)
	return errorf(http.StatusInternalServerError, "internal server error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}

func (g *Gateway) sendAPIError(w http.ResponseWriter, err error) {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		g.sendJSONError(w, apiErr.status, apiErr.message)
		return
	}
	g.sendAPIError(w, g.backendError("request", err))
}
