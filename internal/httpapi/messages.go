package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/whisper/chatroom/internal/chat"
	"github.com/whisper/chatroom/internal/metrics"
	"github.com/whisper/chatroom/internal/protocol"
)

// postMessage handles POST /messages.
func (a *API) postMessage(w http.ResponseWriter, r *http.Request) {
	user, err := requester(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req postMessageRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	if a.opts.Limiter != nil {
		// Allow fails open and logs its own errors.
		allowed, _ := a.opts.Limiter.Allow(r.Context(), user)
		if !allowed {
			metrics.RateLimitedTotal.Inc()
			retry := a.opts.Limiter.RetryAfter(r.Context(), user)
			w.Header().Set("Retry-After", strconv.Itoa(max(int(retry.Seconds()), 1)))
			writeErrorCode(w, http.StatusTooManyRequests, "rate_limited", "too many messages, slow down")
			return
		}
	}

	m, err := a.messages.Append(r.Context(), chat.Draft{
		From: user,
		To:   req.To,
		Text: req.Text,
		Kind: req.Type,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	metrics.MessagesTotal.WithLabelValues(m.Kind).Inc()
	writeJSON(w, http.StatusCreated, protocol.NewMessageView(m))
}

// listMessages handles GET /messages?limit=N.
func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	user, err := requester(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	msgs, err := a.messages.ListFor(r.Context(), user, limit)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.NewMessageViews(msgs))
}

// getMessage handles GET /messages/{id}. Messages the requester may not see
// are reported as missing.
func (a *API) getMessage(w http.ResponseWriter, r *http.Request) {
	user, err := requester(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	m, err := a.messages.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !m.VisibleTo(user) {
		a.writeError(w, r, chat.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, protocol.NewMessageView(m))
}

// editMessage handles PUT /messages/{id}.
func (a *API) editMessage(w http.ResponseWriter, r *http.Request) {
	user, err := requester(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	var req editMessageRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	m, err := a.messages.Edit(r.Context(), chi.URLParam(r, "id"), user, chat.Draft{
		To:   req.To,
		Text: req.Text,
		Kind: req.Type,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.NewMessageView(m))
}

// deleteMessage handles DELETE /messages/{id}.
func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	user, err := requester(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.messages.Delete(r.Context(), chi.URLParam(r, "id"), user); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseLimit accepts an absent or integer limit. Zero and negative values
// mean no limit.
func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: limit must be an integer", chat.ErrInvalidInput)
	}
	return n, nil
}
