package httpapi

import (
	"net/http"

	"github.com/whisper/chatroom/internal/protocol"
)

// registerParticipant handles POST /participants.
func (a *API) registerParticipant(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.participants.Register(r.Context(), req.Name)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.NewParticipantView(p))
}

// listParticipants handles GET /participants.
func (a *API) listParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := a.participants.ListAll(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.NewParticipantViews(ps))
}

// removeParticipant handles DELETE /participants, logging the requester off.
func (a *API) removeParticipant(w http.ResponseWriter, r *http.Request) {
	user, err := requester(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if _, err := a.participants.Remove(r.Context(), user); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// heartbeat handles POST /status.
func (a *API) heartbeat(w http.ResponseWriter, r *http.Request) {
	user, err := requester(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.participants.Touch(r.Context(), user); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
