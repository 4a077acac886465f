package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hyperstar-dev/hyperstar/pkg/action"
	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
	"github.com/hyperstar-dev/hyperstar/pkg/session"
)

// handleAction serves POST {base}/action: decode, dispatch, encode the
// direct-response events. Error classes map to status codes; handler
// error details never leave the server.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	var req protocol.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed action request", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		http.Error(w, "missing actionId", http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		req.SessionID = session.FromRequest(r, s.config.CookieName)
	}

	events, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		var verr *action.ValidationError
		switch {
		case errors.Is(err, action.ErrUnknownAction):
			http.Error(w, "unknown action", http.StatusNotFound)
		case errors.As(err, &verr):
			http.Error(w, verr.Error(), http.StatusBadRequest)
		default:
			http.Error(w, "action failed", http.StatusInternalServerError)
		}
		return
	}

	if len(events) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	body, err := protocol.EncodeEvents(events)
	if err != nil {
		s.logger.Error("response encode failed", "action", req.Action, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
