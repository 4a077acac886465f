package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
)

// DispatcherConfig configures the action dispatcher.
type DispatcherConfig struct {
	// URL is the action endpoint.
	URL string

	// Client issues the requests; share the transport's cookie-jar
	// client so the session cookie matches the event stream.
	Client *http.Client

	// Signals supplies the snapshot attached to every request. May be
	// nil.
	Signals *Signals

	// SessionID is sent explicitly when set; otherwise the server
	// resolves the session from the cookie.
	SessionID string

	Logger *slog.Logger
}

// Dispatcher sends actions to the server and returns the immediate
// response events. Broadcast effects of an action arrive over the
// event stream, not here.
type Dispatcher struct {
	cfg DispatcherConfig
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "client.dispatch")
	}
	return &Dispatcher{cfg: cfg}
}

// Dispatch posts one action with its arguments and the current signal
// snapshot. A non-2xx status logs and returns an error without
// touching local state.
func (d *Dispatcher) Dispatch(ctx context.Context, action string, args map[string]any) ([]protocol.Event, error) {
	req := protocol.ActionRequest{
		SessionID: d.cfg.SessionID,
		Action:    action,
		Args:      args,
	}
	if d.cfg.Signals != nil {
		req.Signals = d.cfg.Signals.Snapshot()
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("client: encode action %q: %w", action, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.cfg.Client.Do(httpReq)
	if err != nil {
		d.cfg.Logger.Error("action request failed", "action", action, "error", err)
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusOK:
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		return protocol.DecodeEvents(raw)
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		d.cfg.Logger.Error("action rejected", "action", action, "status", resp.StatusCode, "body", strings.TrimSpace(string(msg)))
		return nil, fmt.Errorf("client: action %q rejected with status %d", action, resp.StatusCode)
	}
}
