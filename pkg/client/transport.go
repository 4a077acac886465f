package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hyperstar-dev/hyperstar/pkg/protocol"
)

// TransportState is the connection lifecycle of the SSE transport.
type TransportState int

const (
	// Disconnected means no stream is open and none is being opened.
	Disconnected TransportState = iota

	// Connecting means a connection attempt is in flight.
	Connecting

	// Connected means the event stream is open and being read.
	Connected
)

func (s TransportState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrTooManyAttempts is reported when the reconnect attempt budget is
// exhausted. The transport stays Disconnected until Connect is called
// again.
var ErrTooManyAttempts = errors.New("client: reconnect attempts exhausted")

// TransportConfig configures the SSE transport.
type TransportConfig struct {
	// URL is the event stream endpoint.
	URL string

	// Client issues the streaming requests. Defaults to
	// http.DefaultClient; supply one with a cookie jar so the session
	// cookie rides along.
	Client *http.Client

	// OnEvent receives each decoded event in stream order.
	OnEvent func(protocol.Event)

	// OnStateChange observes lifecycle transitions.
	OnStateChange func(TransportState)

	// BaseDelay is the first reconnect delay. Doubles per failed
	// attempt up to MaxDelay.
	BaseDelay time.Duration

	// MaxDelay caps the reconnect delay.
	MaxDelay time.Duration

	// MaxAttempts bounds consecutive failures before the transport
	// gives up. Zero means 10.
	MaxAttempts int

	// JitterFrac adds up to this fraction of random extra delay, so a
	// fleet of clients does not reconnect in lockstep. Zero disables
	// jitter (useful in tests).
	JitterFrac float64

	Logger *slog.Logger
}

// Transport maintains a server-sent event stream, reconnecting with
// exponential backoff and resuming from the last seen event id. A
// paused transport keeps reading and tracking ids but drops events
// instead of delivering them.
type Transport struct {
	cfg TransportConfig

	mu      sync.Mutex
	state   TransportState
	paused  bool
	lastID  uint64
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewTransport creates a transport. Call Connect to start it.
func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default().With("component", "client.transport")
	}
	return &Transport{cfg: cfg}
}

// ReconnectDelay computes the backoff before reconnect attempt n
// (1-based): base doubled per prior failure, capped at max, plus up to
// jitterFrac of random extra.
func ReconnectDelay(attempt int, base, max time.Duration, jitterFrac float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	if jitterFrac > 0 {
		d += time.Duration(rand.Float64() * jitterFrac * float64(d))
	}
	return d
}

// Connect starts the stream loop. Calling it while already running is
// a no-op.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.lastErr = nil
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	done := t.done
	t.mu.Unlock()

	go t.run(ctx, done)
}

// Close stops the stream loop and aborts any in-flight read or
// backoff sleep.
func (t *Transport) Close() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.mu.Unlock()

	cancel()
	<-done
}

// State returns the current lifecycle state.
func (t *Transport) State() TransportState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// LastEventID returns the id of the last event read from the stream,
// delivered or not.
func (t *Transport) LastEventID() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastID
}

// Err returns why the loop stopped, nil while running or after Close.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// SetPaused toggles delivery. Paused is orthogonal to the connection:
// the stream stays open and ids keep advancing.
func (t *Transport) SetPaused(paused bool) {
	t.mu.Lock()
	t.paused = paused
	t.mu.Unlock()
}

// Paused reports whether delivery is suspended.
func (t *Transport) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

func (t *Transport) run(ctx context.Context, done chan struct{}) {
	defer func() {
		t.mu.Lock()
		t.running = false
		t.cancel = nil
		t.mu.Unlock()
		t.setState(Disconnected)
		close(done)
	}()

	attempts := 0
	for {
		t.setState(Connecting)
		connected, err := t.stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A stream that opened counts as progress; the backoff
			// ladder restarts from the base delay.
			attempts = 0
		}
		attempts++
		if attempts >= t.cfg.MaxAttempts {
			t.cfg.Logger.Error("giving up after repeated failures", "attempts", attempts, "error", err)
			t.mu.Lock()
			t.lastErr = fmt.Errorf("%w (last: %v)", ErrTooManyAttempts, err)
			t.mu.Unlock()
			return
		}
		delay := ReconnectDelay(attempts, t.cfg.BaseDelay, t.cfg.MaxDelay, t.cfg.JitterFrac)
		t.cfg.Logger.Warn("stream lost, reconnecting", "attempt", attempts, "delay", delay, "error", err)
		t.setState(Disconnected)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// stream opens one connection and reads it to exhaustion, reporting
// whether the stream ever opened successfully.
func (t *Transport) stream(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if last := t.LastEventID(); last > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(last, 10))
	}

	resp, err := t.cfg.Client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("client: event stream returned %s", resp.Status)
	}

	t.setState(Connected)
	sc := protocol.NewScanner(resp.Body)
	for {
		ev, err := sc.Next()
		if err != nil {
			return true, err
		}
		t.mu.Lock()
		if ev.ID > t.lastID {
			t.lastID = ev.ID
		}
		paused := t.paused
		t.mu.Unlock()
		if !paused && t.cfg.OnEvent != nil {
			t.cfg.OnEvent(ev)
		}
	}
}

func (t *Transport) setState(s TransportState) {
	t.mu.Lock()
	if t.state == s {
		t.mu.Unlock()
		return
	}
	t.state = s
	t.mu.Unlock()
	if t.cfg.OnStateChange != nil {
		t.cfg.OnStateChange(s)
	}
}
