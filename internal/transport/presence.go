package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sethvargo/go-retry"

	"github.com/TheMichaelB/shopsync/internal/events"
)

// PresenceWatcher holds a websocket open to the service's presence
// endpoint. An open connection means the service is reachable.
type PresenceWatcher struct {
	url      string
	token    string
	onChange func(online bool)
	logger   *events.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected *bool

	// Heartbeat
	pingInterval time.Duration
	pongTimeout  time.Duration

	// Reconnect backoff
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewPresenceWatcher creates a watcher for baseURL+path. onChange is called
// whenever reachability changes.
func NewPresenceWatcher(baseURL, path, token string, onChange func(online bool), logger *events.Logger) *PresenceWatcher {
	return &PresenceWatcher{
		url:          presenceURL(baseURL, path),
		token:        token,
		onChange:     onChange,
		logger:       logger.WithField("component", "presence_watcher"),
		pingInterval: 30 * time.Second,
		pongTimeout:  10 * time.Second,
		minBackoff:   time.Second,
		maxBackoff:   30 * time.Second,
	}
}

// SetHeartbeat overrides the ping interval and pong timeout.
func (w *PresenceWatcher) SetHeartbeat(ping, pong time.Duration) {
	w.pingInterval = ping
	w.pongTimeout = pong
}

// SetBackoff overrides the reconnect delays.
func (w *PresenceWatcher) SetBackoff(min, max time.Duration) {
	w.minBackoff = min
	w.maxBackoff = max
}

// URL returns the websocket address being watched.
func (w *PresenceWatcher) URL() string {
	return w.url
}

// presenceURL converts an http(s) base into a ws(s) address.
func presenceURL(baseURL, path string) string {
	u := strings.TrimRight(baseURL, "/") + path
	if strings.HasPrefix(u, "http") {
		u = "ws" + u[4:]
	}
	return u
}

// Run connects and reconnects until ctx is cancelled.
func (w *PresenceWatcher) Run(ctx context.Context) error {
	backoff := w.newBackoff()

	for {
		err := w.connect(ctx)
		if err == nil {
			w.report(true)
			w.watch(ctx)
			backoff = w.newBackoff()
		} else {
			w.logger.WithError(err).Debug("Presence connect failed")
		}

		if ctx.Err() != nil {
			w.close()
			return ctx.Err()
		}

		w.report(false)

		delay, _ := backoff.Next()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *PresenceWatcher) newBackoff() retry.Backoff {
	return retry.WithCappedDuration(w.maxBackoff, retry.NewExponential(w.minBackoff))
}

func (w *PresenceWatcher) connect(ctx context.Context) error {
	headers := http.Header{}
	if w.token != "" {
		headers.Set("Authorization", "Bearer "+w.token)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := dialer.DialContext(ctx, w.url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("presence connect failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("presence connect failed: %w", err)
	}

	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()

	w.logger.WithField("url", w.url).Debug("Presence connected")
	return nil
}

// watch blocks until the connection drops or ctx is cancelled.
func (w *PresenceWatcher) watch(ctx context.Context) {
	done := make(chan struct{})
	defer close(done)

	go w.pingLoop(done)

	go func() {
		select {
		case <-ctx.Done():
			w.close()
		case <-done:
		}
	}()

	w.readLoop()
	w.close()
}

// readLoop drains incoming frames; the content is not used.
func (w *PresenceWatcher) readLoop() {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn == nil {
		return
	}

	deadline := func() time.Time { return time.Now().Add(w.pongTimeout + w.pingInterval) }

	_ = conn.SetReadDeadline(deadline())
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(deadline())
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				w.logger.WithError(err).Debug("Presence connection lost")
			}
			return
		}
		_ = conn.SetReadDeadline(deadline())
	}
}

func (w *PresenceWatcher) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.mu.Lock()
			conn := w.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.pongTimeout))
			}
			w.mu.Unlock()

			if conn == nil {
				return
			}
			if err != nil {
				w.logger.WithError(err).Debug("Presence ping failed")
				return
			}

		case <-done:
			return
		}
	}
}

func (w *PresenceWatcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return
	}

	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = w.conn.Close()
	w.conn = nil
}

// report calls onChange when reachability differs from the last report.
func (w *PresenceWatcher) report(online bool) {
	w.mu.Lock()
	if w.connected != nil && *w.connected == online {
		w.mu.Unlock()
		return
	}
	w.connected = &online
	w.mu.Unlock()

	if w.onChange != nil {
		w.onChange(online)
	}
}
