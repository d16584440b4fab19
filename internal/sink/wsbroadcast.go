package sink

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// writeTimeout bounds each per-client broadcast write so one stalled UI
// cannot hold up the consumer loop.
const writeTimeout = 2 * time.Second

// Broadcaster serves a websocket endpoint and fans every event out to all
// connected clients. Events are arbitrary JSON-encodable values; clients
// that fall behind or disconnect are dropped.
type Broadcaster struct {
	srv *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewBroadcaster creates a broadcaster listening on addr.
func NewBroadcaster(addr string) *Broadcaster {
	b := &Broadcaster{conns: make(map[*websocket.Conn]struct{})}
	mux := http.NewServeMux()
	mux.HandleFunc("/events", b.handle)
	b.srv = &http.Server{Addr: addr, Handler: mux}
	return b
}

// Start begins serving in a background goroutine.
func (b *Broadcaster) Start() {
	go func() {
		if err := b.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("event stream server error", "err", err)
		}
	}()
	slog.Info("event stream listening", "addr", b.srv.Addr, "path", "/events")
}

func (b *Broadcaster) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("event stream accept failed", "err", err)
		return
	}

	b.mu.Lock()
	b.conns[c] = struct{}{}
	b.mu.Unlock()

	// Discard inbound frames until the client goes away; the stream is
	// outbound-only.
	ctx := r.Context()
	for {
		if _, _, err := c.Read(ctx); err != nil {
			break
		}
	}

	b.mu.Lock()
	delete(b.conns, c)
	b.mu.Unlock()
	_ = c.Close(websocket.StatusNormalClosure, "")
}

// Broadcast sends event to every connected client. Failed writes evict the
// client; Broadcast itself never returns an error.
func (b *Broadcaster) Broadcast(event any) {
	b.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(b.conns))
	for c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, c, event)
		cancel()
		if err != nil {
			b.mu.Lock()
			delete(b.conns, c)
			b.mu.Unlock()
			_ = c.Close(websocket.StatusPolicyViolation, "write timeout")
		}
	}
}

// Close disconnects all clients and stops the server.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	for c := range b.conns {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
	}
	b.conns = make(map[*websocket.Conn]struct{})
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.srv.Shutdown(ctx)
}
