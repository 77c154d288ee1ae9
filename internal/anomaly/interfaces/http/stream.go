package http

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"solarwatch/internal/anomaly/application"
	"solarwatch/internal/anomaly/ledger"
)

// SSEBroker fans dispatch actions out to connected stream clients. It
// implements application.ActionListener, so the poller publishes every
// non-noop action as it happens.
type SSEBroker struct {
	mu      sync.Mutex
	clients map[chan application.Action]struct{}
}

// NewSSEBroker constructs a broker with no clients.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{clients: make(map[chan application.Action]struct{})}
}

// Notify implements application.ActionListener. Clients that cannot keep
// up lose actions rather than stall the poll cycle.
func (b *SSEBroker) Notify(_ context.Context, action application.Action) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- action:
		default:
		}
	}
}

// Subscribe registers a client and returns its action channel.
func (b *SSEBroker) Subscribe() chan application.Action {
	if b == nil {
		return nil
	}
	ch := make(chan application.Action, 16)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *SSEBroker) Unsubscribe(ch chan application.Action) {
	if b == nil || ch == nil {
		return
	}
	b.mu.Lock()
	delete(b.clients, ch)
	b.mu.Unlock()
	close(ch)
}

// StreamHandler serves GET /api/v1/issues/stream as server-sent events.
// A new client first receives one "active" event per currently-open
// ledger entry, then a "ready" marker, then live "action" events until
// it disconnects.
type StreamHandler struct {
	broker *SSEBroker
	ledger *ledger.Ledger
}

// NewStreamHandler constructs a stream handler. A nil ledger skips the
// replay phase.
func NewStreamHandler(broker *SSEBroker, issueLedger *ledger.Ledger) *StreamHandler {
	return &StreamHandler{broker: broker, ledger: issueLedger}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before the replay so actions dispatched while the
	// snapshot is written are not lost.
	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	if h.ledger != nil {
		for _, entry := range h.ledger.Entries() {
			writeEvent(w, "active", issueResponse{
				ID:         entry.Key.String(),
				Key:        entry.Key,
				NotifiedAt: entry.NotifiedAt,
				Details:    entry.Details,
				Message:    entry.Message,
			})
		}
	}
	writeEvent(w, "ready", struct{}{})
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case action, ok := <-ch:
			if !ok {
				return
			}
			writeEvent(w, "action", action)
			flusher.Flush()
		case <-done:
			return
		}
	}
}

// writeEvent writes one SSE frame; payloads that fail to marshal are
// dropped.
func writeEvent(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
