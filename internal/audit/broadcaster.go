package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Broadcaster streams journal events to connected SSE clients. New clients get
// a snapshot of recent events first.
type Broadcaster struct {
	recent   *Memory
	logger   *zap.Logger
	interval time.Duration

	mu       sync.RWMutex
	sequence uint64
	clients  map[*sseClient]bool
}

// sseClient is one connected subscriber.
type sseClient struct {
	kinds   map[Kind]bool
	dataCh  chan []byte
	doneCh  chan struct{}
	flusher http.Flusher
	writer  http.ResponseWriter
}

func (c *sseClient) wants(k Kind) bool {
	return len(c.kinds) == 0 || c.kinds[k]
}

// NewBroadcaster keeps the last backlog events for snapshots and sends a
// heartbeat every interval.
func NewBroadcaster(backlog int, interval time.Duration, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		recent:   NewMemory(backlog),
		logger:   logger,
		interval: interval,
		clients:  make(map[*sseClient]bool),
	}
}

// Run sends heartbeats until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.logger.Info("event broadcaster starting", zap.Duration("heartbeat", b.interval))

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("event broadcaster stopping")
			return
		case <-ticker.C:
			b.fanOut(func(*sseClient) bool { return true }, []byte(": ping\n\n"))
		}
	}
}

// Record implements Journal.
func (b *Broadcaster) Record(ctx context.Context, e Event) error {
	_ = b.recent.Record(ctx, e)
	data, err := b.formatEvent("audit", e)
	if err != nil {
		return err
	}
	b.fanOut(func(c *sseClient) bool { return c.wants(e.Kind) }, data)
	return nil
}

func (b *Broadcaster) fanOut(match func(*sseClient) bool, data []byte) {
	b.mu.RLock()
	clients := make([]*sseClient, 0, len(b.clients))
	for c := range b.clients {
		if match(c) {
			clients = append(clients, c)
		}
	}
	b.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.dataCh <- data:
		default:
			b.logger.Debug("client channel full, dropping event")
		}
	}
}

// HandleSSE serves the event stream. The optional kind query parameter is a
// comma-separated filter.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{
		kinds:   parseKinds(r.URL.Query().Get("kind")),
		dataCh:  make(chan []byte, 32),
		doneCh:  make(chan struct{}),
		flusher: flusher,
		writer:  w,
	}
	b.addClient(client)
	defer b.removeClient(client)

	b.logger.Info("event client connected", zap.String("remote_addr", r.RemoteAddr))

	var snapshot []Event
	for _, e := range b.recent.Events() {
		if client.wants(e.Kind) {
			snapshot = append(snapshot, e)
		}
	}
	if snapshot == nil {
		snapshot = []Event{}
	}
	if err := b.sendEvent(client, "snapshot", snapshot); err != nil {
		b.logger.Error("failed to send snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("event client disconnected", zap.String("remote_addr", r.RemoteAddr))
			return
		case <-client.doneCh:
			return
		case data := <-client.dataCh:
			if _, err := client.writer.Write(data); err != nil {
				b.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			client.flusher.Flush()
		}
	}
}

// Clients reports the number of connected subscribers.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func parseKinds(raw string) map[Kind]bool {
	if raw == "" {
		return nil
	}
	kinds := make(map[Kind]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[Kind(k)] = true
		}
	}
	return kinds
}

func (b *Broadcaster) addClient(c *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = true
}

func (b *Broadcaster) removeClient(c *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
	close(c.doneCh)
}

func (b *Broadcaster) sendEvent(c *sseClient, eventType string, data any) error {
	payload, err := b.formatEvent(eventType, data)
	if err != nil {
		return err
	}
	if _, err := c.writer.Write(payload); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func (b *Broadcaster) formatEvent(eventType string, data any) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.sequence++
	seq := b.sequence
	b.mu.Unlock()

	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, seq, jsonData)), nil
}
