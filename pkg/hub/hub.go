package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

const (
	// BacklogSize is how many recent events a new subscriber is sent.
	BacklogSize = 32

	queueSize = 256
)

// Hub tracks one session's subscribers and broadcasts its events.
// All subscriber bookkeeping happens on the Run goroutine.
type Hub struct {
	name   string
	logger *slog.Logger

	clients map[*Client]struct{}
	backlog [][]byte

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}

	// guards clients and backlog for readers outside Run
	mu sync.RWMutex

	running   atomic.Bool
	published atomic.Int64
	dropped   atomic.Int64
}

// New creates a Hub for the named session. A nil logger uses slog.Default.
func New(name string, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		name:       name,
		logger:     logger.With("component", "hub", "meeting_id", name),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, queueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// Run is the hub loop. It returns after Stop and should be started in its
// own goroutine.
func (h *Hub) Run() {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		h.mu.Lock()
		for c := range h.clients {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		close(h.stopped)
	}()

	for {
		select {
		case <-h.done:
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			// send is sized above BacklogSize so this never blocks
			for _, data := range h.backlog {
				c.send <- data
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("subscriber connected", "subscribers", count)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("subscriber disconnected", "subscribers", count)

		case data := <-h.broadcast:
			h.mu.Lock()
			h.remember(data)
			for c := range h.clients {
				select {
				case c.send <- data:
				default:
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropped slow subscriber")
				}
			}
			h.mu.Unlock()
		}
	}
}

// remember appends data to the backlog. Callers hold mu.
func (h *Hub) remember(data []byte) {
	if len(h.backlog) == BacklogSize {
		copy(h.backlog, h.backlog[1:])
		h.backlog = h.backlog[:BacklogSize-1]
	}
	h.backlog = append(h.backlog, data)
}

// Stop ends the loop and disconnects every subscriber. It waits for Run to
// exit only if Run was started. Safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
		if h.running.Load() {
			<-h.stopped
		}
	})
}

// Publish queues e for every subscriber. Events published after Stop, or
// while the queue is full, are dropped.
func (h *Hub) Publish(e Event) {
	select {
	case <-h.done:
		return
	default:
	}

	data, err := e.encode()
	if err != nil {
		h.logger.Warn("encode event failed", "type", e.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- data:
		h.published.Add(1)
	default:
		h.dropped.Add(1)
		h.logger.Warn("event queue full, dropping event", "type", e.Type)
	}
}

// ClientCount returns the number of connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Backlog returns a copy of the events a new subscriber would be sent.
func (h *Hub) Backlog() [][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([][]byte(nil), h.backlog...)
}

// IsRunning reports whether Run is active.
func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Published returns how many events were queued.
func (h *Hub) Published() int64 { return h.published.Load() }

// Dropped returns how many events were discarded because the queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }
