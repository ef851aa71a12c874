// Package ws relays binary document updates between the peers editing
// the same document. The hub keeps one room per document id; a frame
// received from one peer is fanned out to every other peer in the
// room, and the server-side replica folds it in so late joiners get a
// current snapshot.
package ws

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// frame is one outbound broadcast: a binary update for a document,
// optionally excluding the connection it came from.
type frame struct {
	docID   string
	payload []byte
	exclude string
}

// Hub maintains the rooms and fans frames out to their members.
type Hub struct {
	rooms map[string]map[*Client]bool
	mu    sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan frame

	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// NewHub creates a hub; call Run to start it.
func NewHub(logger *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		register:   make(chan *Client, 100),
		unregister: make(chan *Client, 100),
		broadcast:  make(chan frame, 1000),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
	}
}

// Run is the hub's event loop. It returns when Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("hub shutting down")
			h.closeAll()
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.remove(client)
		case f := <-h.broadcast:
			h.fanOut(f)
		}
	}
}

// Stop shuts the hub down and closes every connection.
func (h *Hub) Stop() {
	h.cancel()
}

// Broadcast queues a binary update for every member of the document's
// room except the named connection (empty string excludes nobody).
func (h *Hub) Broadcast(docID string, payload []byte, exclude string) error {
	select {
	case h.broadcast <- frame{docID: docID, payload: payload, exclude: exclude}:
		return nil
	case <-time.After(5 * time.Second):
		h.logger.Error("broadcast queue full, frame dropped",
			zap.String("docID", docID))
		return context.DeadlineExceeded
	}
}

// Peers reports the number of connections in a document's room.
func (h *Hub) Peers(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[docID])
}

func (h *Hub) add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[client.docID] == nil {
		h.rooms[client.docID] = make(map[*Client]bool)
		activeDocuments.Inc()
	}
	h.rooms[client.docID][client] = true
	activeConnections.Inc()

	h.logger.Info("client joined",
		zap.String("docID", client.docID),
		zap.String("connectionID", client.id),
		zap.String("userID", client.identity.UserID),
		zap.Int("roomSize", len(h.rooms[client.docID])),
	)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[client.docID]
	if !ok || !room[client] {
		return
	}
	delete(room, client)
	client.closeSend()
	activeConnections.Dec()
	if len(room) == 0 {
		delete(h.rooms, client.docID)
		activeDocuments.Dec()
	}

	h.logger.Info("client left",
		zap.String("docID", client.docID),
		zap.String("connectionID", client.id),
		zap.Int("roomSize", len(room)),
	)
}

func (h *Hub) fanOut(f frame) {
	h.mu.RLock()
	room := h.rooms[f.docID]
	targets := make([]*Client, 0, len(room))
	for client := range room {
		if client.id != f.exclude {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if client.enqueue(f.payload) {
			deltasBroadcast.Inc()
		} else {
			// A full send buffer means the client stopped reading.
			sendFailures.Inc()
			h.logger.Warn("closing slow client",
				zap.String("docID", client.docID),
				zap.String("connectionID", client.id),
			)
			go func(c *Client) {
				h.unregister <- c
				c.conn.Close()
			}(client)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for docID, room := range h.rooms {
		for client := range room {
			client.closeSend()
			client.conn.Close()
		}
		delete(h.rooms, docID)
	}
}
