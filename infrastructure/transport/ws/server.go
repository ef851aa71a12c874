package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"boardsync/application/compaction"
	"boardsync/application/session"
	"boardsync/domain/crdt"
	"boardsync/pkg/auth"
)

const maxConnectionsPerDoc = 100

// Server upgrades HTTP requests into document room memberships. For
// each document with at least one peer it holds a server-side replica
// (through the session registry) so joining peers receive a snapshot,
// and appends every accepted update to the store.
type Server struct {
	hub       *Hub
	registry  *session.Registry
	store     compaction.Store
	validator *auth.Validator
	upgrader  websocket.Upgrader
	logger    *zap.Logger

	mu    sync.Mutex
	rooms map[string]*docRoom
}

// docRoom is the server-side state shared by a document's peers.
type docRoom struct {
	sess    *session.Session
	release func()
	refs    int
}

// NewServer wires the relay surface.
func NewServer(hub *Hub, registry *session.Registry, store compaction.Store, validator *auth.Validator, logger *zap.Logger) *Server {
	return &Server{
		hub:       hub,
		registry:  registry,
		store:     store,
		validator: validator,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
		rooms:  make(map[string]*docRoom),
	}
}

// HandleWebSocket upgrades GET /ws/{docID} into a room membership.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	if docID == "" {
		http.Error(w, "missing document id", http.StatusBadRequest)
		return
	}

	token := auth.TokenFromRequest(r)
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	identity, err := s.validator.Validate(token)
	if err != nil {
		s.logger.Warn("websocket authentication failed",
			zap.Error(err),
			zap.String("remoteAddr", r.RemoteAddr),
		)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if s.hub.Peers(docID) >= maxConnectionsPerDoc {
		http.Error(w, "Connection limit exceeded", http.StatusTooManyRequests)
		return
	}

	room, err := s.joinRoom(r.Context(), docID)
	if err != nil {
		s.logger.Error("failed to load document",
			zap.String("docID", docID),
			zap.Error(err),
		)
		http.Error(w, "Document unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.leaveRoom(docID)
		s.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(docID, identity, s.hub, conn, s.logger)
	client.onDelta = func(c *Client, delta []byte) { s.handleDelta(room, c, delta) }
	client.onClose = func(*Client) { s.leaveRoom(docID) }
	client.start()

	// New peers start from the replica's full state; subsequent
	// frames are incremental.
	snapshot, err := room.sess.Doc().EncodeState()
	if err != nil {
		s.logger.Error("failed to encode snapshot", zap.String("docID", docID), zap.Error(err))
		conn.Close()
		return
	}
	if !client.enqueue(snapshot) {
		s.logger.Error("failed to push snapshot", zap.String("docID", docID))
		conn.Close()
	}
}

// handleDelta persists, merges and relays one incoming update.
// Persist-then-merge: a frame the store refused is reported to nobody,
// so no peer ever holds state the log does not.
func (s *Server) handleDelta(room *docRoom, sender *Client, delta []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Decode against a scratch replica first so a malformed frame
	// reaches neither the store nor the shared state.
	if err := crdt.NewDoc(sender.docID).ApplyUpdate(delta); err != nil {
		rejectedDeltas.Inc()
		sender.logger.Warn("rejected malformed update", zap.Error(err))
		return
	}
	if _, err := s.store.AppendUpdate(ctx, sender.docID, delta); err != nil {
		rejectedDeltas.Inc()
		sender.logger.Error("failed to persist update", zap.Error(err))
		return
	}
	if err := room.sess.HandleRemote(delta); err != nil {
		// The frame already decoded cleanly and is durable; peers
		// that miss the broadcast recover it from the log.
		sender.logger.Error("failed to merge persisted update", zap.Error(err))
	}
	s.hub.Broadcast(sender.docID, delta, sender.id)
}

func (s *Server) joinRoom(ctx context.Context, docID string) (*docRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if room, ok := s.rooms[docID]; ok {
		room.refs++
		return room, nil
	}

	doc, release, err := s.registry.Acquire(ctx, docID)
	if err != nil {
		return nil, err
	}
	room := &docRoom{
		sess:    session.New(doc, roomPublisher{s}, s.logger),
		release: release,
		refs:    1,
	}
	s.rooms[docID] = room
	return room, nil
}

func (s *Server) leaveRoom(docID string) {
	s.mu.Lock()
	room, ok := s.rooms[docID]
	if !ok {
		s.mu.Unlock()
		return
	}
	room.refs--
	if room.refs > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.rooms, docID)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := room.sess.Close(ctx); err != nil {
		s.logger.Warn("session close timed out", zap.String("docID", docID), zap.Error(err))
	}
	room.release()
}

// Shutdown closes every room and releases the replicas.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	rooms := make(map[string]*docRoom, len(s.rooms))
	for docID, room := range s.rooms {
		rooms[docID] = room
		delete(s.rooms, docID)
	}
	s.mu.Unlock()

	for docID, room := range rooms {
		if err := room.sess.Close(ctx); err != nil {
			s.logger.Warn("session close timed out", zap.String("docID", docID), zap.Error(err))
		}
		room.release()
	}
	return ctx.Err()
}

// roomPublisher broadcasts server-originated transactions (admin
// operations against the shared replica) to every peer and persists
// them alongside client updates.
type roomPublisher struct {
	s *Server
}

func (p roomPublisher) Publish(ctx context.Context, docID string, delta []byte) error {
	if _, err := p.s.store.AppendUpdate(ctx, docID, delta); err != nil {
		return err
	}
	return p.s.hub.Broadcast(docID, delta, "")
}
