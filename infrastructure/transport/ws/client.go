package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"boardsync/pkg/common"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024 // updates carry full snapshots on occasion
	sendBufferSize = 256
)

// Client is one websocket connection bound to a document room.
type Client struct {
	id       string
	docID    string
	identity common.Identity
	hub      *Hub
	conn     *websocket.Conn
	logger   *zap.Logger

	// send is closed exactly once, by closeSend. The closed flag lets
	// racing producers fail an enqueue instead of panicking when the
	// peer disconnects between registration and the write.
	sendMu sync.Mutex
	send   chan []byte
	closed bool

	// onDelta receives every binary frame the peer sends. onClose
	// fires once, after the read pump stops.
	onDelta func(c *Client, delta []byte)
	onClose func(c *Client)
}

func newClient(docID string, identity common.Identity, hub *Hub, conn *websocket.Conn, logger *zap.Logger) *Client {
	id := uuid.New().String()
	return &Client{
		id:       id,
		docID:    docID,
		identity: identity,
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		logger: logger.With(
			zap.String("docID", docID),
			zap.String("connectionID", id),
			zap.String("userID", identity.UserID),
		),
	}
}

// start registers with the hub and runs the pumps.
func (c *Client) start() {
	c.hub.register <- c
	go c.writePump()
	go c.readPump()
}

// enqueue offers a frame to this client only. Returns false when the
// buffer is full or the client has already left its room.
func (c *Client) enqueue(payload []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// closeSend shuts the send channel. Safe to call more than once;
// enqueues after it report failure.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket read error", zap.Error(err))
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			deltasReceived.Inc()
			if c.onDelta != nil {
				c.onDelta(c, message)
			}
		case websocket.TextMessage:
			// Text frames are not part of the protocol.
			c.logger.Debug("ignoring text frame", zap.Int("bytes", len(message)))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				c.logger.Error("failed to write frame", zap.Error(err))
				return
			}

			// Drain whatever queued while we were writing.
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.BinaryMessage, <-c.send); err != nil {
					c.logger.Error("failed to write queued frame", zap.Error(err))
					return
				}
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
