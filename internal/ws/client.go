package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
	Subprotocols:    []string{subprotocolProtobuf, subprotocolJSON},
}

// Client is one WebSocket connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	userID   string
	connID   string
	groups   map[string]bool
	logger   *zap.Logger
	protocol Protocol
}

// negotiateProtocol picks the first supported subprotocol the peer offered.
// JSON is the default when none is offered.
func negotiateProtocol(r *http.Request) (Protocol, http.Header) {
	for _, proto := range websocket.Subprotocols(r) {
		switch proto {
		case subprotocolProtobuf:
			return ProtocolProtobuf, http.Header{"Sec-WebSocket-Protocol": {proto}}
		case subprotocolJSON:
			return ProtocolJSON, http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
	}
	return ProtocolJSON, nil
}

// HandlePricesWS upgrades a request carrying an access token issued by negotiate.
func (h *Hub) HandlePricesWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("access_token")
	if token == "" {
		http.Error(w, "missing access_token", http.StatusUnauthorized)
		return
	}

	// Token format: userID:negotiateID
	userID := strings.SplitN(token, ":", 2)[0]
	connID := uuid.New().String()

	protocol, responseHeader := negotiateProtocol(r)
	h.logger.Debug("websocket subprotocol negotiated",
		zap.String("protocol", string(protocol)),
		zap.Strings("requested", websocket.Subprotocols(r)),
	)

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		userID:   userID,
		connID:   connID,
		groups:   make(map[string]bool),
		logger:   h.logger,
		protocol: protocol,
	}

	h.register <- client
	client.reply(connectedMessage(connID, userID))

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.BinaryMessage
	if c.protocol == ProtocolJSON {
		msgType = websocket.TextMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(data []byte) {
	raw, err := c.hub.encoder.Decode(c.protocol, data)
	var msg any
	if err == nil {
		msg, err = parseUpstream(raw)
	}
	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.connID),
			zap.String("protocol", string(c.protocol)),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *joinGroupRequest:
		if symbolFromGroup(m.group) == "" {
			c.logger.Debug("invalid group name",
				zap.String("connID", c.connID),
				zap.String("group", m.group),
			)
			if m.ackID != nil {
				c.reply(ackMessage(*m.ackID, false, "invalid group"))
			}
			return
		}
		c.hub.JoinGroup(c, m.group)
		if m.ackID != nil {
			c.reply(ackMessage(*m.ackID, true, ""))
		}

	case *leaveGroupRequest:
		c.hub.LeaveGroup(c, m.group)
		if m.ackID != nil {
			c.reply(ackMessage(*m.ackID, true, ""))
		}

	case *pingRequest:
		c.reply(pongMessage())
	}
}

// reply encodes msg for this client and queues it without blocking.
func (c *Client) reply(msg map[string]any) {
	frame, err := c.hub.encoder.Encode(c.protocol, msg)
	if err != nil {
		c.logger.Debug("failed to encode reply", zap.String("connID", c.connID), zap.Error(err))
		return
	}
	select {
	case c.send <- frame:
	default:
		c.logger.Debug("send buffer full, dropping reply", zap.String("connID", c.connID))
	}
}
