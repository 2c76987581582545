package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openclaw/claw/internal/agent/runner"
	"github.com/openclaw/claw/internal/logging"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 32768
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Non-browser clients send no Origin header.
		origin := r.Header.Get("Origin")
		return origin == "" || isLocalhostOrigin(origin)
	},
}

// wsMessage is the frame envelope in both directions.
//
// Client frames: chat {prompt, sessionKey?, autoConfirm?},
// confirm {turnId}, reject {turnId}, ping.
// Server frames: event (TurnEvent), result (TurnResult),
// error {error}, pong.
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// wsClient is one WebSocket connection. Turns run on their own
// goroutines against the connection context, so closing the socket
// cancels whatever is in flight.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	deps *Deps

	ctx    context.Context
	cancel context.CancelFunc
}

func (h *handlers) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Errorf("[server] websocket upgrade failed: %v", err)
		return
	}

	// The connection is hijacked; its lifetime is no longer tied to
	// this request, so the client context derives from Background.
	ctx, cancel := context.WithCancel(context.Background())
	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		deps:   h.deps,
		ctx:    ctx,
		cancel: cancel,
	}

	go client.writePump()
	go client.readPump()
}

// readPump pumps frames from the socket into turn handling.
func (c *wsClient) readPump() {
	defer func() {
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Errorf("[server] websocket read: %v", err)
			}
			return
		}
		c.handleFrame(raw)
	}
}

// writePump pumps outbound frames and keeps the connection alive.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *wsClient) handleFrame(raw []byte) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		c.sendError("invalid frame: " + err.Error())
		return
	}

	switch msg.Type {
	case "ping":
		c.sendFrame("pong", nil)

	case "chat":
		var req chatRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			c.sendError("invalid chat payload: " + err.Error())
			return
		}
		go c.runChat(req)

	case "confirm", "reject":
		var payload struct {
			TurnID string `json:"turnId"`
		}
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			c.sendError("invalid payload: " + err.Error())
			return
		}
		go c.settleTurn(payload.TurnID, msg.Type == "confirm")

	default:
		c.sendError("unknown message type " + msg.Type)
	}
}

// runChat drives one turn, streaming events as they happen and the
// result when the turn settles.
func (c *wsClient) runChat(req chatRequest) {
	if strings.TrimSpace(req.Prompt) == "" {
		c.sendError("prompt is required")
		return
	}

	rr := toRunRequest(req)
	rr.OnEvent = func(ev runner.TurnEvent) { c.sendFrame("event", ev) }

	res, err := c.deps.Runner.Run(c.ctx, rr)
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendFrame("result", res)
}

func (c *wsClient) settleTurn(turnID string, approve bool) {
	var (
		res *runner.TurnResult
		err error
	)
	if approve {
		res, err = c.deps.Runner.Confirm(c.ctx, turnID)
	} else {
		res, err = c.deps.Runner.Reject(turnID)
	}
	if err != nil {
		c.sendError(err.Error())
		return
	}
	c.sendFrame("result", res)
}

func (c *wsClient) sendError(msg string) {
	c.sendFrame("error", map[string]string{"error": msg})
}

// sendFrame marshals and queues one frame. Frames are dropped when the
// client stops draining or the connection is gone.
func (c *wsClient) sendFrame(frameType string, payload any) {
	msg := wsMessage{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			logging.Errorf("[server] marshaling %s frame: %v", frameType, err)
			return
		}
		msg.Payload = data
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		logging.Errorf("[server] marshaling frame: %v", err)
		return
	}

	select {
	case c.send <- raw:
	case <-c.ctx.Done():
	default:
		logging.Warnf("[server] dropping %s frame: send buffer full", frameType)
	}
}
