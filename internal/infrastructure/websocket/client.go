package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 64
)

// Canceller is the subset of scheduler.Scheduler a client's "cancel"
// command needs.
type Canceller interface {
	Cancel(ctx context.Context, executionID int64, reason string) error
}

// Client is one subscriber to a single execution's event stream, grounded
// on the teacher's Client (hub-owned send channel, read/write pumps,
// ping/pong keepalive), simplified from multi-workflow/user subscriptions
// to a single execution_id fixed at connect time (NoETL's
// /ws/executions/{id} is scoped per-execution, not per-user).
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan any
	id          string
	executionID int64
	canceller   Canceller
}

// SubID, SubExecutionID, and SubSend implement Subscriber so the Hub can
// treat a Client the same way it treats an SSE subscriber.
func (c *Client) SubID() string         { return c.id }
func (c *Client) SubExecutionID() int64 { return c.executionID }
func (c *Client) SubSend() chan any     { return c.send }

func NewClient(id string, executionID int64, hub *Hub, conn *websocket.Conn, canceller Canceller) *Client {
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan any, sendBufferSize),
		id:          id,
		executionID: executionID,
		canceller:   canceller,
	}
}

// Register connects this client into the hub and starts its pumps; the
// caller should call this from the HTTP handler goroutine after upgrade.
func (c *Client) Register() {
	c.hub.register <- c
	go c.writePump()
	c.readPump()
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
				c.hub.log.Warn().Err(err).Str("client_id", c.id).Msg("websocket unexpected close")
			}
			break
		}
		var cmd struct {
			Action string `json:"action"`
			Reason string `json:"reason"`
		}
		if err := json.Unmarshal(message, &cmd); err != nil {
			continue
		}
		if cmd.Action == "cancel" && c.canceller != nil {
			if err := c.canceller.Cancel(context.Background(), c.executionID, cmd.Reason); err != nil {
				c.writeJSON(map[string]any{"type": "error", "message": err.Error()})
			}
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
		case event, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeJSON(event); err != nil {
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

func (c *Client) writeJSON(v any) error {
	return c.conn.WriteJSON(v)
}
