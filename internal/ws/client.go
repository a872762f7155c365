// Copyright 2026 Rob Macrae. All rights reserved.
// SPDX-License-Identifier: LicenseRef-Proprietary

package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/spyhop-ai/spyhop/internal/logger"
	"github.com/spyhop-ai/spyhop/internal/pty"
	"github.com/spyhop-ai/spyhop/internal/sessions"
	"github.com/spyhop-ai/spyhop/internal/spawn"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// InboundMessage is a JSON message from the viewer.
type InboundMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// OutboundMessage is a JSON event sent to the viewer.
type OutboundMessage struct {
	Type     string `json:"type"`
	Data     string `json:"data,omitempty"`
	State    string `json:"state,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// Client is one WebSocket viewer attached to a session.
type Client struct {
	conn     *websocket.Conn
	session  *sessions.Session
	sub      *pty.Subscriber
	snapshot []byte

	// notify carries replies the read side generates (pong, error);
	// the write pump owns the connection.
	notify chan OutboundMessage

	log *slog.Logger
}

// NewClient subscribes a connection to a session. The snapshot and the
// live stream are captured atomically, so the viewer sees every byte
// exactly once. Fails only if the session is already closed.
func NewClient(conn *websocket.Conn, session *sessions.Session) (*Client, error) {
	sub, snapshot, err := session.Subscribe()
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:     conn,
		session:  session,
		sub:      sub,
		snapshot: snapshot,
		notify:   make(chan OutboundMessage, 8),
		log:      logger.WithSession(session.ID),
	}, nil
}

// ReadPump reads messages from the WebSocket until the connection
// drops, then detaches the viewer. The session itself keeps running.
func (c *Client) ReadPump() {
	defer func() {
		c.session.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("websocket closed", "error", err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			// Binary frames carry raw terminal input.
			if err := c.session.Write(data); err != nil {
				c.sendError(err.Error())
			}

		case websocket.TextMessage:
			var msg InboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				c.sendError("invalid message: " + err.Error())
				continue
			}
			c.handleMessage(msg)
		}
	}
}

// handleMessage dispatches one inbound message. Failures become error
// events on this viewer's stream; the connection stays up.
func (c *Client) handleMessage(msg InboundMessage) {
	switch msg.Type {
	case "input":
		if err := c.session.Write([]byte(msg.Data)); err != nil {
			c.sendError(err.Error())
		}

	case "interrupt":
		if err := c.session.Interrupt(); err != nil {
			c.sendError(err.Error())
		}

	case "resize":
		if msg.Cols < 1 || msg.Cols > spawn.MaxCols || msg.Rows < 1 || msg.Rows > spawn.MaxRows {
			c.sendError(fmt.Sprintf("resize rejected: %dx%d out of range", msg.Cols, msg.Rows))
			return
		}
		if err := c.session.Resize(msg.Cols, msg.Rows); err != nil {
			c.sendError(err.Error())
		}

	case "ping":
		c.send(OutboundMessage{Type: "pong"})

	default:
		c.sendError("unknown message type: " + msg.Type)
	}
}

func (c *Client) send(msg OutboundMessage) {
	select {
	case c.notify <- msg:
	default:
		// Viewer is not draining replies; drop it.
	}
}

func (c *Client) sendError(msg string) {
	c.send(OutboundMessage{Type: "error", Data: msg})
}

// WritePump writes the history snapshot, then live events, to the
// WebSocket. The snapshot always goes out as one output event before
// anything live, even when empty, so clients know history is complete.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	if err := c.writeJSON(OutboundMessage{Type: "output", Data: string(c.snapshot)}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-c.sub.Events():
			if !ok {
				// Session destroyed; the final status already went out.
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.writeJSON(translate(ev)); err != nil {
				return
			}

		case msg := <-c.notify:
			if err := c.writeJSON(msg); err != nil {
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

func (c *Client) writeJSON(msg OutboundMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// translate maps a session event to its wire form.
func translate(ev pty.Event) OutboundMessage {
	switch ev.Type {
	case pty.EventStatus:
		return OutboundMessage{Type: "status", State: string(ev.State), ExitCode: ev.ExitCode}
	case pty.EventError:
		return OutboundMessage{Type: "error", Data: string(ev.Data)}
	default:
		return OutboundMessage{Type: "output", Data: string(ev.Data)}
	}
}
