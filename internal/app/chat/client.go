/*
Package chat contains the real-time core of the LAN chat server.

This file defines the Client struct, representing one active WebSocket
connection session. It manages the connection lifecycle, the read and write
pumps, and the buffered outbound queue the Hub delivers into.
*/
package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"lanchat/internal/pkg/errs"
	"lanchat/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 8192

	// maximum allowed size (in bytes) for message content.
	MaxContentBytes = 5000

	// sendQueueSize is the per-client outbound buffer. A client whose queue
	// fills up is considered stalled and gets unregistered.
	sendQueueSize = 256
)

// Client represents an active WebSocket connection session and its identity.
// The Hub owns the session for its lifetime: it is registered at upgrade
// time and destroyed on disconnect.
type Client struct {
	// the hub this session is registered with.
	hub *Hub

	// underlying WebSocket connection object. Nil in tests that exercise
	// the Hub directly through the send queue.
	conn *websocket.Conn

	// id is the opaque per-connection handle assigned at connect time.
	id string

	// identity is the externally supplied participant identity (remote IP).
	identity string

	// rooms is the set of private room keys this session has joined.
	// Owned exclusively by the Hub's Run goroutine.
	rooms map[string]struct{}

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient constructs a new Client session for the given connection and
// identity. The identity is sanitized for room-key safety.
func NewClient(hub *Hub, wsConn *websocket.Conn, identity string) *Client {
	connID := uuid.NewString()
	identity = SanitizeIdentity(identity)

	clientLogger := logx.Logger().With().
		Str("conn_id", connID).
		Str("identity", identity).
		Logger()

	return &Client{
		hub:      hub,
		conn:     wsConn,
		id:       connID,
		identity: identity,
		rooms:    make(map[string]struct{}),
		send:     make(chan []byte, sendQueueSize),
		logger:   clientLogger,
	}
}

// ID returns the opaque per-connection handle.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the participant identity bound to this session.
func (c *Client) Identity() string {
	return c.identity
}

// ReadPump reads frames from the WebSocket connection and forwards them to
// the Hub. It handles heartbeats (Pong) and performs cleanup on close.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (client close/going away)")
			}
			break
		}

		c.hub.Inbound(c, frame)
	}
}

// cleanupOnDisconnect hands the session back to the Hub and closes the
// transport when ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.hub.Unregister(c)

	if err := c.conn.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Client connection close error")
	}
}

// WritePump writes queued frames from Client.send to the WebSocket
// connection and maintains the ping heartbeat.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Error().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !c.writeQueuedMessage(message, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedMessage handles messages pulled from the send channel, writing them to the WebSocket.
// Returns true if the WritePump loop should continue, false if it should terminate.
func (c *Client) writeQueuedMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
			c.logger.Error().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
// Returns false if the WritePump loop should terminate due to write failure.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// enqueue attempts to place an already-marshaled frame on the send queue
// without blocking. Returns false if the queue is full: the caller treats
// the session as stalled.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send channel full, dropping message")
		return false
	}
}

// sendEvent marshals an envelope with the given event name and payload and
// queues it for delivery.
func (c *Client) sendEvent(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("Error marshaling event data for client")
		return err
	}

	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		c.logger.Error().Err(err).Str("event", event).Msg("Error marshaling envelope for client")
		return err
	}

	if !c.enqueue(frame) {
		return fmt.Errorf("client send queue full")
	}

	return nil
}

// SendError constructs and sends an EventError envelope to the client.
func (c *Client) SendError(err error) {
	var code int
	var message string

	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		code = customErr.Code
		message = customErr.Message
	} else {
		code = errs.ErrUnknown
		message = fmt.Sprintf("Internal server error: %v", err)
	}

	if sendErr := c.sendEvent(EventError, ErrorPayload{Code: code, Message: message}); sendErr != nil {
		c.logger.Error().Err(sendErr).Msg("Failed to queue error message")
	}
}
