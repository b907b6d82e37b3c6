/*
Package chat contains the real-time core of the LAN chat server.

This file defines the WebSocket wire protocol: the event envelope exchanged
with clients, the inbound payload shapes and their classification rules, and
the display-line formatting shared by history replay and live broadcast.
*/
package chat

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names carried in the envelope.
const (
	// EventMessage carries a public message: a formatted display line
	// outbound, a bare string or MessagePayload inbound.
	EventMessage = "message"

	// EventPrivateMessage carries a PrivateMessagePayload to the sender and
	// the members of the target room.
	EventPrivateMessage = "private_message"

	// EventJoinPrivate subscribes the connection to a private room and
	// triggers history replay (inbound only).
	EventJoinPrivate = "join_private"

	// EventUsersList carries the presence snapshot, sent once after connect.
	EventUsersList = "users_list"

	// EventError reports a failed inbound operation back to its sender.
	EventError = "error"
)

// timestampLayout is the second-precision wall-clock format used in display
// lines.
const timestampLayout = "2006-01-02 15:04:05"

// Envelope is the framing for every JSON message on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MessagePayload is the structured inbound message shape. A missing message
// field degrades to empty content, and a missing or empty receiver means
// public scope.
type MessagePayload struct {
	Message  string `json:"message"`
	Receiver string `json:"receiver,omitempty"`
}

// JoinPayload is the inbound join_private shape. Room is either a full room
// key or a bare peer identity.
type JoinPayload struct {
	Room string `json:"room"`
}

// PrivateMessagePayload is the outbound private message shape, used for both
// live delivery and history replay. From and To always reflect the true
// original sender and receiver of the underlying record.
type PrivateMessagePayload struct {
	Message string `json:"message"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// UserEntry is one element of the users_list snapshot.
type UserEntry struct {
	Identity string `json:"identity"`
	Label    string `json:"label"`
}

// ErrorPayload is the outbound error shape, mirroring errs.CustomError.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FormatLine renders a message as the display line sent to clients:
// "(sender) says: content - [YYYY-MM-DD HH:MM:SS]".
func FormatLine(sender, content string, at time.Time) string {
	return fmt.Sprintf("(%s) says: %s - [%s]", sender, content, at.Format(timestampLayout))
}

// classifyFrame parses a raw inbound text frame into an Envelope. Frames
// that are not valid envelopes are legacy public messages: the whole frame
// is the message content.
func classifyFrame(frame []byte) Envelope {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		// Legacy clients send the bare message text as the frame.
		legacy, _ := json.Marshal(string(frame))
		return Envelope{Event: EventMessage, Data: legacy}
	}

	if env.Event == "" {
		// An enveloped-less JSON object is treated as message data, matching
		// the permissive shape of the original protocol.
		return Envelope{Event: EventMessage, Data: frame}
	}

	return env
}

// parseMessagePayload classifies message event data. A JSON string is a
// legacy public message; an object is the structured shape; anything else
// degrades to an empty public message.
func parseMessagePayload(data json.RawMessage) MessagePayload {
	if len(data) == 0 {
		return MessagePayload{}
	}

	var legacy string
	if err := json.Unmarshal(data, &legacy); err == nil {
		return MessagePayload{Message: legacy}
	}

	var payload MessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return MessagePayload{}
	}

	return payload
}
