/*
Package chat contains the real-time core of the LAN chat server.

This file defines the Hub, the central event router. It owns every connected
session, the private-room membership table, and the fan-out logic for public
broadcasts and private deliveries. All shared state is confined to the Run
goroutine: registration, disconnection, and inbound frames arrive over
channels, so membership snapshots used for delivery are always consistent.
*/
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"lanchat/internal/app/store"
	"lanchat/internal/pkg/errs"
	"lanchat/internal/pkg/logx"
)

const (
	// inboundQueueSize buffers frames between client read pumps and the Run
	// loop.
	inboundQueueSize = 1024

	// storeTimeout bounds every store call issued by the Run loop. Store
	// failures fail fast instead of stalling delivery to other connections.
	storeTimeout = 5 * time.Second
)

// inboundEvent pairs a raw client frame with the session that produced it.
type inboundEvent struct {
	client *Client
	frame  []byte
}

// Hub is the event router: it accepts inbound events from all connected
// sessions, classifies them, persists messages, and decides fan-out targets.
type Hub struct {
	// messages is the append-only message log.
	messages store.MessageStore

	// presence is the registry of identities that have connected.
	presence store.PresenceStore

	// clients is the set of currently connected sessions.
	// Owned exclusively by the Run goroutine.
	clients map[*Client]struct{}

	// rooms maps a private room key to its currently subscribed sessions.
	// Rooms are created lazily on first join and discarded when empty.
	// Owned exclusively by the Run goroutine.
	rooms map[string]map[*Client]struct{}

	// a channel for sessions requesting registration.
	register chan *Client

	// a channel for sessions requesting removal.
	unregister chan *Client

	// a buffered channel of raw frames from client read pumps.
	inbound chan inboundEvent

	// used to signal the Hub to stop its Run loop.
	stopChan chan struct{}

	// closed when the Run loop has exited.
	done chan struct{}

	// now supplies wall-clock timestamps; replaced in tests.
	now func() time.Time

	// structured logger with Hub context.
	logger zerolog.Logger
}

// NewHub constructs a Hub over the given stores. Call Run in its own
// goroutine before registering clients.
func NewHub(messages store.MessageStore, presence store.PresenceStore) *Hub {
	hubLogger := logx.Logger().With().Str("component", "Hub").Logger()

	return &Hub{
		messages:   messages,
		presence:   presence,
		clients:    make(map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, inboundQueueSize),
		stopChan:   make(chan struct{}),
		done:       make(chan struct{}),
		now:        time.Now,
		logger:     hubLogger,
	}
}

// Run is the Hub's main event loop. It processes one event at a time, so
// per-connection delivery order follows the order the loop issues sends.
func (h *Hub) Run() {
	defer func() {
		for client := range h.clients {
			close(client.send)
		}
		h.clients = nil
		h.rooms = nil

		close(h.done)
		h.logger.Info().Msg("Hub Run loop finished.")
	}()

	for {
		select {
		case client := <-h.register:
			h.handleConnect(client)

		case client := <-h.unregister:
			h.handleDisconnect(client)

		case event := <-h.inbound:
			h.dispatch(event.client, event.frame)

		case <-h.stopChan:
			h.logger.Info().Msg("Hub stop initiated.")
			return
		}
	}
}

// Register hands a new session to the Run loop. The session receives the
// public history replay and the presence snapshot before any later event.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister removes a session from the Hub and from every joined room.
// Safe to call more than once per session.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Inbound forwards a raw client frame to the Run loop.
func (h *Hub) Inbound(client *Client, frame []byte) {
	select {
	case h.inbound <- inboundEvent{client: client, frame: frame}:
	case <-h.done:
	}
}

// Shutdown stops the Run loop and waits for it to release all sessions.
func (h *Hub) Shutdown() {
	select {
	case <-h.stopChan:
	default:
		close(h.stopChan)
	}

	<-h.done
}

// storeContext returns a bounded context for a single store call.
func (h *Hub) storeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// defaultLabel derives the presence display label for an identity.
func defaultLabel(identity string) string {
	return fmt.Sprintf("User (%s)", identity)
}

// handleConnect registers the session, records presence, and replays state
// to the new connection only: first the public history, then the presence
// snapshot. Nothing is broadcast on connect.
func (h *Hub) handleConnect(client *Client) {
	h.clients[client] = struct{}{}
	h.logger.Info().
		Str("conn_id", client.id).
		Str("identity", client.identity).
		Int("total_clients", len(h.clients)).
		Msg("Client connected.")

	ctx, cancel := h.storeContext()
	defer cancel()

	if err := h.presence.Upsert(ctx, client.identity, defaultLabel(client.identity), h.now().Truncate(time.Second)); err != nil {
		client.logger.Error().Err(err).Msg("Failed to record presence on connect")
	}

	history, err := h.messages.PublicHistory(ctx)
	if err != nil {
		client.logger.Error().Err(err).Msg("Failed to load public history on connect")
		client.SendError(errs.NewError(errs.ErrStoreFailure))
	} else {
		for _, msg := range history {
			if err := client.sendEvent(EventMessage, FormatLine(msg.Sender, msg.Content, msg.SentAt)); err != nil {
				h.removeClient(client)
				return
			}
		}
	}

	entries, err := h.presence.ListActive(ctx)
	if err != nil {
		client.logger.Error().Err(err).Msg("Failed to load presence snapshot on connect")
		client.SendError(errs.NewError(errs.ErrStoreFailure))
		return
	}

	users := make([]UserEntry, 0, len(entries))
	for _, entry := range entries {
		users = append(users, UserEntry{Identity: entry.Identity, Label: entry.Label})
	}

	if err := client.sendEvent(EventUsersList, users); err != nil {
		h.removeClient(client)
	}
}

// handleDisconnect releases a session: it leaves every joined room and its
// send channel is closed. The presence entry is kept (LastSeen goes stale).
func (h *Hub) handleDisconnect(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}

	h.removeClient(client)
}

// removeClient is the single place a session is torn down. Must run on the
// Run goroutine.
func (h *Hub) removeClient(client *Client) {
	delete(h.clients, client)

	for key := range client.rooms {
		if members, ok := h.rooms[key]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, key)
			}
		}
	}
	client.rooms = make(map[string]struct{})

	close(client.send)

	h.logger.Info().
		Str("conn_id", client.id).
		Str("identity", client.identity).
		Int("total_clients", len(h.clients)).
		Msg("Client disconnected.")
}

// dispatch classifies a raw inbound frame and routes it to its handler.
func (h *Hub) dispatch(client *Client, frame []byte) {
	if _, ok := h.clients[client]; !ok {
		// Frame from a session already torn down; drop it.
		return
	}

	env := classifyFrame(frame)

	switch env.Event {
	case EventMessage:
		h.handleMessage(client, env.Data)

	case EventJoinPrivate:
		h.handleJoinPrivate(client, env.Data)

	default:
		client.logger.Warn().Str("event", env.Event).Msg("Client sent unsupported event")
	}
}

// handleMessage classifies the payload scope, persists the message, and fans
// it out: public messages broadcast to every connected session including the
// sender, private messages go exactly once to the sender and once to each
// other member of the derived room.
func (h *Hub) handleMessage(client *Client, data json.RawMessage) {
	payload := parseMessagePayload(data)

	if len(payload.Message) > MaxContentBytes {
		client.SendError(errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	receiver := SanitizeIdentity(payload.Receiver)
	private := receiver != ""
	sentAt := h.now().Truncate(time.Second)

	msg := store.Message{
		Sender:  client.identity,
		Content: payload.Message,
		SentAt:  sentAt,
		Private: private,
	}
	if private {
		msg.Receiver = receiver
	}

	ctx, cancel := h.storeContext()
	defer cancel()

	if _, err := h.messages.Append(ctx, msg); err != nil {
		client.logger.Error().Err(err).Bool("private", private).Msg("Failed to persist message")
		client.SendError(errs.NewError(errs.ErrStoreFailure))
		return
	}

	line := FormatLine(client.identity, payload.Message, sentAt)

	if private {
		h.fanOutPrivate(client, receiver, line)
	} else {
		h.broadcast(line)
	}
}

// broadcast delivers a formatted display line to every connected session.
func (h *Hub) broadcast(line string) {
	frame, err := marshalEnvelope(EventMessage, line)
	if err != nil {
		h.logger.Error().Err(err).Msg("Error marshaling broadcast frame")
		return
	}

	var stalled []*Client
	for client := range h.clients {
		if !client.enqueue(frame) {
			stalled = append(stalled, client)
		}
	}

	for _, client := range stalled {
		h.removeClient(client)
	}
}

// fanOutPrivate delivers a private message to the sender and to each other
// member of the symmetric room for (sender, receiver), with no duplicate
// deliveries. An empty room is not an error: the sender still gets the echo.
func (h *Hub) fanOutPrivate(sender *Client, receiver, line string) {
	frame, err := marshalEnvelope(EventPrivateMessage, PrivateMessagePayload{
		Message: line,
		From:    sender.identity,
		To:      receiver,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("Error marshaling private message frame")
		return
	}

	targets := map[*Client]struct{}{sender: {}}
	for member := range h.rooms[DeriveRoomKey(sender.identity, receiver)] {
		targets[member] = struct{}{}
	}

	var stalled []*Client
	for client := range targets {
		if !client.enqueue(frame) {
			stalled = append(stalled, client)
		}
	}

	for _, client := range stalled {
		h.removeClient(client)
	}
}

// handleJoinPrivate subscribes the session to the room derived from the
// descriptor and replays that pair's history to the requester only. Each
// replayed entry carries its true original sender and receiver.
func (h *Hub) handleJoinPrivate(client *Client, data json.RawMessage) {
	var payload JoinPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		client.logger.Warn().Err(err).Msg("Client sent invalid join_private payload")
		client.SendError(errs.NewError(errs.ErrRoomInvalid))
		return
	}

	key, peer, ok := roomKeyFromDescriptor(payload.Room, client.identity)
	if !ok {
		client.logger.Warn().Str("room", payload.Room).Msg("Client sent unresolvable room descriptor")
		client.SendError(errs.NewError(errs.ErrRoomInvalid))
		return
	}

	members, exists := h.rooms[key]
	if !exists {
		members = make(map[*Client]struct{})
		h.rooms[key] = members
	}
	members[client] = struct{}{}
	client.rooms[key] = struct{}{}

	client.logger.Info().
		Str("room_key", key).
		Int("members", len(members)).
		Msg("Client joined private room.")

	ctx, cancel := h.storeContext()
	defer cancel()

	history, err := h.messages.PrivateHistory(ctx, client.identity, peer)
	if err != nil {
		client.logger.Error().Err(err).Str("room_key", key).Msg("Failed to load private history")
		client.SendError(errs.NewError(errs.ErrStoreFailure))
		return
	}

	for _, msg := range history {
		err := client.sendEvent(EventPrivateMessage, PrivateMessagePayload{
			Message: FormatLine(msg.Sender, msg.Content, msg.SentAt),
			From:    msg.Sender,
			To:      msg.Receiver,
		})
		if err != nil {
			h.removeClient(client)
			return
		}
	}
}

// marshalEnvelope renders an envelope frame once so fan-out shares a single
// serialization.
func marshalEnvelope(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(Envelope{Event: event, Data: data})
}
