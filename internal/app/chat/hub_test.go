package chat

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lanchat/internal/app/store"
	"lanchat/internal/pkg/errs"
)

var testClock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// newTestHub starts a Hub with a pinned clock over the given stores and
// shuts it down when the test ends.
func newTestHub(t *testing.T, messages store.MessageStore, presence store.PresenceStore) *Hub {
	t.Helper()

	hub := NewHub(messages, presence)
	hub.now = func() time.Time { return testClock }

	go hub.Run()
	t.Cleanup(hub.Shutdown)

	return hub
}

// recvEnvelope reads the next frame delivered to the client, failing the
// test on timeout or closed channel.
func recvEnvelope(t *testing.T, client *Client) Envelope {
	t.Helper()

	select {
	case frame, ok := <-client.send:
		require.True(t, ok, "client send channel closed while expecting a frame")
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		return env

	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a frame")
		return Envelope{}
	}
}

// recvClosed blocks until the client's send channel is closed, draining any
// frames still queued.
func recvClosed(t *testing.T, client *Client) {
	t.Helper()

	for {
		select {
		case _, ok := <-client.send:
			if !ok {
				return
			}

		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for client send channel to close")
		}
	}
}

// connect registers a client and drains its connect-time replay: wantHistory
// message frames followed by one users_list frame.
func connect(t *testing.T, hub *Hub, identity string, wantHistory int) *Client {
	t.Helper()

	client := NewClient(hub, nil, identity)
	hub.Register(client)

	for i := 0; i < wantHistory; i++ {
		env := recvEnvelope(t, client)
		require.Equal(t, EventMessage, env.Event)
	}

	env := recvEnvelope(t, client)
	require.Equal(t, EventUsersList, env.Event)

	return client
}

func Test_Connect_Replays_Public_History_And_Users_List(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)

	_, err := mem.Append(context.Background(), store.Message{
		Sender:  "10.0.0.9",
		Content: "hi",
		SentAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	req.NoError(err)

	hub := newTestHub(t, mem, mem)

	client := NewClient(hub, nil, "10.0.0.5")
	hub.Register(client)

	env := recvEnvelope(t, client)
	req.Equal(EventMessage, env.Event)

	var line string
	req.NoError(json.Unmarshal(env.Data, &line))
	req.Equal("(10.0.0.9) says: hi - [2024-01-01 00:00:00]", line)

	env = recvEnvelope(t, client)
	req.Equal(EventUsersList, env.Event)

	var users []UserEntry
	req.NoError(json.Unmarshal(env.Data, &users))
	req.Contains(users, UserEntry{Identity: "10.0.0.5", Label: "User (10.0.0.5)"})
}

func Test_Legacy_Public_Message_Broadcasts_To_All(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)
	hub := newTestHub(t, mem, mem)

	alice := connect(t, hub, "10.0.0.1", 0)
	bob := connect(t, hub, "10.0.0.2", 0)

	hub.Inbound(alice, []byte("hello"))

	want := "(10.0.0.1) says: hello - [2024-01-01 00:00:00]"
	for _, client := range []*Client{alice, bob} {
		env := recvEnvelope(t, client)
		req.Equal(EventMessage, env.Event)

		var line string
		req.NoError(json.Unmarshal(env.Data, &line))
		req.Equal(want, line)
	}

	history, err := mem.PublicHistory(context.Background())
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("10.0.0.1", history[0].Sender)
	req.Equal("hello", history[0].Content)
	req.False(history[0].Private)
}

func Test_Private_Message_Reaches_Sender_And_Room_Members_Only(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)
	hub := newTestHub(t, mem, mem)

	alice := connect(t, hub, "10.0.0.1", 0)
	bob := connect(t, hub, "10.0.0.2", 0)
	eve := connect(t, hub, "10.0.0.3", 0)

	// Bob subscribes to his pair room with Alice (no history yet).
	hub.Inbound(bob, []byte(`{"event":"join_private","data":{"room":"10.0.0.1"}}`))

	hub.Inbound(alice, []byte(`{"event":"message","data":{"message":"secret","receiver":"10.0.0.2"}}`))

	for _, client := range []*Client{alice, bob} {
		env := recvEnvelope(t, client)
		req.Equal(EventPrivateMessage, env.Event)

		var payload PrivateMessagePayload
		req.NoError(json.Unmarshal(env.Data, &payload))
		req.Equal("10.0.0.1", payload.From)
		req.Equal("10.0.0.2", payload.To)
		req.Equal("(10.0.0.1) says: secret - [2024-01-01 00:00:00]", payload.Message)
	}

	// A follow-up broadcast must be the very next frame Eve sees: the
	// private message never reached her.
	hub.Inbound(alice, []byte("marker"))
	env := recvEnvelope(t, eve)
	req.Equal(EventMessage, env.Event)

	history, err := mem.PrivateHistory(context.Background(), "10.0.0.1", "10.0.0.2")
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("10.0.0.1", history[0].Sender)
	req.Equal("10.0.0.2", history[0].Receiver)
	req.True(history[0].Private)
}

func Test_JoinPrivate_Replays_History_With_True_Senders(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)

	_, err := mem.Append(context.Background(), store.Message{
		Sender:   "10.0.0.1",
		Receiver: "10.0.0.2",
		Content:  "earlier secret",
		SentAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Private:  true,
	})
	req.NoError(err)

	hub := newTestHub(t, mem, mem)
	bob := connect(t, hub, "10.0.0.2", 0)

	hub.Inbound(bob, []byte(`{"event":"join_private","data":{"room":"10.0.0.1|10.0.0.2"}}`))

	env := recvEnvelope(t, bob)
	req.Equal(EventPrivateMessage, env.Event)

	var payload PrivateMessagePayload
	req.NoError(json.Unmarshal(env.Data, &payload))
	req.Equal("10.0.0.1", payload.From)
	req.Equal("10.0.0.2", payload.To)
	req.Equal("(10.0.0.1) says: earlier secret - [2024-01-01 00:00:00]", payload.Message)

	// Exactly one replay entry: the next frame Bob sees is a fresh marker
	// broadcast, not a duplicate.
	hub.Inbound(bob, []byte("marker"))
	env = recvEnvelope(t, bob)
	req.Equal(EventMessage, env.Event)
}

func Test_Join_Is_Idempotent_Per_Connection(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)
	hub := newTestHub(t, mem, mem)

	alice := connect(t, hub, "10.0.0.1", 0)
	bob := connect(t, hub, "10.0.0.2", 0)

	join := []byte(`{"event":"join_private","data":{"room":"10.0.0.1"}}`)
	hub.Inbound(bob, join)
	hub.Inbound(bob, join)

	hub.Inbound(alice, []byte(`{"event":"message","data":{"message":"once","receiver":"10.0.0.2"}}`))

	env := recvEnvelope(t, bob)
	req.Equal(EventPrivateMessage, env.Event)

	// Single delivery: the very next frame is the marker broadcast.
	hub.Inbound(alice, []byte("marker"))
	env = recvEnvelope(t, bob)
	req.Equal(EventMessage, env.Event)
}

func Test_Missing_Message_Field_Degrades_To_Empty_Content(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)
	hub := newTestHub(t, mem, mem)

	alice := connect(t, hub, "10.0.0.1", 0)

	hub.Inbound(alice, []byte(`{"event":"message","data":{"receiver":""}}`))

	env := recvEnvelope(t, alice)
	req.Equal(EventMessage, env.Event)

	var line string
	req.NoError(json.Unmarshal(env.Data, &line))
	req.Equal("(10.0.0.1) says:  - [2024-01-01 00:00:00]", line)

	history, err := mem.PublicHistory(context.Background())
	req.NoError(err)
	req.Len(history, 1)
	req.Equal("", history[0].Content)
}

func Test_Disconnect_Releases_Room_Memberships(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)
	hub := newTestHub(t, mem, mem)

	alice := connect(t, hub, "10.0.0.1", 0)
	bob := connect(t, hub, "10.0.0.2", 0)

	hub.Inbound(bob, []byte(`{"event":"join_private","data":{"room":"10.0.0.1"}}`))

	hub.Unregister(bob)
	recvClosed(t, bob)

	hub.Inbound(alice, []byte(`{"event":"message","data":{"message":"anyone there","receiver":"10.0.0.2"}}`))

	// The sender still gets the echo; there are simply no other targets.
	env := recvEnvelope(t, alice)
	req.Equal(EventPrivateMessage, env.Event)
}

// failingMessageStore always fails Append; history queries are empty.
type failingMessageStore struct{}

func (failingMessageStore) Append(context.Context, store.Message) (int64, error) {
	return 0, errors.Join(store.ErrUnavailable, errors.New("disk on fire"))
}

func (failingMessageStore) PublicHistory(context.Context) ([]store.Message, error) {
	return nil, nil
}

func (failingMessageStore) PrivateHistory(context.Context, string, string) ([]store.Message, error) {
	return nil, nil
}

func Test_Store_Failure_Is_Reported_To_Sender_Only(t *testing.T) {
	req := require.New(t)
	presence := store.NewMemory(0)
	hub := newTestHub(t, failingMessageStore{}, presence)

	alice := connect(t, hub, "10.0.0.1", 0)
	bob := connect(t, hub, "10.0.0.2", 0)

	hub.Inbound(alice, []byte("doomed"))

	env := recvEnvelope(t, alice)
	req.Equal(EventError, env.Event)

	var payload ErrorPayload
	req.NoError(json.Unmarshal(env.Data, &payload))
	req.Equal(errs.ErrStoreFailure, payload.Code)

	// The hub keeps serving: a new session still connects and Bob saw
	// nothing of the failure.
	connect(t, hub, "10.0.0.3", 0)
	req.Empty(bob.send)
}

func Test_Oversized_Message_Is_Rejected(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)
	hub := newTestHub(t, mem, mem)

	alice := connect(t, hub, "10.0.0.1", 0)

	big := make([]byte, MaxContentBytes+1)
	for i := range big {
		big[i] = 'a'
	}
	hub.Inbound(alice, big)

	env := recvEnvelope(t, alice)
	req.Equal(EventError, env.Event)

	var payload ErrorPayload
	req.NoError(json.Unmarshal(env.Data, &payload))
	req.Equal(errs.ErrMessageContentTooLong, payload.Code)

	history, err := mem.PublicHistory(context.Background())
	req.NoError(err)
	req.Empty(history)
}

func Test_Invalid_Room_Descriptor_Is_Rejected(t *testing.T) {
	req := require.New(t)
	mem := store.NewMemory(0)
	hub := newTestHub(t, mem, mem)

	alice := connect(t, hub, "10.0.0.1", 0)

	hub.Inbound(alice, []byte(`{"event":"join_private","data":{"room":""}}`))

	env := recvEnvelope(t, alice)
	req.Equal(EventError, env.Event)

	var payload ErrorPayload
	req.NoError(json.Unmarshal(env.Data, &payload))
	req.Equal(errs.ErrRoomInvalid, payload.Code)
}
