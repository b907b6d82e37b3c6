package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"lanchat/internal/app/chat"
	"lanchat/internal/app/store"
	"lanchat/internal/configs"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mem := store.NewMemory(0)
	hub := chat.NewHub(mem, mem)
	go hub.Run()
	t.Cleanup(hub.Shutdown)

	deps := &AppDeps{
		Hub: hub,
		Config: &configs.AppConfig{
			Environment:    "development",
			Port:           8080,
			AllowedOrigins: []string{},
		},
	}

	srv := httptest.NewServer(Router(deps))
	t.Cleanup(srv.Close)

	return srv
}

func Test_Health_Endpoint(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	res, err := http.Get(srv.URL + "/health")
	req.NoError(err)
	defer res.Body.Close()

	req.Equal(http.StatusOK, res.StatusCode)

	var body struct {
		Code int `json:"code"`
		Data struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	req.NoError(json.NewDecoder(res.Body).Decode(&body))
	req.Equal(0, body.Code)
	req.Equal("ok", body.Data.Status)
}

func Test_WebSocket_Connect_And_Broadcast(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, res, err := websocket.DefaultDialer.Dial(wsURL, nil)
	req.NoError(err)
	defer conn.Close()
	defer res.Body.Close()

	req.NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))

	// Connect-time replay: empty store, so the first frame is the presence
	// snapshot containing this connection's identity.
	var env chat.Envelope
	_, frame, err := conn.ReadMessage()
	req.NoError(err)
	req.NoError(json.Unmarshal(frame, &env))
	req.Equal(chat.EventUsersList, env.Event)

	var users []chat.UserEntry
	req.NoError(json.Unmarshal(env.Data, &users))
	req.Len(users, 1)

	// A legacy bare-text frame comes back as a formatted broadcast.
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("hello")))

	_, frame, err = conn.ReadMessage()
	req.NoError(err)
	req.NoError(json.Unmarshal(frame, &env))
	req.Equal(chat.EventMessage, env.Event)

	var line string
	req.NoError(json.Unmarshal(env.Data, &line))
	req.Contains(line, ") says: hello - [")
}
