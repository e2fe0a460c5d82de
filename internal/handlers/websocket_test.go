package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftbottle/realtime/client"
	"github.com/driftbottle/realtime/internal/call"
	"github.com/driftbottle/realtime/internal/models"
	"github.com/driftbottle/realtime/internal/registry"
	"github.com/driftbottle/realtime/internal/relay"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	gateway *Gateway
	url     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	reg := registry.New(nil)
	router := relay.NewRouter(reg)
	calls := call.NewMachine(router, time.Minute, nil)
	gateway := &Gateway{
		Registry:  reg,
		Push:      relay.NewPushRelay(router),
		Calls:     calls,
		Negotiate: relay.NewNegotiationRelay(router, calls),
	}

	engine := gin.New()
	engine.GET("/ws/connect", gateway.HandleSocket)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	return &testServer{
		gateway: gateway,
		url:     "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/connect",
	}
}

func (ts *testServer) dial(t *testing.T, userID string) *client.Conn {
	t.Helper()
	conn, err := client.Dial(ts.url, userID)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool {
		return ts.gateway.Registry.Online(userID)
	}, 2*time.Second, 10*time.Millisecond, "user %s never registered", userID)
	return conn
}

func collect[T any](t *testing.T, conn *client.Conn, event string) chan T {
	t.Helper()
	ch := make(chan T, 8)
	conn.On(event, func(raw json.RawMessage) {
		var data T
		if err := json.Unmarshal(raw, &data); err != nil {
			t.Errorf("malformed %s payload: %v", event, err)
			return
		}
		ch <- data
	})
	return ch
}

func recv[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		panic("unreachable")
	}
}

func TestCallFlow(t *testing.T) {
	ts := newTestServer(t)
	x := ts.dial(t, "userX")
	y := ts.dial(t, "userY")

	incoming := collect[models.CallRequest](t, y, models.EventCallIncoming)
	answered := collect[models.CallStatusUpdate](t, x, models.EventCallAnswered)

	require.NoError(t, x.Emit(models.EventCallInitiate, models.CallRequest{
		CallID:     "c1",
		ReceiverID: "userY",
	}))

	req := recv(t, incoming, "voice-call-incoming")
	assert.Equal(t, "c1", req.CallID)
	assert.Equal(t, "userX", req.CallerID)

	require.NoError(t, y.Emit(models.EventCallAnswer, models.CallStatusUpdate{
		CallID: "c1",
		Status: models.CallStatusAnswered,
	}))

	update := recv(t, answered, "voice-call-answered")
	assert.Equal(t, models.CallStatusAnswered, update.Status)

	session, ok := ts.gateway.Calls.Session("c1")
	require.True(t, ok)
	assert.Equal(t, models.CallConnected, session.State)
}

func TestSecondInitiateRefusedAsBusy(t *testing.T) {
	ts := newTestServer(t)
	x := ts.dial(t, "userX")
	ts.dial(t, "userY")
	ts.dial(t, "userZ")

	rejected := collect[models.CallStatusUpdate](t, x, models.EventCallRejected)

	require.NoError(t, x.Emit(models.EventCallInitiate, models.CallRequest{CallID: "c1", ReceiverID: "userY"}))
	require.Eventually(t, func() bool {
		_, ok := ts.gateway.Calls.Session("c1")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, x.Emit(models.EventCallInitiate, models.CallRequest{CallID: "c2", ReceiverID: "userZ"}))

	update := recv(t, rejected, "busy rejection")
	assert.Equal(t, "c2", update.CallID)
	assert.Equal(t, models.CallStatusBusy, update.Status)

	// The first call is unaffected.
	session, ok := ts.gateway.Calls.Session("c1")
	require.True(t, ok)
	assert.Equal(t, models.CallRinging, session.State)
}

func TestMessagePush(t *testing.T) {
	ts := newTestServer(t)
	x := ts.dial(t, "userX")
	y := ts.dial(t, "userY")

	toY := collect[models.Envelope](t, y, models.EventNewMessage)
	echoToX := collect[models.Envelope](t, x, models.EventNewMessage)

	env := models.Envelope{
		ID:         "m1",
		SenderID:   "userX",
		ReceiverID: "userY",
		BottleID:   "bottle-1",
		Content:    "message in a bottle",
		CreatedAt:  time.Now(),
	}
	require.NoError(t, x.SendMessage("userY", env))

	got := recv(t, toY, "new-message at receiver")
	assert.Equal(t, "m1", got.ID)
	assert.Equal(t, "message in a bottle", got.Content)

	echo := recv(t, echoToX, "new-message echo at sender")
	assert.Equal(t, "m1", echo.ID)
}

func TestOfflineRecipientSkipped(t *testing.T) {
	ts := newTestServer(t)

	delivered := ts.gateway.Push.Deliver("ghost", models.Envelope{
		ID:         "m1",
		SenderID:   "userX",
		ReceiverID: "ghost",
		Content:    "anyone there?",
	})
	assert.False(t, delivered)
}

func TestSignalingForwarded(t *testing.T) {
	ts := newTestServer(t)
	x := ts.dial(t, "userX")
	y := ts.dial(t, "userY")

	incoming := collect[models.CallRequest](t, y, models.EventCallIncoming)
	signals := collect[models.SignalPayload](t, y, models.EventSignaling)

	require.NoError(t, x.Emit(models.EventCallInitiate, models.CallRequest{CallID: "c1", ReceiverID: "userY"}))
	recv(t, incoming, "voice-call-incoming")

	payload := json.RawMessage(`{"sdp":"v=0...","type":"offer"}`)
	require.NoError(t, x.Emit(models.EventSignaling, models.SignalPayload{
		Type:   models.SignalOffer,
		Data:   payload,
		RoomID: "c1",
	}))

	sig := recv(t, signals, "webrtc-signaling at peer")
	assert.Equal(t, models.SignalOffer, sig.Type)
	assert.Equal(t, "c1", sig.RoomID)
	assert.JSONEq(t, string(payload), string(sig.Data))
}

func TestDisconnectEndsCall(t *testing.T) {
	ts := newTestServer(t)
	x := ts.dial(t, "userX")
	y := ts.dial(t, "userY")

	incoming := collect[models.CallRequest](t, y, models.EventCallIncoming)
	ended := collect[models.CallStatusUpdate](t, y, models.EventCallEnded)

	require.NoError(t, x.Emit(models.EventCallInitiate, models.CallRequest{CallID: "c1", ReceiverID: "userY"}))
	recv(t, incoming, "voice-call-incoming")

	x.Close()

	update := recv(t, ended, "voice-call-ended after peer disconnect")
	assert.Equal(t, "c1", update.CallID)
	assert.False(t, ts.gateway.Registry.Online("userX"))
}

func TestFramesBeforeLoginAreDropped(t *testing.T) {
	ts := newTestServer(t)
	ts.dial(t, "userY")

	ws, _, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.NoError(t, err)
	defer ws.Close()

	// No user-login yet: the frame must be dropped without killing the
	// connection or creating a session.
	frame, err := models.NewFrame(models.EventCallInitiate, models.CallRequest{CallID: "c1", ReceiverID: "userY"})
	require.NoError(t, err)
	payload, err := json.Marshal(frame)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

	time.Sleep(50 * time.Millisecond)
	_, ok := ts.gateway.Calls.Session("c1")
	assert.False(t, ok)

	// The same connection still works after identifying itself.
	login, err := models.NewFrame(models.EventUserLogin, "lateUser")
	require.NoError(t, err)
	payload, err = json.Marshal(login)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

	require.Eventually(t, func() bool {
		return ts.gateway.Registry.Online("lateUser")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMalformedFrameDoesNotKillConnection(t *testing.T) {
	ts := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	login, err := models.NewFrame(models.EventUserLogin, models.LoginData{UserID: "userX"})
	require.NoError(t, err)
	payload, err := json.Marshal(login)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

	require.Eventually(t, func() bool {
		return ts.gateway.Registry.Online("userX")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPingPong(t *testing.T) {
	ts := newTestServer(t)

	ws, _, err := websocket.DefaultDialer.Dial(ts.url, nil)
	require.NoError(t, err)
	defer ws.Close()

	ping, err := models.NewFrame(models.EventPing, nil)
	require.NoError(t, err)
	payload, err := json.Marshal(ping)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, payload))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var frame models.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, models.EventPong, frame.Event)
}

func TestRegistryReplacementOnRelogin(t *testing.T) {
	ts := newTestServer(t)

	ts.dial(t, "userX")
	first, ok := ts.gateway.Registry.Lookup("userX")
	require.True(t, ok)

	second := ts.dial(t, "userX")
	require.Eventually(t, func() bool {
		h, ok := ts.gateway.Registry.Lookup("userX")
		return ok && h.ConnID() != first.ConnID()
	}, 2*time.Second, 10*time.Millisecond)

	// Only the newest connection receives pushes.
	toSecond := collect[models.Envelope](t, second, models.EventNewMessage)
	ts.gateway.Push.Deliver("userX", models.Envelope{ID: "m1", SenderID: "userX", ReceiverID: "userX"})
	got := recv(t, toSecond, "push to replacement connection")
	assert.Equal(t, "m1", got.ID)
}
