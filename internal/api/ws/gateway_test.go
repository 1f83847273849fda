package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termhost/internal/auth"
	"github.com/GriffinCanCode/termhost/internal/shared/id"
	"github.com/GriffinCanCode/termhost/internal/terminal"
	"github.com/GriffinCanCode/termhost/internal/terminal/account"
	"github.com/GriffinCanCode/termhost/internal/terminal/process"
)

type gatewayFixture struct {
	server *httptest.Server
	hub    *Hub
}

func newGatewayFixture(t *testing.T, sessions Sessions, verifier auth.Verifier) *gatewayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(sessions, nil, nil)
	gateway := NewGateway(Config{}, sessions, hub, verifier, nil, nil, nil)

	router := gin.New()
	router.GET("/terminal/ws", gateway.Handle)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &gatewayFixture{server: server, hub: hub}
}

func (f *gatewayFixture) url(token string) string {
	u := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/terminal/ws"
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (f *gatewayFixture) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(f.url(token), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType MessageType, payload any) {
	t.Helper()
	frame, err := Encode(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func read(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, frame, err := conn.ReadMessage()
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, sonic.Unmarshal(frame, &env))
	return env
}

func readPayload[T any](t *testing.T, conn *websocket.Conn, want MessageType) T {
	t.Helper()
	env := read(t, conn)
	require.Equal(t, want, env.Type, "payload: %s", env.Payload)

	var payload T
	if len(env.Payload) > 0 {
		require.NoError(t, sonic.Unmarshal(env.Payload, &payload))
	}
	return payload
}

func createTerminal(t *testing.T, conn *websocket.Conn, userID string) TerminalCreated {
	t.Helper()
	send(t, conn, TypeCreateTerminal, CreateTerminal{UserID: userID, ProjectID: "p1", DisplayIdentity: "a@b.com"})
	return readPayload[TerminalCreated](t, conn, TypeTerminalCreated)
}

func TestHandshakeWithoutTokenIsRejected(t *testing.T) {
	sessions := newFakeSessions()
	f := newGatewayFixture(t, sessions, auth.PresenceVerifier{})

	_, resp, err := websocket.DefaultDialer.Dial(f.url(""), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 0, sessions.Creates())
}

func TestHandshakeWithInvalidTokenIsRejected(t *testing.T) {
	sessions := newFakeSessions()
	f := newGatewayFixture(t, sessions, auth.NewJWT([]byte("secret"), ""))

	_, resp, err := websocket.DefaultDialer.Dial(f.url("not-a-jwt"), nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeAcceptsHeaderToken(t *testing.T) {
	f := newGatewayFixture(t, newFakeSessions(), auth.PresenceVerifier{})

	header := http.Header{}
	header.Set("X-Auth-Token", "dev")
	conn, resp, err := websocket.DefaultDialer.Dial(f.url(""), header)
	require.NoError(t, err)
	resp.Body.Close()
	defer conn.Close()

	send(t, conn, TypePing, nil)
	readPayload[struct{}](t, conn, TypePong)
}

func TestCreateTerminalJoinsRoomAndReplaysScrollback(t *testing.T) {
	sessions := newFakeSessions()
	sessions.scrollback["u1"] = "a@terminal:~$ "
	f := newGatewayFixture(t, sessions, auth.PresenceVerifier{})
	conn := f.dial(t, "dev")

	created := createTerminal(t, conn, "u1")
	assert.Equal(t, "a", created.Username)
	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "/workspaces/p1", created.WorkingDirectory)
	assert.True(t, strings.HasPrefix(created.SessionID, "sess_"))

	replay := readPayload[TerminalOutput](t, conn, TypeTerminalOutput)
	assert.Equal(t, "a@terminal:~$ ", replay.Data)
	require.Eventually(t, func() bool {
		return len(sessions.Attached()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	f.hub.SessionOutput("u1", id.SessionID(created.SessionID), []byte("hello\r\n"))
	out := readPayload[TerminalOutput](t, conn, TypeTerminalOutput)
	assert.Equal(t, "hello\r\n", out.Data)

	f.hub.SessionExit("u1", id.SessionID(created.SessionID), process.ExitStatus{Code: 137, Signal: 9})
	exit := readPayload[TerminalExit](t, conn, TypeTerminalExit)
	assert.Equal(t, 137, exit.ExitCode)
	assert.Equal(t, 9, exit.Signal)
}

func TestSecondViewerSharesSession(t *testing.T) {
	sessions := newFakeSessions()
	f := newGatewayFixture(t, sessions, auth.PresenceVerifier{})
	first, second := f.dial(t, "dev"), f.dial(t, "dev")

	a := createTerminal(t, first, "u1")
	b := createTerminal(t, second, "u1")
	assert.Equal(t, a.SessionID, b.SessionID)
	assert.Equal(t, 2, f.hub.Members("u1"))

	f.hub.SessionOutput("u1", id.SessionID(a.SessionID), []byte("shared"))
	assert.Equal(t, "shared", readPayload[TerminalOutput](t, first, TypeTerminalOutput).Data)
	assert.Equal(t, "shared", readPayload[TerminalOutput](t, second, TypeTerminalOutput).Data)
}

func TestInputAndResize(t *testing.T) {
	sessions := newFakeSessions()
	f := newGatewayFixture(t, sessions, auth.PresenceVerifier{})
	conn := f.dial(t, "dev")
	createTerminal(t, conn, "u1")

	send(t, conn, TypeTerminalInput, TerminalInput{UserID: "u1", Data: "ls\n"})
	send(t, conn, TypeTerminalResize, TerminalResize{UserID: "u1", Cols: 120, Rows: 40})

	require.Eventually(t, func() bool {
		return sessions.Input("u1") == "ls\n" && sessions.Size("u1") == [2]int{120, 40}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestOperationErrorsAreReported(t *testing.T) {
	sessions := newFakeSessions()
	f := newGatewayFixture(t, sessions, auth.PresenceVerifier{})
	conn := f.dial(t, "dev")
	createTerminal(t, conn, "u1")

	send(t, conn, TypeTerminalResize, TerminalResize{UserID: "u1", Cols: 0, Rows: 40})
	assert.Contains(t, readPayload[TerminalError](t, conn, TypeTerminalError).Message, "validation error")

	send(t, conn, TypeTerminalInput, TerminalInput{UserID: "u9", Data: "x"})
	assert.Contains(t, readPayload[TerminalError](t, conn, TypeTerminalError).Message, "session not found")

	send(t, conn, TypeCreateTerminal, CreateTerminal{UserID: "u2"})
	assert.Contains(t, readPayload[TerminalError](t, conn, TypeTerminalError).Message, "validation error")
}

func TestCreateFailureIsReported(t *testing.T) {
	sessions := newFakeSessions()
	sessions.createErr = fmt.Errorf("%w: fork/exec /bin/bash: no such file", terminal.ErrProcess)
	f := newGatewayFixture(t, sessions, auth.PresenceVerifier{})
	conn := f.dial(t, "dev")

	send(t, conn, TypeCreateTerminal, CreateTerminal{UserID: "u1", ProjectID: "p1"})
	msg := readPayload[TerminalError](t, conn, TypeTerminalError)
	assert.Contains(t, msg.Message, "process error")
	assert.Equal(t, 0, f.hub.Members("u1"))
}

func TestUnknownAndMalformedMessages(t *testing.T) {
	f := newGatewayFixture(t, newFakeSessions(), auth.PresenceVerifier{})
	conn := f.dial(t, "dev")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"exec","payload":{"cmd":"rm"}}`)))
	assert.Contains(t, readPayload[TerminalError](t, conn, TypeTerminalError).Message, "unknown message type")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{{{`)))
	assert.Contains(t, readPayload[TerminalError](t, conn, TypeTerminalError).Message, "malformed message")

	send(t, conn, TypePing, nil)
	readPayload[struct{}](t, conn, TypePong)
}

func TestDeleteTerminalNotifiesRoom(t *testing.T) {
	sessions := newFakeSessions()
	f := newGatewayFixture(t, sessions, auth.PresenceVerifier{})
	first, second := f.dial(t, "dev"), f.dial(t, "dev")
	createTerminal(t, first, "u1")
	createTerminal(t, second, "u1")

	send(t, first, TypeDeleteTerminal, DeleteTerminal{UserID: "u1"})
	for _, conn := range []*websocket.Conn{first, second} {
		deleted := readPayload[TerminalDeleted](t, conn, TypeTerminalDeleted)
		assert.True(t, deleted.Success)
		assert.Equal(t, "u1", deleted.UserID)
	}
	assert.Equal(t, 0, f.hub.Members("u1"))

	send(t, first, TypeDeleteTerminal, DeleteTerminal{UserID: "u1"})
	assert.False(t, readPayload[TerminalDeleted](t, first, TypeTerminalDeleted).Success)
	assert.Empty(t, sessions.Detached(), "a deleted session has nothing to detach")
}

func TestDisconnectDetaches(t *testing.T) {
	sessions := newFakeSessions()
	f := newGatewayFixture(t, sessions, auth.PresenceVerifier{})
	conn := f.dial(t, "dev")
	createTerminal(t, conn, "u1")

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return len(sessions.Detached()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"u1"}, sessions.Detached())
}

func TestTokenSubjectMustMatchUser(t *testing.T) {
	secret := []byte("secret")
	sessions := newFakeSessions()
	f := newGatewayFixture(t, sessions, auth.NewJWT(secret, ""))

	token, err := auth.Sign(secret, "", "u1", time.Minute)
	require.NoError(t, err)
	conn := f.dial(t, token)

	send(t, conn, TypeCreateTerminal, CreateTerminal{UserID: "u2", ProjectID: "p1"})
	assert.Contains(t, readPayload[TerminalError](t, conn, TypeTerminalError).Message, "not authorized")
	assert.Equal(t, 0, sessions.Creates())

	created := createTerminal(t, conn, "u1")
	assert.Equal(t, "u1", created.UserID)
}

func TestGatewayWithRealShell(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	spawner := process.NewSpawner(process.Config{
		Shell:        "/bin/sh",
		ShellArgs:    []string{},
		KillTimeout:  2 * time.Second,
		DrainTimeout: 200 * time.Millisecond,
	}, nil, nil)
	registry := terminal.NewRegistry(terminal.Config{
		WorkspaceRoot: t.TempDir(),
		HomeRoot:      t.TempDir(),
		GracePeriod:   time.Hour,
	}, account.NewMemory(), spawner, nil, nil)
	t.Cleanup(func() { _ = registry.Shutdown(context.Background()) })

	f := newGatewayFixture(t, registry, auth.PresenceVerifier{})
	registry.SetListener(f.hub)
	conn := f.dial(t, "dev")

	created := createTerminal(t, conn, "u1")
	assert.Equal(t, "a", created.Username)

	send(t, conn, TypeTerminalInput, TerminalInput{UserID: "u1", Data: "echo $((6*7))\n"})

	var output strings.Builder
	for !strings.Contains(output.String(), "42") {
		env := read(t, conn)
		require.Equal(t, TypeTerminalOutput, env.Type, "payload: %s", env.Payload)
		var out TerminalOutput
		require.NoError(t, sonic.Unmarshal(env.Payload, &out))
		output.WriteString(out.Data)
	}

	send(t, conn, TypeTerminalInput, TerminalInput{UserID: "u1", Data: "exit 5\n"})
	for {
		env := read(t, conn)
		if env.Type == TypeTerminalOutput {
			continue
		}
		require.Equal(t, TypeTerminalExit, env.Type)
		var exit TerminalExit
		require.NoError(t, sonic.Unmarshal(env.Payload, &exit))
		assert.Equal(t, 5, exit.ExitCode)
		assert.Equal(t, created.SessionID, exit.SessionID)
		break
	}
}
