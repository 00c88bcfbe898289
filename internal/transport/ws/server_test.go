package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-lobby/internal/config"
	"github.com/park285/cheese-lobby/internal/lobby"
	"github.com/park285/cheese-lobby/pkg/protocol"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		Path:         "/game",
		SendBuffer:   16,
		ReadLimit:    4096,
		PingInterval: 0,
		WriteTimeout: time.Second,
	}
}

func startServer(t *testing.T, cfg config.ServerConfig) (*Server, *lobby.Broker, string) {
	t.Helper()
	b := lobby.NewBroker(lobby.WithLogger(zap.NewNop()))
	srv := NewServer(b, cfg, WithLogger(zap.NewNop()))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, b, "ws" + strings.TrimPrefix(ts.URL, "http") + cfg.Path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(websocket.StatusNormalClosure, "") })
	return c
}

func read(t *testing.T, c *websocket.Conn) protocol.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var env protocol.Envelope
	require.NoError(t, wsjson.Read(ctx, c, &env))
	return env
}

func write(t *testing.T, c *websocket.Conn, code protocol.Code, content any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, protocol.Encode(code, content)))
}

func TestCreateConnectMoveDisconnect(t *testing.T) {
	_, b, url := startServer(t, testConfig())

	a := dial(t, url)
	env := read(t, a)
	require.Equal(t, protocol.ListParties, env.Type)
	assert.JSONEq(t, `[]`, string(env.Content))

	c := dial(t, url)
	require.Equal(t, protocol.ListParties, read(t, c).Type)

	write(t, a, protocol.NewGame, nil)
	env = read(t, c)
	require.Equal(t, protocol.AddPlayer, env.Type)
	assert.JSONEq(t, `1`, string(env.Content))

	write(t, c, protocol.Connect, 1)
	for _, tc := range []struct {
		conn   *websocket.Conn
		colour protocol.Colour
	}{{a, protocol.Light}, {c, protocol.Dark}} {
		env := read(t, tc.conn)
		require.Equal(t, protocol.StartGame, env.Type)
		var sg protocol.StartGamePayload
		require.NoError(t, json.Unmarshal(env.Content, &sg))
		assert.Equal(t, protocol.SessionID(1), sg.SessionID)
		assert.Equal(t, tc.colour, sg.Colour)
	}

	write(t, a, protocol.MakeMove, map[string]any{"sessionId": 1, "move": []int{4, 1, 4, 3}})
	for _, conn := range []*websocket.Conn{a, c} {
		env := read(t, conn)
		require.Equal(t, protocol.UpdateBoard, env.Type)
		assert.JSONEq(t, `[4,1,4,3]`, string(env.Content))
	}

	require.NoError(t, c.Close(websocket.StatusNormalClosure, "bye"))
	env = read(t, a)
	require.Equal(t, protocol.BreakGame, env.Type)

	require.Eventually(t, func() bool {
		st, _, ok := b.State(1)
		return ok && st == lobby.Searching && b.Stats().Players == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGarbageFramesAreIgnored(t *testing.T) {
	_, _, url := startServer(t, testConfig())
	a := dial(t, url)
	read(t, a)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte("not json")))
	require.NoError(t, a.Write(ctx, websocket.MessageText, []byte(`{"type":42}`)))

	write(t, a, protocol.UpdateList, nil)
	assert.Equal(t, protocol.ListParties, read(t, a).Type)
}

func TestHandlesAreDistinct(t *testing.T) {
	_, b, url := startServer(t, testConfig())
	for i := 0; i < 3; i++ {
		c := dial(t, url)
		read(t, c)
		write(t, c, protocol.NewGame, nil)
	}
	require.Eventually(t, func() bool { return len(b.Parties()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []protocol.PlayerID{1, 2, 3}, b.Parties())
}

func TestOriginCheck(t *testing.T) {
	cfg := testConfig()
	cfg.AllowedOrigins = []string{"lobby.example.com"}
	_, _, url := startServer(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://elsewhere.example.net"}},
	})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"http://lobby.example.com"}},
	})
	require.NoError(t, err)
	_ = c.Close(websocket.StatusNormalClosure, "")
}

func TestShutdownClosesConnectionsAndLeaves(t *testing.T) {
	srv, b, url := startServer(t, testConfig())
	a := dial(t, url)
	read(t, a)
	require.Equal(t, 1, b.Stats().Players)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() {
		// Keep reading so the close handshake completes.
		for {
			if _, _, err := a.Read(ctx); err != nil {
				return
			}
		}
	}()
	require.NoError(t, srv.Shutdown(ctx))
	assert.Equal(t, 0, b.Stats().Players)
	assert.Equal(t, 0, srv.Conns())

	_, _, err := websocket.Dial(ctx, url, nil)
	assert.Error(t, err)
}

func TestSendQueueOverflowClosesConn(t *testing.T) {
	c := newConn(7, nil, 1)
	require.NoError(t, c.Send([]byte("a")))
	require.ErrorIs(t, c.Send([]byte("b")), ErrSendQueueFull)
	code, reason := c.status()
	assert.Equal(t, websocket.StatusPolicyViolation, code)
	assert.Equal(t, "send queue full", reason)
	require.ErrorIs(t, c.Send([]byte("c")), ErrConnClosed)
}
