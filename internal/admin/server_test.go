package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"go.uber.org/zap"

	"github.com/park285/cheese-lobby/internal/domain"
	"github.com/park285/cheese-lobby/internal/lobby"
	"github.com/park285/cheese-lobby/pkg/protocol"
)

type nopSink struct{}

func (nopSink) Send([]byte) error { return nil }

type fakeArchive struct {
	recs  []*domain.SessionRecord
	err   error
	limit int
}

func (f *fakeArchive) RecentSessions(_ context.Context, limit int) ([]*domain.SessionRecord, error) {
	f.limit = limit
	return f.recs, f.err
}

func startAdmin(t *testing.T, b *lobby.Broker, opts ...Option) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := NewServer(b, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
}

func get(t *testing.T, c *fasthttp.Client, path string) (int, string, []byte) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://admin" + path)
	require.NoError(t, c.DoTimeout(req, resp, 2*time.Second))
	return resp.StatusCode(), string(resp.Header.ContentType()), append([]byte(nil), resp.Body()...)
}

// liveBroker has one waiting party (3) and session 1 between 1 and 2 after e2e4.
func liveBroker(t *testing.T) *lobby.Broker {
	t.Helper()
	b := lobby.NewBroker(lobby.WithLogger(zap.NewNop()))
	for _, id := range []protocol.PlayerID{1, 2, 3} {
		require.NoError(t, b.Join(id, nopSink{}))
	}
	require.NoError(t, b.Message(1, protocol.Encode(protocol.NewGame, nil)))
	require.NoError(t, b.Message(2, protocol.Encode(protocol.Connect, 1)))
	require.NoError(t, b.Message(3, protocol.Encode(protocol.NewGame, nil)))
	require.NoError(t, b.Message(1, protocol.Encode(protocol.MakeMove, map[string]any{"sessionId": 1, "move": []int{4, 1, 4, 3}})))
	return b
}

func TestHealthAndStats(t *testing.T) {
	c := startAdmin(t, liveBroker(t))

	code, ctype, body := get(t, c, "/healthz")
	require.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, "application/json", ctype)
	var health map[string]any
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "ok", health["status"])

	code, _, body = get(t, c, "/stats")
	require.Equal(t, fasthttp.StatusOK, code)
	assert.JSONEq(t, `{"players":3,"searching":0,"waiting":1,"sessions":1}`, string(body))

	code, _, body = get(t, c, "/parties")
	require.Equal(t, fasthttp.StatusOK, code)
	assert.JSONEq(t, `[3]`, string(body))
}

func TestEmptyPartiesIsArray(t *testing.T) {
	c := startAdmin(t, lobby.NewBroker(lobby.WithLogger(zap.NewNop())))
	_, _, body := get(t, c, "/parties")
	assert.JSONEq(t, `[]`, string(body))
}

func TestSessionViews(t *testing.T) {
	c := startAdmin(t, liveBroker(t))

	code, ctype, body := get(t, c, "/sessions/1/fen")
	require.Equal(t, fasthttp.StatusOK, code)
	assert.Contains(t, ctype, "text/plain")
	assert.Equal(t, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR", string(body))

	code, _, body = get(t, c, "/sessions/1")
	require.Equal(t, fasthttp.StatusOK, code)
	var rec domain.SessionRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, uint64(1), rec.LightID)
	assert.Equal(t, uint64(2), rec.DarkID)
	assert.Equal(t, []string{"e2e4"}, rec.MovesCoord)

	code, ctype, body = get(t, c, "/sessions/1/board.png")
	require.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, "image/png", ctype)
	_, err := png.Decode(bytes.NewReader(body))
	require.NoError(t, err)
}

func TestSessionErrors(t *testing.T) {
	c := startAdmin(t, liveBroker(t))
	for path, want := range map[string]int{
		"/sessions/9/fen":   fasthttp.StatusNotFound,
		"/sessions/abc/fen": fasthttp.StatusBadRequest,
		"/sessions/1/other": fasthttp.StatusNotFound,
		"/nope":             fasthttp.StatusNotFound,
		"/archive":          fasthttp.StatusNotFound,
	} {
		code, _, _ := get(t, c, path)
		assert.Equal(t, want, code, path)
	}
}

func TestArchiveEndpoint(t *testing.T) {
	arch := &fakeArchive{recs: []*domain.SessionRecord{{ID: 4, GameUUID: "g-4"}}}
	c := startAdmin(t, liveBroker(t), WithArchive(arch))

	code, _, body := get(t, c, "/archive?limit=5")
	require.Equal(t, fasthttp.StatusOK, code)
	assert.Equal(t, 5, arch.limit)
	var recs []domain.SessionRecord
	require.NoError(t, json.Unmarshal(body, &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "g-4", recs[0].GameUUID)

	arch.err = errors.New("db down")
	code, _, _ = get(t, c, "/archive")
	assert.Equal(t, fasthttp.StatusBadGateway, code)
}

func TestRejectsWrites(t *testing.T) {
	c := startAdmin(t, liveBroker(t))
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)
	req.SetRequestURI("http://admin/stats")
	req.Header.SetMethod(fasthttp.MethodPost)
	require.NoError(t, c.DoTimeout(req, resp, 2*time.Second))
	assert.Equal(t, fasthttp.StatusMethodNotAllowed, resp.StatusCode())
}
