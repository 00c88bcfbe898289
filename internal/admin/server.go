// Package admin serves read-only lobby introspection over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/cheese-lobby/internal/domain"
	"github.com/park285/cheese-lobby/internal/lobby"
	"github.com/park285/cheese-lobby/internal/obslog"
	"github.com/park285/cheese-lobby/internal/render"
	"github.com/park285/cheese-lobby/pkg/protocol"
)

// Lobby is what the admin endpoints read from the broker.
type Lobby interface {
	Stats() lobby.Stats
	Parties() []protocol.PlayerID
	Position(sid protocol.SessionID) (lobby.Position, bool)
}

// Archive lists finished sessions. Optional.
type Archive interface {
	RecentSessions(ctx context.Context, limit int) ([]*domain.SessionRecord, error)
}

type Server struct {
	lobby    Lobby
	archive  Archive
	renderer *render.Renderer
	logger   *zap.Logger
	started  time.Time
	srv      *fasthttp.Server
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithArchive(a Archive) Option {
	return func(s *Server) { s.archive = a }
}

func WithRenderer(r *render.Renderer) Option {
	return func(s *Server) {
		if r != nil {
			s.renderer = r
		}
	}
}

func NewServer(l Lobby, opts ...Option) *Server {
	s := &Server{
		lobby:    l,
		renderer: render.New(render.DefaultSquareSize),
		logger:   obslog.L(),
		started:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.srv = &fasthttp.Server{
		Name:                  "cheese-lobby-admin",
		Handler:               s.handle,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		IdleTimeout:           30 * time.Second,
		NoDefaultServerHeader: true,
	}
	return s
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("admin_listen", zap.String("addr", ln.Addr().String()))
	return s.srv.Serve(ln)
}

func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.ShutdownWithContext(ctx)
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	path := strings.TrimRight(string(ctx.Path()), "/")
	switch {
	case path == "/healthz":
		s.writeJSON(ctx, fasthttp.StatusOK, map[string]any{
			"status":         "ok",
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
		})
	case path == "/stats":
		s.writeJSON(ctx, fasthttp.StatusOK, s.lobby.Stats())
	case path == "/parties":
		parties := s.lobby.Parties()
		if parties == nil {
			parties = []protocol.PlayerID{}
		}
		s.writeJSON(ctx, fasthttp.StatusOK, parties)
	case path == "/archive":
		s.handleArchive(ctx)
	case strings.HasPrefix(path, "/sessions/"):
		s.handleSession(ctx, strings.TrimPrefix(path, "/sessions/"))
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

// handleSession serves /sessions/{id}, /sessions/{id}/fen and
// /sessions/{id}/board.png.
func (s *Server) handleSession(ctx *fasthttp.RequestCtx, rest string) {
	idPart, view, _ := strings.Cut(rest, "/")
	id, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		ctx.Error("invalid session id", fasthttp.StatusBadRequest)
		return
	}
	pos, ok := s.lobby.Position(protocol.SessionID(id))
	if !ok {
		ctx.Error("session not found", fasthttp.StatusNotFound)
		return
	}

	switch view {
	case "":
		s.writeJSON(ctx, fasthttp.StatusOK, pos.Record)
	case "fen":
		ctx.SetContentType("text/plain; charset=utf-8")
		ctx.SetBodyString(pos.Record.FEN)
	case "board.png":
		var opts render.Options
		if n := len(pos.Record.MovesCoord); n > 0 {
			opts.Highlight, _ = render.HighlightFromCoord(pos.Record.MovesCoord[n-1])
		}
		data, err := s.renderer.RenderPNG(ctx, pos.Board, opts)
		if err != nil {
			s.logger.Error("admin_render_failed", zap.Uint64("session_id", id), zap.Error(err))
			ctx.Error("render failed", fasthttp.StatusInternalServerError)
			return
		}
		ctx.SetContentType("image/png")
		ctx.SetBody(data)
	default:
		ctx.Error("not found", fasthttp.StatusNotFound)
	}
}

func (s *Server) handleArchive(ctx *fasthttp.RequestCtx) {
	if s.archive == nil {
		ctx.Error("archive disabled", fasthttp.StatusNotFound)
		return
	}
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	qctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	recs, err := s.archive.RecentSessions(qctx, limit)
	if err != nil {
		s.logger.Error("admin_archive_failed", zap.Error(err))
		ctx.Error("archive query failed", fasthttp.StatusBadGateway)
		return
	}
	if recs == nil {
		recs = []*domain.SessionRecord{}
	}
	s.writeJSON(ctx, fasthttp.StatusOK, recs)
}

func (s *Server) writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("admin_encode_failed", zap.Error(err))
		ctx.Error("encode failed", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
