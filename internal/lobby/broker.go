package lobby

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/park285/cheese-lobby/internal/board"
	"github.com/park285/cheese-lobby/internal/domain"
	"github.com/park285/cheese-lobby/internal/obslog"
	"github.com/park285/cheese-lobby/internal/session"
	"github.com/park285/cheese-lobby/pkg/protocol"
	"go.uber.org/zap"
)

var (
	ErrUnknownPlayer   = errors.New("unknown player")
	ErrUnknownSession  = errors.New("unknown session")
	ErrDuplicatePlayer = errors.New("player already joined")
)

// Sink delivers encoded frames to one connection. Send must not block.
type Sink interface {
	Send(msg []byte) error
}

type State int

const (
	Searching State = iota
	Waiting
	InSession
)

func (s State) String() string {
	switch s {
	case Searching:
		return "searching"
	case Waiting:
		return "waiting"
	case InSession:
		return "in_session"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type player struct {
	id      protocol.PlayerID
	sink    Sink
	state   State
	session protocol.SessionID
}

// Broker owns every player's state, the Searching and Waiting pools and the
// session registry. All methods are safe for concurrent use; each event runs
// to completion under one lock.
type Broker struct {
	mu          sync.Mutex
	players     map[protocol.PlayerID]*player
	searching   map[protocol.PlayerID]*player
	waiting     map[protocol.PlayerID]*player
	sessions    map[protocol.SessionID]*session.Session
	nextSession protocol.SessionID

	logger   *zap.Logger
	observer Observer
	now      func() time.Time
}

type Option func(*Broker)

func WithLogger(l *zap.Logger) Option {
	return func(b *Broker) {
		if l != nil {
			b.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(b *Broker) { b.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBroker(opts ...Option) *Broker {
	b := &Broker{
		players:   make(map[protocol.PlayerID]*player),
		searching: make(map[protocol.PlayerID]*player),
		waiting:   make(map[protocol.PlayerID]*player),
		sessions:  make(map[protocol.SessionID]*session.Session),
		logger:    obslog.L(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Join registers a new connection in the Searching pool and sends it the
// current party list.
func (b *Broker) Join(id protocol.PlayerID, sink Sink) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.players[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicatePlayer, id)
	}
	p := &player{id: id, sink: sink, state: Searching}
	b.players[id] = p
	b.searching[id] = p
	b.logger.Info("lobby_join", zap.Uint64("player_id", uint64(id)))
	b.sendParties(p)
	return nil
}

// Message decodes one inbound frame and runs its handler. Failures are logged
// and dropped; nothing is sent back to the client.
func (b *Broker) Message(id protocol.PlayerID, raw []byte) error {
	req, err := protocol.Decode(raw)
	if err != nil {
		b.logger.Warn("lobby_drop",
			zap.Uint64("player_id", uint64(id)),
			zap.Int("bytes", len(raw)),
			zap.Error(err),
		)
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.dispatch(id, req); err != nil {
		b.logger.Warn("lobby_drop",
			zap.Uint64("player_id", uint64(id)),
			zap.Stringer("type", req.Code()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (b *Broker) dispatch(id protocol.PlayerID, req protocol.Request) error {
	p, ok := b.players[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownPlayer, id)
	}
	switch r := req.(type) {
	case protocol.NewGameRequest:
		return b.handleNewGame(p)
	case protocol.UpdateListRequest:
		b.sendParties(p)
		return nil
	case protocol.BreakWaitRequest:
		return b.handleBreakWait(p)
	case protocol.ConnectRequest:
		return b.handleConnect(p, r.Creator)
	case protocol.MakeMoveRequest:
		return b.handleMakeMove(p, r)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownMessageType, req.Code())
	}
}

func (b *Broker) handleNewGame(p *player) error {
	if p.state != Searching {
		return fmt.Errorf("%w: %d is %s, not searching", ErrUnknownPlayer, p.id, p.state)
	}
	delete(b.searching, p.id)
	b.waiting[p.id] = p
	p.state = Waiting
	b.logger.Info("lobby_new_game", zap.Uint64("player_id", uint64(p.id)))
	b.broadcastSearching(protocol.EncodeAddPlayer(p.id))
	b.observe(Event{Kind: EventPartyOpened, Player: p.id})
	return nil
}

func (b *Broker) handleBreakWait(p *player) error {
	if p.state != Waiting {
		return fmt.Errorf("%w: %d is %s, not waiting", ErrUnknownPlayer, p.id, p.state)
	}
	delete(b.waiting, p.id)
	b.broadcastSearching(protocol.EncodeRemovePlayer(p.id))
	b.searching[p.id] = p
	p.state = Searching
	b.logger.Info("lobby_break_wait", zap.Uint64("player_id", uint64(p.id)))
	b.sendParties(p)
	b.observe(Event{Kind: EventPartyClosed, Player: p.id})
	return nil
}

func (b *Broker) handleConnect(p *player, creatorID protocol.PlayerID) error {
	if p.state != Searching {
		return fmt.Errorf("%w: %d is %s, not searching", ErrUnknownPlayer, p.id, p.state)
	}
	creator, ok := b.waiting[creatorID]
	if !ok {
		return fmt.Errorf("%w: no waiting party %d", ErrUnknownPlayer, creatorID)
	}

	delete(b.waiting, creator.id)
	delete(b.searching, p.id)
	b.nextSession++
	sid := b.nextSession
	s := session.New(sid, creator.id, p.id, b.now())
	b.sessions[sid] = s
	creator.state, creator.session = InSession, sid
	p.state, p.session = InSession, sid

	b.logger.Info("lobby_session_start",
		zap.Uint64("session_id", uint64(sid)),
		zap.String("game_uuid", s.GameUUID),
		zap.Uint64("light", uint64(creator.id)),
		zap.Uint64("dark", uint64(p.id)),
	)
	b.broadcastSearching(protocol.EncodeRemovePlayer(creator.id))
	b.send(creator, protocol.EncodeStartGame(sid, protocol.Light))
	b.send(p, protocol.EncodeStartGame(sid, protocol.Dark))

	b.observe(Event{Kind: EventPartyClosed, Player: creator.id})
	b.observe(Event{Kind: EventSessionStarted, Player: p.id, Session: snapshot(s)})
	return nil
}

func (b *Broker) handleMakeMove(p *player, req protocol.MakeMoveRequest) error {
	if p.state != InSession {
		return fmt.Errorf("%w: %d is %s, not in a session", ErrUnknownPlayer, p.id, p.state)
	}
	if p.session != req.Session {
		return fmt.Errorf("%w: %d does not belong to %d", ErrUnknownSession, req.Session, p.id)
	}
	s, ok := b.sessions[req.Session]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownSession, req.Session)
	}
	m := board.Move{FromX: req.Move[0], FromY: req.Move[1], ToX: req.Move[2], ToY: req.Move[3]}
	if err := s.MakeMove(p.id, m, b.now()); err != nil {
		return err
	}
	partnerID, _ := s.PartnerOf(p.id)
	msg := protocol.EncodeUpdateBoard(req.Move)
	b.send(p, msg)
	if partner, ok := b.players[partnerID]; ok {
		b.send(partner, msg)
	}
	b.logger.Debug("lobby_move",
		zap.Uint64("session_id", uint64(s.ID)),
		zap.Uint64("player_id", uint64(p.id)),
		zap.String("move", m.Notation()),
	)
	b.observe(Event{Kind: EventSessionMove, Player: p.id, Session: snapshot(s)})
	return nil
}

// Leave tears down everything the player was part of. Unknown handles are
// ignored, so calling it twice is harmless. Reports whether id was live.
func (b *Broker) Leave(id protocol.PlayerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.players[id]
	if !ok {
		return false
	}
	switch p.state {
	case Searching:
		delete(b.searching, id)
	case Waiting:
		delete(b.waiting, id)
		b.broadcastSearching(protocol.EncodeRemovePlayer(id))
		b.observe(Event{Kind: EventPartyClosed, Player: id})
	case InSession:
		b.endSession(p)
	}
	delete(b.players, id)
	b.logger.Info("lobby_leave", zap.Uint64("player_id", uint64(id)), zap.Stringer("state", p.state))
	return true
}

func (b *Broker) endSession(p *player) {
	s, ok := b.sessions[p.session]
	if !ok {
		return
	}
	delete(b.sessions, s.ID)
	rec := snapshot(s)
	rec.EndedAt = b.now()
	rec.EndReason = domain.EndPlayerLeft
	rec.LeftBy = uint64(p.id)

	partnerID, _ := s.PartnerOf(p.id)
	if partner, ok := b.players[partnerID]; ok {
		partner.state, partner.session = Searching, 0
		b.searching[partner.id] = partner
		b.send(partner, protocol.EncodeBreakGame())
	}
	b.logger.Info("lobby_session_end",
		zap.Uint64("session_id", uint64(s.ID)),
		zap.Uint64("left_by", uint64(p.id)),
		zap.Int("moves", len(rec.MovesCoord)),
	)
	b.observe(Event{Kind: EventSessionEnded, Player: p.id, Session: rec})
}

// Shutdown ends every live session so observers can record them. Players
// stay registered; the transport will Leave them as connections close.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]protocol.SessionID, 0, len(b.sessions))
	for sid := range b.sessions {
		ids = append(ids, sid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, sid := range ids {
		s := b.sessions[sid]
		delete(b.sessions, sid)
		rec := snapshot(s)
		rec.EndedAt = b.now()
		rec.EndReason = domain.EndShutdown
		for _, pid := range [...]protocol.PlayerID{s.PlayerA, s.PlayerB} {
			if p, ok := b.players[pid]; ok {
				p.state, p.session = Searching, 0
				b.searching[pid] = p
				b.send(p, protocol.EncodeBreakGame())
			}
		}
		b.observe(Event{Kind: EventSessionEnded, Session: rec})
	}
}

func (b *Broker) sendParties(p *player) {
	b.send(p, protocol.EncodeListParties(b.partiesLocked()))
}

func (b *Broker) partiesLocked() []protocol.PlayerID {
	return sortedIDs(b.waiting)
}

func (b *Broker) broadcastSearching(msg []byte) {
	for _, id := range sortedIDs(b.searching) {
		b.send(b.searching[id], msg)
	}
}

func (b *Broker) send(p *player, msg []byte) {
	if p == nil || p.sink == nil {
		return
	}
	if err := p.sink.Send(msg); err != nil {
		b.logger.Warn("lobby_send_failed", zap.Uint64("player_id", uint64(p.id)), zap.Error(err))
	}
}

func (b *Broker) observe(ev Event) {
	if b.observer == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = b.now()
	}
	b.observer.Observe(ev)
}

func sortedIDs(m map[protocol.PlayerID]*player) []protocol.PlayerID {
	ids := make([]protocol.PlayerID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func snapshot(s *session.Session) *domain.SessionRecord {
	moves := s.Moves()
	coords := make([]string, len(moves))
	for i, m := range moves {
		coords[i] = m.Notation()
	}
	return &domain.SessionRecord{
		ID:         uint64(s.ID),
		GameUUID:   s.GameUUID,
		LightID:    uint64(s.PlayerA),
		DarkID:     uint64(s.PlayerB),
		TurnHolder: uint64(s.TurnHolder()),
		MovesCoord: coords,
		FEN:        s.Board().FEN(),
		StartedAt:  s.StartedAt(),
		UpdatedAt:  s.UpdatedAt(),
	}
}
