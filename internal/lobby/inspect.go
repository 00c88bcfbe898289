package lobby

import (
	nchess "github.com/corentings/chess/v2"
	"github.com/park285/cheese-lobby/internal/domain"
	"github.com/park285/cheese-lobby/pkg/protocol"
)

type Stats struct {
	Players   int `json:"players"`
	Searching int `json:"searching"`
	Waiting   int `json:"waiting"`
	Sessions  int `json:"sessions"`
}

func (b *Broker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Players:   len(b.players),
		Searching: len(b.searching),
		Waiting:   len(b.waiting),
		Sessions:  len(b.sessions),
	}
}

// State reports the player's state and, when InSession, its session id.
func (b *Broker) State(id protocol.PlayerID) (State, protocol.SessionID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.players[id]
	if !ok {
		return 0, 0, false
	}
	return p.state, p.session, true
}

// Parties returns the waiting handles in ascending order.
func (b *Broker) Parties() []protocol.PlayerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.partiesLocked()
}

// Position is a detached view of one live session.
type Position struct {
	Record *domain.SessionRecord
	Board  *nchess.Board
}

func (b *Broker) Position(sid protocol.SessionID) (Position, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sid]
	if !ok {
		return Position{}, false
	}
	return Position{Record: snapshot(s), Board: s.Board().Chess()}, true
}
