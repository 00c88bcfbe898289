package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/park285/cheese-lobby/internal/board"
	"github.com/park285/cheese-lobby/pkg/protocol"
)

var (
	ErrOutOfTurn     = errors.New("not your turn")
	ErrUnknownPlayer = errors.New("player is not in this session")
)

// Session pairs a creator (Light, moves first) with a challenger (Dark).
// It is not safe for concurrent use; the broker serializes access.
type Session struct {
	ID       protocol.SessionID
	GameUUID string
	PlayerA  protocol.PlayerID
	PlayerB  protocol.PlayerID

	turn      protocol.PlayerID
	board     *board.Board
	moves     []board.Move
	startedAt time.Time
	updatedAt time.Time
}

func New(id protocol.SessionID, creator, challenger protocol.PlayerID, now time.Time) *Session {
	return &Session{
		ID:        id,
		GameUUID:  uuid.NewString(),
		PlayerA:   creator,
		PlayerB:   challenger,
		turn:      creator,
		board:     board.New(),
		startedAt: now,
		updatedAt: now,
	}
}

func (s *Session) PartnerOf(p protocol.PlayerID) (protocol.PlayerID, error) {
	switch p {
	case s.PlayerA:
		return s.PlayerB, nil
	case s.PlayerB:
		return s.PlayerA, nil
	default:
		return 0, ErrUnknownPlayer
	}
}

func (s *Session) Colour(p protocol.PlayerID) (protocol.Colour, error) {
	switch p {
	case s.PlayerA:
		return protocol.Light, nil
	case s.PlayerB:
		return protocol.Dark, nil
	default:
		return 0, ErrUnknownPlayer
	}
}

// MakeMove applies m for p. The turn passes to the partner only when the
// board accepted the move.
func (s *Session) MakeMove(p protocol.PlayerID, m board.Move, now time.Time) error {
	partner, err := s.PartnerOf(p)
	if err != nil {
		return err
	}
	if p != s.turn {
		return ErrOutOfTurn
	}
	if err := s.board.ApplyMove(m); err != nil {
		return fmt.Errorf("session %d: %w", s.ID, err)
	}
	s.turn = partner
	s.moves = append(s.moves, m)
	s.updatedAt = now
	return nil
}

func (s *Session) TurnHolder() protocol.PlayerID { return s.turn }

func (s *Session) Board() *board.Board { return s.board }

// Moves returns a copy of the accepted moves in play order.
func (s *Session) Moves() []board.Move {
	out := make([]board.Move, len(s.moves))
	copy(out, s.moves)
	return out
}

func (s *Session) StartedAt() time.Time { return s.startedAt }

func (s *Session) UpdatedAt() time.Time { return s.updatedAt }
