package domain

import "time"

type EndReason string

const (
	EndPlayerLeft EndReason = "player_left"
	EndShutdown   EndReason = "shutdown"
)

// SessionRecord is a point-in-time copy of a live or finished session,
// safe to hand to other goroutines.
type SessionRecord struct {
	ID         uint64    `json:"id"`
	GameUUID   string    `json:"game_uuid"`
	LightID    uint64    `json:"light_id"`
	DarkID     uint64    `json:"dark_id"`
	TurnHolder uint64    `json:"turn_holder"`
	MovesCoord []string  `json:"moves"`
	FEN        string    `json:"fen"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	EndReason  EndReason `json:"end_reason,omitempty"`
	LeftBy     uint64    `json:"left_by,omitempty"`
}

func (r *SessionRecord) Duration() time.Duration {
	if r == nil || r.EndedAt.IsZero() {
		return 0
	}
	d := r.EndedAt.Sub(r.StartedAt)
	if d < 0 {
		return 0
	}
	return d
}
