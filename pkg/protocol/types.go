package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Code is the numeric message type carried in every envelope.
type Code int

const (
	// client → server
	NewGame Code = iota
	UpdateList
	BreakWait
	Connect
	MakeMove

	// server → client
	ListParties
	AddPlayer
	RemovePlayer
	StartGame
	BreakGame
	UpdateBoard
)

var codeNames = [...]string{
	NewGame:      "NewGame",
	UpdateList:   "UpdateList",
	BreakWait:    "BreakWait",
	Connect:      "Connect",
	MakeMove:     "MakeMove",
	ListParties:  "ListParties",
	AddPlayer:    "AddPlayer",
	RemovePlayer: "RemovePlayer",
	StartGame:    "StartGame",
	BreakGame:    "BreakGame",
	UpdateBoard:  "UpdateBoard",
}

func (c Code) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return "Code(" + strconv.Itoa(int(c)) + ")"
}

// ClientOriginated reports whether clients are allowed to send c.
func (c Code) ClientOriginated() bool { return c >= NewGame && c <= MakeMove }

// PlayerID is the connection handle assigned by the transport.
type PlayerID uint64

// SessionID identifies a live game session.
type SessionID uint64

// Colour is the side a player controls. Light moves first.
type Colour int

const (
	Light Colour = 0
	Dark  Colour = 1
)

func (c Colour) String() string {
	switch c {
	case Light:
		return "light"
	case Dark:
		return "dark"
	default:
		return "Colour(" + strconv.Itoa(int(c)) + ")"
	}
}

// Move is [fromX, fromY, toX, toY] on the 8x8 grid.
type Move [4]int

func (m Move) String() string {
	return fmt.Sprintf("(%d,%d)->(%d,%d)", m[0], m[1], m[2], m[3])
}

func (m *Move) UnmarshalJSON(b []byte) error {
	var xs []int
	if err := json.Unmarshal(b, &xs); err != nil {
		return err
	}
	if xs == nil || len(xs) != len(m) {
		return fmt.Errorf("move must have %d coordinates, got %d", len(m), len(xs))
	}
	copy(m[:], xs)
	return nil
}

// flexID accepts a handle as a JSON integer or a numeric string.
type flexID uint64

func (f *flexID) UnmarshalJSON(b []byte) error {
	var n uint64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexID(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return err
	}
	*f = flexID(n)
	return nil
}

// Envelope is the JSON object exchanged on the wire.
type Envelope struct {
	Type    Code            `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// StartGamePayload is the content of a StartGame message.
type StartGamePayload struct {
	SessionID SessionID `json:"sessionId"`
	Colour    Colour    `json:"colour"`
}
