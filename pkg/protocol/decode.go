package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMalformedContent   = errors.New("malformed content")
)

// Request is one of the client-originated messages. The set is closed:
// NewGameRequest, UpdateListRequest, BreakWaitRequest, ConnectRequest and
// MakeMoveRequest.
type Request interface {
	Code() Code
	isRequest()
}

type NewGameRequest struct{}

type UpdateListRequest struct{}

type BreakWaitRequest struct{}

// ConnectRequest asks to join the waiting party created by Creator.
type ConnectRequest struct {
	Creator PlayerID
}

type MakeMoveRequest struct {
	Session SessionID
	Move    Move
}

func (NewGameRequest) Code() Code    { return NewGame }
func (UpdateListRequest) Code() Code { return UpdateList }
func (BreakWaitRequest) Code() Code  { return BreakWait }
func (ConnectRequest) Code() Code    { return Connect }
func (MakeMoveRequest) Code() Code   { return MakeMove }

func (NewGameRequest) isRequest()    {}
func (UpdateListRequest) isRequest() {}
func (BreakWaitRequest) isRequest()  {}
func (ConnectRequest) isRequest()    {}
func (MakeMoveRequest) isRequest()   {}

type rawEnvelope struct {
	Type    json.RawMessage `json:"type"`
	Content json.RawMessage `json:"content"`
}

var jsonNull = []byte("null")

// ParseEnvelope validates the outer object and returns its type and raw
// content. A null content is reported as absent.
func ParseEnvelope(raw []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Envelope{}, ErrMalformedEnvelope
	}
	var env rawEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if len(env.Type) == 0 || bytes.Equal(env.Type, jsonNull) {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	var code int
	if err := json.Unmarshal(env.Type, &code); err != nil {
		return Envelope{}, fmt.Errorf("%w: type is not an integer", ErrMalformedEnvelope)
	}
	out := Envelope{Type: Code(code)}
	if len(env.Content) > 0 && !bytes.Equal(env.Content, jsonNull) {
		out.Content = env.Content
	}
	return out, nil
}

// Decode turns one inbound text frame into a typed request.
func Decode(raw []byte) (Request, error) {
	env, err := ParseEnvelope(raw)
	if err != nil {
		return nil, err
	}
	switch env.Type {
	case NewGame:
		return NewGameRequest{}, nil
	case UpdateList:
		return UpdateListRequest{}, nil
	case BreakWait:
		return BreakWaitRequest{}, nil
	case Connect:
		return decodeConnect(env.Content)
	case MakeMove:
		return decodeMakeMove(env.Content)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, int(env.Type))
	}
}

func decodeConnect(content json.RawMessage) (Request, error) {
	if content == nil {
		return nil, fmt.Errorf("%w: connect without creator", ErrMalformedContent)
	}
	var id flexID
	if err := json.Unmarshal(content, &id); err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrMalformedContent, err)
	}
	return ConnectRequest{Creator: PlayerID(id)}, nil
}

type makeMoveContent struct {
	SessionID *flexID `json:"sessionId"`
	// older clients name the session field id_party
	PartyID *flexID `json:"id_party"`
	Move    *Move   `json:"move"`
}

func decodeMakeMove(content json.RawMessage) (Request, error) {
	if content == nil {
		return nil, fmt.Errorf("%w: move without content", ErrMalformedContent)
	}
	var body makeMoveContent
	if err := json.Unmarshal(content, &body); err != nil {
		return nil, fmt.Errorf("%w: move: %v", ErrMalformedContent, err)
	}
	sid := body.SessionID
	if sid == nil {
		sid = body.PartyID
	}
	if sid == nil {
		return nil, fmt.Errorf("%w: move without sessionId", ErrMalformedContent)
	}
	if body.Move == nil {
		return nil, fmt.Errorf("%w: move without coordinates", ErrMalformedContent)
	}
	return MakeMoveRequest{Session: SessionID(*sid), Move: *body.Move}, nil
}
