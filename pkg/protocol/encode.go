package protocol

import "encoding/json"

func encode(code Code, content any) []byte {
	env := Envelope{Type: code}
	if content != nil {
		env.Content, _ = json.Marshal(content)
	}
	raw, _ := json.Marshal(env)
	return raw
}

// EncodeListParties always carries an array, [] when nobody is waiting.
func EncodeListParties(ids []PlayerID) []byte {
	if ids == nil {
		ids = []PlayerID{}
	}
	return encode(ListParties, ids)
}

func EncodeAddPlayer(id PlayerID) []byte { return encode(AddPlayer, id) }

func EncodeRemovePlayer(id PlayerID) []byte { return encode(RemovePlayer, id) }

func EncodeStartGame(sid SessionID, colour Colour) []byte {
	return encode(StartGame, StartGamePayload{SessionID: sid, Colour: colour})
}

func EncodeUpdateBoard(m Move) []byte { return encode(UpdateBoard, m) }

func EncodeBreakGame() []byte { return encode(BreakGame, nil) }

// Encode builds a client frame. Used by the smoke client and tests.
func Encode(code Code, content any) []byte { return encode(code, content) }
