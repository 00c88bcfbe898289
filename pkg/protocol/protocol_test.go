package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeSimpleRequests(t *testing.T) {
	cases := map[string]Request{
		`{"type":0}`:                 NewGameRequest{},
		`{"type":1}`:                 UpdateListRequest{},
		`{"type":2, "content":null}`: BreakWaitRequest{},
		`{"type":3,"content":7}`:     ConnectRequest{Creator: 7},
		`{"type":3,"content":"12"}`:  ConnectRequest{Creator: 12},
	}
	for raw, want := range cases {
		got, err := Decode([]byte(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestDecodeMakeMove(t *testing.T) {
	got, err := Decode([]byte(`{"type":4,"content":{"sessionId":3,"move":[4,1,4,3]}}`))
	require.NoError(t, err)
	assert.Equal(t, MakeMoveRequest{Session: 3, Move: Move{4, 1, 4, 3}}, got)

	legacy, err := Decode([]byte(`{"type":4,"content":{"id_party":"3","move":[0,1,0,2]}}`))
	require.NoError(t, err)
	assert.Equal(t, MakeMoveRequest{Session: 3, Move: Move{0, 1, 0, 2}}, legacy)
}

func TestDecodeMalformedEnvelope(t *testing.T) {
	for _, raw := range []string{
		``,
		`not json`,
		`[1,2]`,
		`null`,
		`{}`,
		`{"type":null}`,
		`{"type":"0"}`,
		`{"type":1.5}`,
		`{"content":3}`,
	} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedEnvelope, raw)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	for _, raw := range []string{`{"type":-1}`, `{"type":5}`, `{"type":10}`, `{"type":99}`} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrUnknownMessageType, raw)
	}
}

func TestDecodeMalformedContent(t *testing.T) {
	for _, raw := range []string{
		`{"type":3}`,
		`{"type":3,"content":null}`,
		`{"type":3,"content":"abc"}`,
		`{"type":3,"content":-4}`,
		`{"type":4}`,
		`{"type":4,"content":{"move":[1,1,1,2]}}`,
		`{"type":4,"content":{"sessionId":1}}`,
		`{"type":4,"content":{"sessionId":1,"move":[1,1,1]}}`,
		`{"type":4,"content":{"sessionId":1,"move":[1,1,1,2,3]}}`,
		`{"type":4,"content":{"sessionId":1,"move":"e2e4"}}`,
		`{"type":4,"content":[1,2]}`,
	} {
		_, err := Decode([]byte(raw))
		assert.ErrorIs(t, err, ErrMalformedContent, raw)
	}
}

func TestEncodeServerMessages(t *testing.T) {
	assert.JSONEq(t, `{"type":5,"content":[]}`, string(EncodeListParties(nil)))
	assert.JSONEq(t, `{"type":5,"content":[1,4]}`, string(EncodeListParties([]PlayerID{1, 4})))
	assert.JSONEq(t, `{"type":6,"content":9}`, string(EncodeAddPlayer(9)))
	assert.JSONEq(t, `{"type":7,"content":9}`, string(EncodeRemovePlayer(9)))
	assert.JSONEq(t, `{"type":8,"content":{"sessionId":2,"colour":1}}`, string(EncodeStartGame(2, Dark)))
	assert.JSONEq(t, `{"type":10,"content":[4,1,4,3]}`, string(EncodeUpdateBoard(Move{4, 1, 4, 3})))
	assert.JSONEq(t, `{"type":9}`, string(EncodeBreakGame()))
}

func TestParseEnvelopeRoundTrip(t *testing.T) {
	env, err := ParseEnvelope(EncodeStartGame(5, Light))
	require.NoError(t, err)
	assert.Equal(t, StartGame, env.Type)

	var payload StartGamePayload
	require.NoError(t, json.Unmarshal(env.Content, &payload))
	assert.Equal(t, StartGamePayload{SessionID: 5, Colour: Light}, payload)
}

func TestCodeString(t *testing.T) {
	assert.Equal(t, "MakeMove", MakeMove.String())
	assert.Equal(t, "Code(42)", Code(42).String())
	assert.True(t, Connect.ClientOriginated())
	assert.False(t, UpdateBoard.ClientOriginated())
}
