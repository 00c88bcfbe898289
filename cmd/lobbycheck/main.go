package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/cheese-lobby/pkg/protocol"
)

// lobbycheck plays one short game against a running server with two
// connections and reports the first step that misbehaves.
func main() {
	url := flag.String("url", envOr("LOBBY_CHECK_URL", "ws://127.0.0.1:8080/game"), "websocket endpoint")
	timeout := flag.Duration("timeout", 10*time.Second, "overall deadline")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := run(ctx, *url); err != nil {
		log.Printf("lobbycheck FAILED: %v", err)
		os.Exit(1)
	}
	log.Println("lobbycheck ok")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

type client struct {
	name string
	conn *websocket.Conn
}

func dial(ctx context.Context, url, name string) (*client, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("%s dial: %w", name, err)
	}
	return &client{name: name, conn: conn}, nil
}

func (c *client) send(ctx context.Context, code protocol.Code, content any) error {
	if err := c.conn.Write(ctx, websocket.MessageText, protocol.Encode(code, content)); err != nil {
		return fmt.Errorf("%s send %s: %w", c.name, code, err)
	}
	return nil
}

// expect reads frames until one of type want arrives. Broadcasts about other
// players may be interleaved, so unrelated frames are skipped.
func (c *client) expect(ctx context.Context, want protocol.Code) (protocol.Envelope, error) {
	for {
		var env protocol.Envelope
		if err := wsjson.Read(ctx, c.conn, &env); err != nil {
			return env, fmt.Errorf("%s waiting for %s: %w", c.name, want, err)
		}
		log.Printf("%s <- %s %s", c.name, env.Type, string(env.Content))
		if env.Type == want {
			return env, nil
		}
	}
}

func run(ctx context.Context, url string) error {
	a, err := dial(ctx, url, "creator")
	if err != nil {
		return err
	}
	defer a.conn.Close(websocket.StatusNormalClosure, "")
	if _, err := a.expect(ctx, protocol.ListParties); err != nil {
		return err
	}

	b, err := dial(ctx, url, "challenger")
	if err != nil {
		return err
	}
	if _, err := b.expect(ctx, protocol.ListParties); err != nil {
		return err
	}

	if err := a.send(ctx, protocol.NewGame, nil); err != nil {
		return err
	}
	added, err := b.expect(ctx, protocol.AddPlayer)
	if err != nil {
		return err
	}
	var creator protocol.PlayerID
	if err := json.Unmarshal(added.Content, &creator); err != nil {
		return fmt.Errorf("AddPlayer content: %w", err)
	}

	if err := b.send(ctx, protocol.Connect, creator); err != nil {
		return err
	}
	env, err := a.expect(ctx, protocol.StartGame)
	if err != nil {
		return err
	}
	var start protocol.StartGamePayload
	if err := json.Unmarshal(env.Content, &start); err != nil {
		return fmt.Errorf("StartGame content: %w", err)
	}
	if start.Colour != protocol.Light {
		return fmt.Errorf("creator got colour %s, want light", start.Colour)
	}
	if _, err := b.expect(ctx, protocol.StartGame); err != nil {
		return err
	}

	move := map[string]any{"sessionId": start.SessionID, "move": protocol.Move{4, 1, 4, 3}}
	if err := a.send(ctx, protocol.MakeMove, move); err != nil {
		return err
	}
	for _, c := range []*client{a, b} {
		if _, err := c.expect(ctx, protocol.UpdateBoard); err != nil {
			return err
		}
	}

	if err := b.conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		return fmt.Errorf("challenger close: %w", err)
	}
	_, err = a.expect(ctx, protocol.BreakGame)
	return err
}
