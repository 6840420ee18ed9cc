package relay

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func collectTurn(t *testing.T, ctx context.Context, c *websocket.Conn) string {
	t.Helper()
	var out string
	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		switch ev.Event {
		case "data":
			out += ev.Text
		case "done":
			return out
		default:
			t.Fatalf("unexpected event %q", ev.Event)
		}
	}
}

func TestWSStreamsFragments(t *testing.T) {
	gen := &stubGen{lines: []string{`{"response":"Hi"}`, `{"response":" there"}`}}
	srv := httptest.NewServer(WSHandler(Deps{Gen: gen, Cfg: testConfig(true)}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() {
		_ = c.Close(websocket.StatusNormalClosure, "")
	}()

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"text":"hello"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := collectTurn(t, ctx, c); got != "Hi there" {
		t.Fatalf("reply %q", got)
	}

	// The connection survives across turns.
	if err := c.Write(ctx, websocket.MessageText, []byte(`{"text":""}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := collectTurn(t, ctx, c); got != MsgEmptyPrompt {
		t.Fatalf("reply %q", got)
	}
}
