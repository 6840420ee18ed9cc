package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/gaspardpetit/voicerelay/internal/logx"
	"github.com/gaspardpetit/voicerelay/internal/metrics"
)

type wsEvent struct {
	Event string `json:"event"`
	Text  string `json:"text,omitempty"`
}

// WSHandler handles GET /ws: a persistent chat connection. Each inbound
// {"text": ...} message produces a run of {"event":"data"} fragments
// followed by {"event":"done"}.
func WSHandler(d Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
		if err != nil {
			logx.Log.Warn().Err(err).Msg("websocket accept")
			return
		}
		defer func() {
			_ = c.Close(websocket.StatusInternalError, "closing")
		}()

		ctx := r.Context()
		for {
			_, data, err := c.Read(ctx)
			if err != nil {
				return
			}
			var req struct {
				Text string `json:"text"`
			}
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			if !streamTurn(ctx, c, d, strings.TrimSpace(req.Text)) {
				return
			}
		}
	}
}

// streamTurn relays one generation over the socket. It returns false
// when the connection is no longer writable.
func streamTurn(ctx context.Context, c *websocket.Conn, d Deps, text string) bool {
	if text == "" {
		return writeEvent(ctx, c, wsEvent{Event: "data", Text: MsgEmptyPrompt}) &&
			writeEvent(ctx, c, wsEvent{Event: "done"})
	}

	st, err := d.Gen.GenerateStream(ctx, fastPrompt(text))
	if err != nil {
		logx.Log.Warn().Err(err).Msg("websocket generate stream")
		return writeEvent(ctx, c, wsEvent{Event: "data", Text: errorMessage(err)}) &&
			writeEvent(ctx, c, wsEvent{Event: "done"})
	}
	defer func() {
		_ = st.Close()
	}()

	n := 0
	for {
		frag, ok := st.Next()
		if !ok {
			break
		}
		if !writeEvent(ctx, c, wsEvent{Event: "data", Text: frag}) {
			return false
		}
		n++
	}
	metrics.RecordFragments(n)
	return writeEvent(ctx, c, wsEvent{Event: "done"})
}

func writeEvent(ctx context.Context, c *websocket.Conn, ev wsEvent) bool {
	b, _ := json.Marshal(ev)
	return c.Write(ctx, websocket.MessageText, b) == nil
}
