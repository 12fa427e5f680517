package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 5 * time.Second

// request is what observers may send, e.g. {"event":"subscribe","channel":"poll"}.
type request struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
}

// ServeWS upgrades the request and keeps the observer subscribed until
// the connection goes away. Cross-origin observers are let in when their
// host matches one of originPatterns; with no patterns every origin is
// accepted, the result page being public.
func ServeWS(h *Hub, originPatterns []string, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	opts := &websocket.AcceptOptions{
		OriginPatterns:     originPatterns,
		InsecureSkipVerify: len(originPatterns) == 0,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, opts)
		if err != nil {
			logger.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := NewClient()
		if !h.Subscribe(client) {
			c.Close(websocket.StatusGoingAway, "server shutting down")
			return
		}
		logger.Debug("observer connected", "observer_id", client.ID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go writePump(ctx, c, client, logger)
		readPump(ctx, c, h, client, logger)
	}
}

// writePump sends messages from the hub to the WebSocket connection
func writePump(ctx context.Context, c *websocket.Conn, client *Client, logger *slog.Logger) {
	defer c.Close(websocket.StatusNormalClosure, "")

	for m := range client.Send {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := c.Write(wctx, websocket.MessageText, m)
		cancel()
		if err != nil {
			logger.Debug("error writing to observer", "observer_id", client.ID, "error", err)
			return
		}
	}
}

// readPump listens for subscribe requests until the connection closes
func readPump(ctx context.Context, c *websocket.Conn, h *Hub, client *Client, logger *slog.Logger) {
	defer func() {
		h.Unsubscribe(client)
		c.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
				websocket.CloseStatus(err) == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				logger.Debug("observer disconnected", "observer_id", client.ID)
			} else {
				logger.Debug("error reading from observer", "observer_id", client.ID, "error", err)
			}
			return
		}

		var req request
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Debug("ignoring observer message", "observer_id", client.ID, "error", err)
			continue
		}
		if req.Event == "subscribe" && req.Channel != "" {
			h.Join(client, req.Channel)
		}
	}
}
