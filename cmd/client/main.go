package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/pubsub"
)

func main() {
	url := flag.String("url", "ws://localhost:4000/ws", "Broadcaster websocket URL")
	channel := flag.String("channel", "", "Extra channel to subscribe to")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-signalChan
		slog.Info("Shutting 'client' down...")
		cancel()
	}()

	conn, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		slog.Error("Failed to connect", "url", *url, "error", err)
		os.Exit(1)
	}
	defer conn.Close(websocket.StatusNormalClosure, "client exit")

	if *channel != "" {
		req, _ := json.Marshal(map[string]string{"event": "subscribe", "channel": *channel})
		if err := conn.Write(ctx, websocket.MessageText, req); err != nil {
			slog.Error("Failed to subscribe", "channel", *channel, "error", err)
			return
		}
	}

	slog.Info("Listening for tally updates", "url", *url)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.Info("Connection closed")
				return
			}
			slog.Error("Read error", "error", err)
			return
		}

		var env pubsub.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			slog.Warn("Unexpected frame", "frame", string(msg))
			continue
		}
		data, _ := json.Marshal(env.Data)
		slog.Info("Update", "event", env.Event, "data", string(data))
	}
}
