package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/metrics"
)

// DefaultChannel is the group every observer joins on subscribe.
const DefaultChannel = ""

const (
	WelcomeEvent = "message"
	sendBuffer   = 16
)

// Envelope is the frame observers receive.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Message struct {
	Channel string
	Data    []byte
}

// one observer, connected via websocket or anything else draining Send
type Client struct {
	ID   string
	Send chan []byte
}

func NewClient() *Client {
	return &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, sendBuffer),
	}
}

type membership struct {
	client  *Client
	channel string
}

// Hub owns channel membership. A single goroutine (Run) applies every
// register, join, unregister and broadcast in the order they were sent, so
// a broadcast reaches exactly the clients subscribed before it.
type Hub struct {
	channels   map[string]map[*Client]struct{}
	clients    map[*Client]struct{}
	broadcast  chan *Message
	register   chan *Client
	join       chan membership
	unregister chan *Client
	done       chan struct{}
	welcome    []byte
	metrics    *metrics.BroadcastMetrics
	logger     *slog.Logger
}

func NewHub(m *metrics.BroadcastMetrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	welcome, _ := json.Marshal(Envelope{Event: WelcomeEvent, Data: map[string]string{"text": "Welcome!"}})
	return &Hub{
		channels:   map[string]map[*Client]struct{}{DefaultChannel: {}},
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan *Message),
		register:   make(chan *Client),
		join:       make(chan membership),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		welcome:    welcome,
		metrics:    m,
		logger:     logger,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.remove(c)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.channels[DefaultChannel][client] = struct{}{}
			h.deliver(client, h.welcome)
			h.metrics.ObserverCount(len(h.clients))

		case m := <-h.join:
			if _, ok := h.clients[m.client]; !ok {
				continue
			}
			members := h.channels[m.channel]
			if members == nil {
				members = make(map[*Client]struct{})
				h.channels[m.channel] = members
			}
			members[m.client] = struct{}{}

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			for c := range h.channels[message.Channel] {
				h.deliver(c, message.Data)
			}
		}
	}
}

// deliver never blocks the hub. A client that cannot keep up is dropped.
func (h *Hub) deliver(c *Client, data []byte) {
	select {
	case c.Send <- data:
	default:
		h.logger.Warn("dropping slow observer", "observer_id", c.ID)
		h.metrics.DroppedClient()
		h.remove(c)
	}
}

func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for name, members := range h.channels {
		delete(members, c)
		if len(members) == 0 && name != DefaultChannel {
			delete(h.channels, name)
		}
	}
	close(c.Send)
	h.metrics.ObserverCount(len(h.clients))
}

// Subscribe adds the client to the default group and queues the welcome
// message. The first snapshot arrives with the next Publish.
func (h *Hub) Subscribe(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Join adds an already subscribed client to a named channel.
func (h *Hub) Join(c *Client, channel string) {
	select {
	case h.join <- membership{client: c, channel: channel}:
	case <-h.done:
	}
}

// Unsubscribe removes the client everywhere and closes its Send channel.
func (h *Hub) Unsubscribe(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Publish serializes payload once and sends it to every client in the
// default group. Delivery is best effort.
func (h *Hub) Publish(event string, payload any) error {
	return h.PublishTo(DefaultChannel, event, payload)
}

func (h *Hub) PublishTo(channel, event string, payload any) error {
	data, err := json.Marshal(Envelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal %s event: %w", event, err)
	}

	select {
	case h.broadcast <- &Message{Channel: channel, Data: data}:
		h.metrics.Published(event)
	case <-h.done:
	}
	return nil
}
