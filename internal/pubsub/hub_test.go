package pubsub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Guizzs26/vote_consolidation_pipeline/internal/metrics"
)

func startHub(t *testing.T) (*Hub, *metrics.BroadcastMetrics) {
	t.Helper()

	m := metrics.NewBroadcastMetrics(prometheus.NewRegistry(), "test", "broadcast")
	h := NewHub(m, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.done
	})

	return h, m
}

func recv(t *testing.T, c *Client) Envelope {
	t.Helper()

	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("client channel closed")
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("invalid frame %s: %v", data, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message")
	}
	return Envelope{}
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()

	select {
	case data, ok := <-c.Send:
		if ok {
			t.Errorf("expected nothing, got %s", data)
		}
	default:
	}
}

// flush round-trips through the hub so everything sent before has been applied.
func flush(h *Hub) {
	c := NewClient()
	h.Subscribe(c)
	h.Unsubscribe(c)
}

func TestSubscribeSendsWelcome(t *testing.T) {
	h, m := startHub(t)
	c := NewClient()

	h.Subscribe(c)

	env := recv(t, c)
	if env.Event != WelcomeEvent {
		t.Fatalf("expected welcome event, got %s", env.Event)
	}
	data, _ := env.Data.(map[string]any)
	if data["text"] != "Welcome!" {
		t.Errorf("unexpected welcome payload %v", env.Data)
	}
	assertEmpty(t, c)

	flush(h)
	if got := testutil.ToFloat64(m.Observers); got != 1 {
		t.Errorf("expected 1 observer, got %v", got)
	}
}

func TestPublishFanOut(t *testing.T) {
	h, _ := startHub(t)

	early := NewClient()
	gone := NewClient()
	h.Subscribe(early)
	h.Subscribe(gone)
	recv(t, early)
	recv(t, gone)

	h.Unsubscribe(gone)

	if err := h.Publish("scores", map[string]int{"a": 1, "b": 0}); err != nil {
		t.Fatal(err)
	}

	late := NewClient()
	h.Subscribe(late)

	env := recv(t, early)
	if env.Event != "scores" {
		t.Fatalf("expected scores, got %s", env.Event)
	}
	scores, _ := env.Data.(map[string]any)
	if scores["a"] != float64(1) || scores["b"] != float64(0) {
		t.Errorf("unexpected scores %v", env.Data)
	}

	if _, ok := <-gone.Send; ok {
		t.Error("unsubscribed observer must not receive the publish")
	}

	if env := recv(t, late); env.Event != WelcomeEvent {
		t.Errorf("late observer should only get the welcome, got %s", env.Event)
	}
	assertEmpty(t, late)
}

func TestPublishSerializesOnce(t *testing.T) {
	h, _ := startHub(t)

	a, b := NewClient(), NewClient()
	h.Subscribe(a)
	h.Subscribe(b)
	recv(t, a)
	recv(t, b)

	h.Publish("scores", map[string]int{"a": 3})

	fa := <-a.Send
	fb := <-b.Send
	if &fa[0] != &fb[0] {
		t.Error("expected every observer to share the same serialized frame")
	}
}

func TestJoinNamedChannel(t *testing.T) {
	h, _ := startHub(t)

	member, other := NewClient(), NewClient()
	h.Subscribe(member)
	h.Subscribe(other)
	recv(t, member)
	recv(t, other)

	h.Join(member, "poll-1")
	h.PublishTo("poll-1", "scores", map[string]int{"a": 1})

	if env := recv(t, member); env.Event != "scores" {
		t.Errorf("expected scores on the joined channel, got %s", env.Event)
	}
	flush(h)
	assertEmpty(t, other)
}

func TestSlowObserverIsDropped(t *testing.T) {
	h, m := startHub(t)

	slow := NewClient()
	h.Subscribe(slow)

	// the welcome already sits in the buffer, fill the rest and overflow
	for i := 0; i < sendBuffer; i++ {
		h.Publish("scores", map[string]int{"a": i})
	}
	flush(h)

	n := 0
	for range slow.Send {
		n++
	}
	if n != sendBuffer {
		t.Errorf("expected %d buffered frames before the drop, got %d", sendBuffer, n)
	}
	if got := testutil.ToFloat64(m.DroppedClients); got != 1 {
		t.Errorf("expected 1 dropped observer, got %v", got)
	}
}

func TestServeWS(t *testing.T) {
	h, _ := startHub(t)
	srv := httptest.NewServer(ServeWS(h, nil, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "test done")

	read := func() Envelope {
		_, data, err := c.Read(ctx)
		if err != nil {
			t.Fatalf("Read error: %v", err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("invalid frame %s: %v", data, err)
		}
		return env
	}

	if env := read(); env.Event != WelcomeEvent {
		t.Fatalf("expected welcome first, got %s", env.Event)
	}

	if err := c.Write(ctx, websocket.MessageText, []byte(`{"event":"subscribe","channel":"poll-1"}`)); err != nil {
		t.Fatal(err)
	}

	h.Publish("scores", map[string]int{"a": 2, "b": 1})

	env := read()
	if env.Event != "scores" {
		t.Fatalf("expected scores, got %s", env.Event)
	}
	scores, _ := env.Data.(map[string]any)
	if scores["a"] != float64(2) || scores["b"] != float64(1) {
		t.Errorf("unexpected scores %v", env.Data)
	}
}

func TestServeWSOriginPatterns(t *testing.T) {
	h, _ := startHub(t)
	srv := httptest.NewServer(ServeWS(h, []string{"results.example.com"}, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	dial := func(origin string) (*websocket.Conn, error) {
		c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{origin}},
		})
		return c, err
	}

	if c, err := dial("http://evil.example.org"); err == nil {
		c.Close(websocket.StatusNormalClosure, "")
		t.Fatal("expected a foreign origin to be refused")
	}

	c, err := dial("https://results.example.com")
	if err != nil {
		t.Fatalf("expected an allowed origin to connect: %v", err)
	}
	defer c.Close(websocket.StatusNormalClosure, "test done")

	_, data, err := c.Read(ctx)
	if err != nil {
		t.Fatalf("Read error: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event != WelcomeEvent {
		t.Errorf("expected welcome, got %s", data)
	}
}
