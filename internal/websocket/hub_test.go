package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/coder/websocket"

	"github.com/dukerupert/keygate/internal/events"
	"github.com/dukerupert/keygate/internal/model"
)

func mockClient(hub *Hub) *Client {
	return &Client{
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
	}
}

func TestRegisterUnregister(t *testing.T) {
	hub := NewHub(slog.Default())
	c1, c2 := mockClient(hub), mockClient(hub)

	hub.Register(c1)
	hub.Register(c2)
	if got := hub.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	hub.Unregister(c1)
	hub.Unregister(c1)
	if got := hub.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}
	hub.Unregister(c2)
}

func TestPublish(t *testing.T) {
	hub := NewHub(slog.Default())
	c1, c2 := mockClient(hub), mockClient(hub)
	hub.Register(c1)
	hub.Register(c2)
	defer hub.Unregister(c1)
	defer hub.Unregister(c2)

	ev := events.Event{Type: events.TokenIssued, TokenID: "tok-1", Plan: model.PlanShort}
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.send:
			var got events.Event
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != events.TokenIssued || got.TokenID != "tok-1" || got.Plan != model.PlanShort {
				t.Errorf("got %+v", got)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}
}

func TestPublishFullBuffer(t *testing.T) {
	hub := NewHub(slog.Default())
	c := mockClient(hub)
	hub.Register(c)
	defer hub.Unregister(c)

	for i := 0; i < sendBufferSize+3; i++ {
		hub.Publish(context.Background(), events.Event{Type: events.TokenRevoked})
	}

	if got := len(c.send); got != sendBufferSize {
		t.Errorf("buffered %d events, want %d", got, sendBufferSize)
	}
	if got := hub.Dropped(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewHub(slog.Default())
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := mockClient(hub)
			hub.Register(c)
			hub.Publish(context.Background(), events.Event{Type: events.TokenActivated})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if got := hub.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients, got %d", got)
	}
}

func TestHandleEventsStreams(t *testing.T) {
	hub := NewHub(slog.Default())
	srv := httptest.NewServer(HandleEvents(hub, []string{"*"}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Publish(ctx, events.Event{Type: events.TokenRevoked, TokenID: "tok-9"})

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got events.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != events.TokenRevoked || got.TokenID != "tok-9" {
		t.Errorf("got %+v", got)
	}
}
