package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/wagerledger/internal/domain"
)

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

const (
	poolHex = "0x00000000000000000000000000000000000000000000000000000000000000AA"
	betHex  = "0x00000000000000000000000000000000000000000000000000000000000000BB"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		kind    domain.EventKind
		records []string
	}{
		{name: "pool event", data: `{"kind":"pool_resolved","payload":{"pool":"` + poolHex + `"}}`, kind: "pool_resolved", records: []string{strings.ToLower(poolHex)}},
		{name: "delegation event", data: `{"kind":"pool_delegated","payload":{"pool_address":"` + poolHex + `"}}`, kind: "pool_delegated", records: []string{strings.ToLower(poolHex)}},
		{name: "bet event", data: `{"kind":"bet_delegated","payload":{"bet_address":"` + betHex + `"}}`, kind: "bet_delegated", records: []string{strings.ToLower(betHex)}},
		{name: "protocol event", data: `{"kind":"pause_changed","payload":{"is_paused":true}}`, kind: "pause_changed"},
		{name: "garbage", data: `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := route([]byte(tt.data))
			if env.kind != tt.kind {
				t.Errorf("kind = %q, want %q", env.kind, tt.kind)
			}
			if strings.Join(env.records, ",") != strings.Join(tt.records, ",") {
				t.Errorf("records = %v, want %v", env.records, tt.records)
			}
		})
	}
}

func TestClientFilters(t *testing.T) {
	c := &client{kinds: map[domain.EventKind]bool{}, records: map[string]bool{}}
	resolved := envelope{kind: domain.EventPoolResolved, records: []string{strings.ToLower(poolHex)}}
	created := envelope{kind: domain.EventPoolCreated, records: []string{strings.ToLower(betHex)}}

	if !c.wants(resolved) || !c.wants(created) {
		t.Fatal("empty filter should match everything")
	}

	c.apply(filterMsg{Action: "subscribe", Kinds: []domain.EventKind{domain.EventPoolResolved}})
	if !c.wants(resolved) || c.wants(created) {
		t.Fatal("kind filter not applied")
	}

	c.apply(filterMsg{Action: "subscribe", Records: []string{betHex}})
	if c.wants(resolved) {
		t.Fatal("record filter not applied")
	}

	c.apply(filterMsg{Action: "unsubscribe", Records: []string{betHex}})
	if !c.wants(resolved) {
		t.Fatal("unsubscribe did not remove record filter")
	}

	c.apply(filterMsg{Action: "reset"})
	if !c.wants(created) {
		t.Fatal("reset should clear filters")
	}
}

func TestHubRelaysEvents(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 4)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(bus, logger, Config{Channels: []string{"ledger.events"}, Mode: "server"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var hello struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatal(err)
	}
	if hello.Type != "hello" || hello.Payload["mode"] != "server" {
		t.Fatalf("hello = %+v", hello)
	}

	event := `{"kind":"pool_created","payload":{"pool":"` + poolHex + `","pool_name":"btc"}}`
	bus.ch <- []byte(event)

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil || got["kind"] != "pool_created" {
		t.Fatalf("relayed = %s (%v)", data, err)
	}
}
