package binance

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dcafleet/internal/models"
)

func testStreamLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func recvTick(t *testing.T, ticks <-chan models.Tick) models.Tick {
	t.Helper()
	select {
	case tick, ok := <-ticks:
		if !ok {
			t.Fatal("tick channel closed early")
		}
		return tick
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick")
	}
	return models.Tick{}
}

func TestSubscribeSurvivesReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		switch atomic.AddInt64(&conns, 1) {
		case 1:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"trade","s":"BTCUSDT","p":"100.5","T":1700000000000}`))
			_ = conn.Close()
		default:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"trade","s":"BTCUSDT","p":"101.5","T":1700000001000}`))
			// Hold the connection open until the client drops it.
			_, _, _ = conn.ReadMessage()
			_ = conn.Close()
		}
	}))
	defer srv.Close()

	feed := NewFeed("ws"+strings.TrimPrefix(srv.URL, "http"), testStreamLog())
	feed.reconnectMin = 10 * time.Millisecond
	feed.reconnectMax = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks, err := feed.Subscribe(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	first := recvTick(t, ticks)
	if first.Err != nil {
		t.Fatalf("first tick errored: %v", first.Err)
	}
	if first.Price != 100.5 {
		t.Fatalf("first tick price = %v, want 100.5", first.Price)
	}

	second := recvTick(t, ticks)
	if second.Err != nil {
		t.Fatalf("tick after reconnect errored: %v", second.Err)
	}
	if second.Price != 101.5 {
		t.Fatalf("tick after reconnect price = %v, want 101.5", second.Price)
	}

	cancel()
	select {
	case _, ok := <-ticks:
		if ok {
			// Drain anything in flight; the channel must still close.
			for range ticks {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick channel did not close after cancel")
	}
}

func TestSubscribeReportsStreamError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"error","m":"invalid stream"}`))
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	}))
	defer srv.Close()

	feed := NewFeed("ws"+strings.TrimPrefix(srv.URL, "http"), testStreamLog())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ticks, err := feed.Subscribe(ctx, "BTCUSDT")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	tick := recvTick(t, ticks)
	if tick.Err == nil {
		t.Fatal("expected an errored tick")
	}
	if !strings.Contains(tick.Err.Error(), "invalid stream") {
		t.Fatalf("tick error = %v, want server message surfaced", tick.Err)
	}

	select {
	case _, ok := <-ticks:
		if ok {
			t.Fatal("expected the channel to close after a stream error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick channel did not close after stream error")
	}
}
