package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dcafleet/internal/models"
)

// Feed subscribes to the public <symbol>@trade stream. Each subscription
// owns its own connection so bots never share websocket state.
type Feed struct {
	wsURL        string
	log          *logrus.Entry
	reconnectMin time.Duration
	reconnectMax time.Duration
}

func NewFeed(wsURL string, log *logrus.Entry) *Feed {
	return &Feed{
		wsURL:        wsURL,
		log:          log,
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

type tradeEvent struct {
	Event     string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	TradeTime int64  `json:"T"`
	ErrMsg    string `json:"m"`
}

func (f *Feed) Subscribe(ctx context.Context, pair string) (<-chan models.Tick, error) {
	streamURL := fmt.Sprintf("%s/%s@trade", f.wsURL, strings.ToLower(pair))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial trade stream: %w", err)
	}
	conn.SetReadLimit(1 << 20)

	ticks := make(chan models.Tick, 100)
	go f.readLoop(ctx, conn, streamURL, pair, ticks)
	return ticks, nil
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn, streamURL, pair string, ticks chan<- models.Tick) {
	defer close(ticks)

	entry := f.log.WithField("pair", pair)
	for {
		readErr, stop := f.consume(ctx, conn, pair, ticks, entry)
		if stop {
			return
		}

		entry.WithError(readErr).Warn("trade stream read failed, reconnecting")
		next, ok := f.reconnect(ctx, streamURL, entry)
		if !ok {
			f.deliver(ctx, ticks, models.Tick{Pair: pair, Err: fmt.Errorf("trade stream lost: %w", readErr)})
			return
		}
		conn = next
	}
}

// consume reads one connection until it fails or the subscription ends.
// The cancel watcher is tied to exactly this connection through the done
// channel, so a reconnect never leaves a watcher holding a stale handle.
func (f *Feed) consume(ctx context.Context, conn *websocket.Conn, pair string, ticks chan<- models.Tick, entry *logrus.Entry) (readErr error, stop bool) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, true
			}
			return err, false
		}

		var event tradeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			entry.WithError(err).Warn("malformed trade stream message")
			f.deliver(ctx, ticks, models.Tick{Pair: pair, Err: fmt.Errorf("malformed tick: %w", err)})
			return nil, true
		}

		if event.Event == "error" {
			f.deliver(ctx, ticks, models.Tick{Pair: pair, Err: fmt.Errorf("trade stream error: %s", event.ErrMsg)})
			return nil, true
		}
		if event.Event != "trade" || event.Price == "" {
			continue
		}

		price := parseFloatOrZero(event.Price)
		if price <= 0 {
			f.deliver(ctx, ticks, models.Tick{Pair: pair, Err: fmt.Errorf("non-positive tick price %q", event.Price)})
			return nil, true
		}

		if !f.deliver(ctx, ticks, models.Tick{
			Pair:      pair,
			Price:     price,
			Timestamp: time.UnixMilli(event.TradeTime),
		}) {
			return nil, true
		}
	}
}

func (f *Feed) deliver(ctx context.Context, ticks chan<- models.Tick, tick models.Tick) bool {
	select {
	case <-ctx.Done():
		return false
	case ticks <- tick:
		return true
	}
}

func (f *Feed) reconnect(ctx context.Context, streamURL string, entry *logrus.Entry) (*websocket.Conn, bool) {
	backoff := f.reconnectMin
	for {
		select {
		case <-ctx.Done():
			return nil, false
		case <-time.After(backoff):
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
		if err == nil {
			conn.SetReadLimit(1 << 20)
			entry.Info("trade stream reconnected")
			return conn, true
		}

		entry.WithError(err).Warn("trade stream reconnect failed")
		backoff *= 2
		if backoff > f.reconnectMax {
			backoff = f.reconnectMax
		}
	}
}
