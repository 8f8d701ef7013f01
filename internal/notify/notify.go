// Package notify carries bot events to external collaborators. Delivery
// (email, UI push) is outside the engine; this bus stops at the channel
// boundary.
package notify

import (
	"sync"

	"dcafleet/internal/logger"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type Event struct {
	BotID    string   `json:"bot_id"`
	BotName  string   `json:"bot_name"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

type Notifier interface {
	Notify(event Event)
}

// Bus fans events out to subscribers. Publishing never blocks: a slow
// subscriber drops events rather than stalling a bot's task.
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
	log  *logger.Logger
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{log: log}
}

func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

func (b *Bus) Notify(event Event) {
	b.log.WithFields(map[string]interface{}{
		"component": "notify",
		"bot_id":    event.BotID,
		"severity":  string(event.Severity),
	}).Info(event.Message)

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.log.WithComponent("notify").Warn("subscriber queue full, event dropped")
		}
	}
}
