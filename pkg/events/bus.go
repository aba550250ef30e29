package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scalarorg/kakarot-relayer/config"
)

const defaultBufferSize = 256

type Channels []chan *EventEnvelope

// EventBus fans relay lifecycle events out to subscribers, keyed by event type.
// Broadcasting never blocks: an event is dropped for a subscriber whose buffer is full.
type EventBus struct {
	mu         sync.RWMutex
	channels   map[string]Channels
	bufferSize int
	closed     bool
}

func NewEventBus(config *config.EventBusConfig) *EventBus {
	bufferSize := defaultBufferSize
	if config != nil && config.BufferSize > 0 {
		bufferSize = config.BufferSize
	}
	return &EventBus{
		channels:   make(map[string]Channels),
		bufferSize: bufferSize,
	}
}

func (eb *EventBus) filterChannels(eventType string) Channels {
	channels := make(Channels, 0, len(eb.channels[eventType])+len(eb.channels[ALL_EVENTS]))
	channels = append(channels, eb.channels[eventType]...)
	return append(channels, eb.channels[ALL_EVENTS]...)
}

func (eb *EventBus) BroadcastEvent(event *EventEnvelope) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	for _, channel := range eb.filterChannels(event.EventType) {
		select {
		case channel <- event:
		default:
			log.Warn().Str("eventType", event.EventType).
				Str("ethHash", event.EthHash.Hex()).
				Msg("[EventBus] [BroadcastEvent] subscriber buffer full, event dropped")
		}
	}
}

// Subscribe returns a channel receiving events of the given type, or every
// event for ALL_EVENTS. The channel is closed by Close.
func (eb *EventBus) Subscribe(eventType string) <-chan *EventEnvelope {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	receiver := make(chan *EventEnvelope, eb.bufferSize)
	if eb.closed {
		close(receiver)
		return receiver
	}
	eb.channels[eventType] = append(eb.channels[eventType], receiver)
	return receiver
}

func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, channels := range eb.channels {
		for _, channel := range channels {
			close(channel)
		}
	}
	eb.channels = make(map[string]Channels)
}
