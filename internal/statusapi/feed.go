package statusapi

import (
	"sync"
	"time"

	"broadcast-hub/internal/broadcast"
)

// Event is one message delivered to a subscriber session.
type Event struct {
	Channel string    `json:"channel"`
	Topic   string    `json:"topic"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Feed fans delivered messages out to stream clients. Slow clients miss
// events instead of stalling the session that produced them.
type Feed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
	buffer int
}

func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 32
	}
	return &Feed{subs: make(map[int]chan Event), buffer: buffer}
}

func (f *Feed) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (f *Feed) Subscribe() (<-chan Event, func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	ch := make(chan Event, f.buffer)
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Sink returns a session sink that publishes into the feed under channel.
func (f *Feed) Sink(channel string) broadcast.Sink {
	return broadcast.SinkFunc(func(topic, text string) {
		f.Publish(Event{Channel: channel, Topic: topic, Text: text})
	})
}

// Tee delivers to every sink in order.
func Tee(sinks ...broadcast.Sink) broadcast.Sink {
	return broadcast.SinkFunc(func(topic, text string) {
		for _, s := range sinks {
			s.Deliver(topic, text)
		}
	})
}
