package realtime

import (
	"context"
	"sync"
	"time"
)

// Event is a single fanned-out state change on a named channel.
type Event struct {
	Channel   string      `json:"channel"`
	Name      string      `json:"event"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Dispatcher is an in-process pub/sub hub keyed by channel name. Sends are
// non-blocking: a subscriber whose buffer is full drops the event and
// reconciles by re-fetching, so publishers never stall on a slow client.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs a Dispatcher with a default per-subscriber buffer.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener on the named channel. The returned cleanup
// is idempotent and also runs when ctx is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, channel string) (<-chan Event, func()) {
	if channel == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(channel, sub)
	cleanup := func() {
		d.unregister(channel, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every current subscriber of its channel.
// It implements Transport and never fails.
func (d *Dispatcher) Publish(_ context.Context, channel, name string, payload interface{}) error {
	if channel == "" || name == "" {
		return nil
	}
	event := Event{
		Channel:   channel,
		Name:      name,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	d.mu.RLock()
	subs := d.subscribers[channel]
	if len(subs) == 0 {
		d.mu.RUnlock()
		return nil
	}
	copies := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		copies = append(copies, sub)
	}
	d.mu.RUnlock()
	for _, sub := range copies {
		select {
		case sub.stream <- event:
		default:
		}
	}
	return nil
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(channel string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[channel]; !ok {
		d.subscribers[channel] = make(map[int64]*subscriber)
	}
	d.subscribers[channel][sub.id] = sub
}

func (d *Dispatcher) unregister(channel string, subscriberID int64) {
	d.mu.Lock()
	subs := d.subscribers[channel]
	if subs != nil {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(d.subscribers, channel)
		}
	}
	d.mu.Unlock()
}
