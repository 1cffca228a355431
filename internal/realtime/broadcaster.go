package realtime

import (
	"context"

	"go.uber.org/zap"
)

// Transport pushes an event toward live subscribers. Implementations are
// selected at process start: the in-process Dispatcher in a real deployment,
// NoopTransport where no delivery path exists.
type Transport interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
}

// NoopTransport discards every event. It stands in for the delivery path in
// tests and in deployments without a realtime surface.
type NoopTransport struct{}

// Publish drops the event.
func (NoopTransport) Publish(context.Context, string, string, interface{}) error {
	return nil
}

// Outcome reports what happened to a single publish attempt. The durable
// mutation that triggered the publish has already succeeded by the time an
// Outcome exists; Err records a delivery failure that was swallowed.
type Outcome struct {
	Channel   string
	Event     string
	Delivered bool
	Err       error
}

// Publisher is the fanout surface consumed by the domain services.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) Outcome
}

// Broadcaster fans events out over a Transport. Publish fails open: any
// transport error is caught and logged, never returned to the caller as a
// failure of the primary operation.
type Broadcaster struct {
	transport Transport
	logger    *zap.Logger
}

// NewBroadcaster constructs a Broadcaster over the given transport.
func NewBroadcaster(transport Transport, logger *zap.Logger) *Broadcaster {
	if transport == nil {
		transport = NoopTransport{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{transport: transport, logger: logger}
}

// Publish attempts delivery and reports the outcome. It never panics and
// never propagates an error.
func (b *Broadcaster) Publish(ctx context.Context, channel, event string, payload interface{}) Outcome {
	outcome := Outcome{Channel: channel, Event: event}
	if channel == "" || event == "" {
		return outcome
	}
	if err := b.transport.Publish(ctx, channel, event, payload); err != nil {
		outcome.Err = err
		b.logger.Warn("event delivery failed",
			zap.String("channel", channel),
			zap.String("event", event),
			zap.Error(err))
		return outcome
	}
	outcome.Delivered = true
	return outcome
}
