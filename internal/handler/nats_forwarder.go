// internal/handler/nats_forwarder.go
package handler

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// MessagePublisher is the publishing side of a NATS connection
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

// NATSForwarder republishes session events on NATS subjects of the form
// <prefix>.<device>.<event type>
type NATSForwarder struct {
	publisher MessagePublisher
	prefix    string
	logger    *zap.Logger
}

// NewNATSForwarder creates a forwarder publishing under prefix
func NewNATSForwarder(publisher MessagePublisher, prefix string, logger *zap.Logger) *NATSForwarder {
	return &NATSForwarder{
		publisher: publisher,
		prefix:    strings.TrimSuffix(prefix, "."),
		logger:    logger,
	}
}

// Forward subscribes to session events on bus and publishes them until the
// bus stops. Call before bus.Start.
func (f *NATSForwarder) Forward(bus *EventBus) {
	for _, eventType := range []string{EventSessionOpened, EventSessionClosed, EventSessionFailed} {
		events := bus.Subscribe(eventType)
		go func() {
			for event := range events {
				f.publish(event)
			}
		}()
	}
}

func (f *NATSForwarder) publish(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}

	subject := f.Subject(event)
	if err := f.publisher.Publish(subject, data); err != nil {
		f.logger.Warn("Failed to publish event to NATS",
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Subject returns the NATS subject for event
func (f *NATSForwarder) Subject(event Event) string {
	return f.prefix + "." + subjectToken(event.Source) + "." + event.Type
}

// subjectToken makes a device name usable as one subject token. Port names
// such as tcp://10.0.0.5:4000 contain dots, which NATS treats as separators.
func subjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>':
			return '_'
		case r <= ' ' || r == 0x7f:
			return '_'
		}
		return r
	}, name)
}
