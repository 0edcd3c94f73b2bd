package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"ai-research-be/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventHandler processes one event. A returned error naks the message so it
// is redelivered.
type EventHandler func(ctx context.Context, event events.Event) error

type Subscriber struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	contexts []jetstream.ConsumeContext
}

func NewSubscriber(url string) (*Subscriber, error) {
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, js: js}, nil
}

// DecodeEvent parses a message body. Bodies without an envelope are treated
// as the bare payload and typed from the subject.
func DecodeEvent(subject string, body []byte) (events.BaseEvent, error) {
	var evt events.BaseEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return events.BaseEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if evt.Type == "" {
		var payload map[string]interface{}
		if err := json.Unmarshal(body, &payload); err != nil {
			return events.BaseEvent{}, fmt.Errorf("unmarshal payload: %w", err)
		}
		evt = events.New(strings.TrimPrefix(subject, subjectPrefix), payload)
	}
	return evt, nil
}

// Subscribe attaches a durable consumer for subject to the EVENTS stream.
func (s *Subscriber) Subscribe(ctx context.Context, subject, durableName string, handler EventHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		evt, err := DecodeEvent(msg.Subject(), msg.Data())
		if err != nil {
			// poison message, redelivery would not help
			msg.Term()
			return
		}
		if err := handler(ctx, evt); err != nil {
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	s.contexts = append(s.contexts, cc)
	return nil
}

func (s *Subscriber) Close() {
	for _, cc := range s.contexts {
		cc.Stop()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
