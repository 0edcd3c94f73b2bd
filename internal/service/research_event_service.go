package service

import (
	"context"
	"encoding/json"
	"fmt"

	"ai-research-be/internal/pkg/logger"
	"ai-research-be/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

const eventRelayModule = "ResearchEventRelay"

// EventSink is where lifecycle events end up (the NATS publisher).
type EventSink interface {
	Publish(ctx context.Context, event events.Event) error
}

// ResearchEventPublisher puts session lifecycle events on the in-process bus
// so session goroutines never wait on the broker.
type ResearchEventPublisher struct {
	topicName string
	pubSub    *gochannel.GoChannel
}

func NewResearchEventPublisher(topicName string, pubSub *gochannel.GoChannel) *ResearchEventPublisher {
	return &ResearchEventPublisher{topicName: topicName, pubSub: pubSub}
}

func (p *ResearchEventPublisher) Publish(ctx context.Context, event events.Event) error {
	payload, err := json.Marshal(events.BaseEvent{
		Type:       event.EventType(),
		Data:       event.Payload(),
		OccurredAt: event.Timestamp(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	return p.pubSub.Publish(p.topicName, msg)
}

type IResearchEventRelay interface {
	Consume(ctx context.Context) error
}

type researchEventRelay struct {
	pubSub    *gochannel.GoChannel
	topicName string
	sink      EventSink // nil: events are only logged
	logger    logger.ILogger
}

func NewResearchEventRelay(pubSub *gochannel.GoChannel, topicName string, sink EventSink, log logger.ILogger) IResearchEventRelay {
	return &researchEventRelay{
		pubSub:    pubSub,
		topicName: topicName,
		sink:      sink,
		logger:    log,
	}
}

func (r *researchEventRelay) Consume(ctx context.Context) error {
	messages, err := r.pubSub.Subscribe(ctx, r.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			r.processMessage(ctx, msg)
		}
	}()
	return nil
}

func (r *researchEventRelay) processMessage(ctx context.Context, msg *message.Message) {
	var evt events.BaseEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		r.logger.Error(eventRelayModule, "Dropping malformed event", map[string]interface{}{"error": err.Error()})
		msg.Ack()
		return
	}

	r.logger.Info(eventRelayModule, "Lifecycle event", map[string]interface{}{
		"type":       evt.Type,
		"session_id": evt.Data["session_id"],
		"user_id":    evt.Data["user_id"],
	})

	if r.sink == nil {
		msg.Ack()
		return
	}
	if err := r.sink.Publish(ctx, evt); err != nil {
		// the broker is optional infrastructure; losing a usage event must not
		// stall the bus
		r.logger.Warn(eventRelayModule, "Failed to relay event", map[string]interface{}{
			"type":  evt.Type,
			"error": err.Error(),
		})
	}
	msg.Ack()
}
