package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/crawler-edge/internal/events"
)

// Publisher delivers one payload to a topic and returns the message id.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// PublishSink forwards every event to a Publisher, typically Pub/Sub, for
// downstream metering.
type PublishSink struct {
	publisher Publisher
	topic     string
}

// NewPublishSink wraps publisher.
func NewPublishSink(publisher Publisher, topic string) *PublishSink {
	return &PublishSink{publisher: publisher, topic: topic}
}

// Consume publishes each event and joins the failures.
func (s *PublishSink) Consume(ctx context.Context, batch []events.Event) error {
	var errs []error
	for _, evt := range batch {
		if _, err := s.publisher.Publish(ctx, s.topic, evt); err != nil {
			errs = append(errs, fmt.Errorf("publish %s event: %w", evt.RequestID, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes the publisher when it supports closing.
func (s *PublishSink) Close(ctx context.Context) error {
	if c, ok := s.publisher.(interface{ Close(context.Context) error }); ok {
		return c.Close(ctx)
	}
	return nil
}
