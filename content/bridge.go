package content

import (
	"context"

	"github.com/agentuity/go-swr/eventing"
	"github.com/agentuity/go-swr/logger"
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// Subjects mutation events are published on.
const (
	SubjectSaved   = "content.saved"
	SubjectDeleted = "content.deleted"
)

// EventBridge is a Notifier fed by mutation events received over an
// eventing.Client, so that entries on one node are invalidated by mutations
// performed on another.
type EventBridge struct {
	*Broadcaster
	logger logger.Logger
	subs   []eventing.Subscriber
}

// NewEventBridge subscribes to the mutation subjects on client.
func NewEventBridge(ctx context.Context, log logger.Logger, client eventing.Client) (*EventBridge, error) {
	b := &EventBridge{
		Broadcaster: NewBroadcaster(),
		logger:      log.With(map[string]interface{}{"component": "content-bridge"}),
	}
	saved, err := client.Subscribe(ctx, SubjectSaved, b.onSaved)
	if err != nil {
		return nil, err
	}
	b.subs = append(b.subs, saved)
	deleted, err := client.Subscribe(ctx, SubjectDeleted, b.onDeleted)
	if err != nil {
		saved.Close()
		return nil, err
	}
	b.subs = append(b.subs, deleted)
	return b, nil
}

func (b *EventBridge) onSaved(ctx context.Context, msg eventing.Message) {
	var ev SavedEvent
	if err := msgpack.Unmarshal(msg.Data(), &ev); err != nil {
		b.logger.Error("invalid %s event: %s", SubjectSaved, err)
		return
	}
	b.PublishSaved(ctx, ev)
}

func (b *EventBridge) onDeleted(ctx context.Context, msg eventing.Message) {
	var ev DeletedEvent
	if err := msgpack.Unmarshal(msg.Data(), &ev); err != nil {
		b.logger.Error("invalid %s event: %s", SubjectDeleted, err)
		return
	}
	b.PublishDeleted(ctx, ev)
}

// Close stops both subscriptions.
func (b *EventBridge) Close() error {
	var firstErr error
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PublishSaved sends ev to every bridge listening on client.
func PublishSaved(ctx context.Context, client eventing.Client, ev SavedEvent) error {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "content: marshal saved event")
	}
	return client.Publish(ctx, SubjectSaved, data, eventing.WithHeader("item-id", ev.Item.ID))
}

// PublishDeleted sends ev to every bridge listening on client.
func PublishDeleted(ctx context.Context, client eventing.Client, ev DeletedEvent) error {
	data, err := msgpack.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "content: marshal deleted event")
	}
	return client.Publish(ctx, SubjectDeleted, data, eventing.WithHeader("item-id", ev.ID))
}

// Forward publishes every mutation seen by n onto client. The returned
// function stops forwarding.
func Forward(n Notifier, client eventing.Client, log logger.Logger) func() {
	stopSaved := n.OnSaved(func(ctx context.Context, ev SavedEvent) {
		if err := PublishSaved(ctx, client, ev); err != nil {
			log.Warn("failed to forward saved event for %s: %s", ev.Item.ID, err)
		}
	})
	stopDeleted := n.OnDeleted(func(ctx context.Context, ev DeletedEvent) {
		if err := PublishDeleted(ctx, client, ev); err != nil {
			log.Warn("failed to forward deleted event for %s: %s", ev.ID, err)
		}
	})
	return func() {
		stopSaved()
		stopDeleted()
	}
}
