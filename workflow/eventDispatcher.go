package workflow

import (
	"context"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
)

// EventDispatcher drains the invoice event outbox into Pub/Sub. Delivery is
// at-least-once: a crash between publish and MarkInvoiceEventPublished
// republishes the row, consumers deduplicate on event id.
type EventDispatcher struct {
	Logger       *logrus.Logger
	BatchSize    int
	PollInterval time.Duration
}

func NewEventDispatcher(logger *logrus.Logger) *EventDispatcher {
	return &EventDispatcher{
		Logger:       logger,
		BatchSize:    50,
		PollInterval: 5 * time.Second,
	}
}

func (d *EventDispatcher) Run(ctx context.Context) {
	d.ensureTopic(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.dispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// ensureTopic creates the outbox topic when it doesn't exist yet, so a fresh
// environment doesn't drop events until someone provisions Pub/Sub by hand.
func (d *EventDispatcher) ensureTopic(ctx context.Context) {
	topicName := os.Getenv("PUBSUB_INVOICE_EVENTS_TOPIC")
	if topicName == "" {
		return
	}
	client, err := config.GetPubSubClient(ctx)
	if err != nil {
		config.LogError(d.Logger, "eventDispatcher.go", "ensureTopic", "Getting pubsub client", topicName, err)
		return
	}
	if _, err := config.CreateTopicIfNotExists(client, topicName); err != nil {
		config.LogError(d.Logger, "eventDispatcher.go", "ensureTopic", "Ensuring pubsub topic", topicName, err)
	}
}

func (d *EventDispatcher) dispatchOnce(ctx context.Context) {
	locker := config.GetRedisLock()
	if locker == nil {
		return
	}
	// One dispatcher at a time across instances.
	lock, err := locker.Obtain(ctx, "dispatch:invoice-events", 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		return
	} else if err != nil {
		config.LogError(d.Logger, "eventDispatcher.go", "dispatchOnce", "Obtaining dispatch lock", nil, err)
		return
	}
	defer func() {
		_ = lock.Release(ctx)
	}()

	events, err := models.GetUnpublishedInvoiceEvents(ctx, d.BatchSize)
	if err != nil {
		config.LogError(d.Logger, "eventDispatcher.go", "dispatchOnce", "Querying outbox", nil, err)
		return
	}

	for _, event := range events {
		msg := config.InvoiceEventMessage{
			ID:            event.ID,
			BusinessId:    event.BusinessId,
			InvoiceId:     event.InvoiceId,
			OldStatus:     string(event.OldStatus),
			NewStatus:     string(event.NewStatus),
			OccurredAt:    event.OccurredAt,
			CorrelationId: event.CorrelationId,
		}
		if _, err := config.PublishInvoiceEvent(ctx, msg); err != nil {
			config.LogError(d.Logger, "eventDispatcher.go", "dispatchOnce", "Publishing invoice event", event.ID, err)
			// Keep outbox order: stop the batch and retry from here next poll.
			return
		}
		if err := models.MarkInvoiceEventPublished(ctx, event.ID); err != nil {
			config.LogError(d.Logger, "eventDispatcher.go", "dispatchOnce", "Marking event published", event.ID, err)
			return
		}
	}
}
