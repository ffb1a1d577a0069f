package messaging

import (
	"context"
	"log/slog"
	"sync"

	"adpilot/contexts/ad-automation/automation-engine/ports"
)

const subscriberBuffer = 128

// Kafka is the event bus adapter used by the worker. Current implementation
// is in-process publish/subscribe; the broker list is accepted so runtime
// wiring stays the same once an external broker is attached.
type Kafka struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriber
	wg          sync.WaitGroup
	logger      *slog.Logger
}

type subscriber struct {
	group string
	ch    chan ports.EventEnvelope
}

func NewKafka(_ []string, logger *slog.Logger) (*Kafka, error) {
	return &Kafka{
		subscribers: make(map[string][]subscriber),
		logger:      logger,
	}, nil
}

// Publish fans the event out to every consumer group on topic. A group whose
// buffer is full drops the event.
func (k *Kafka) Publish(ctx context.Context, topic string, event ports.EventEnvelope) error {
	if err := event.Validate(); err != nil {
		return err
	}
	k.mu.RLock()
	subs := append([]subscriber(nil), k.subscribers[topic]...)
	k.mu.RUnlock()

	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub.ch <- event:
		default:
			if k.logger != nil {
				k.logger.Warn("dropping event for slow subscriber",
					"event", "kafka_publish_drop",
					"module", "internal/platform/messaging",
					"layer", "platform",
					"topic", topic,
					"consumer_group", sub.group,
					"event_id", event.EventID,
				)
			}
		}
	}

	if k.logger != nil {
		k.logger.Info("event published",
			"event", "kafka_publish",
			"module", "internal/platform/messaging",
			"layer", "platform",
			"topic", topic,
			"event_id", event.EventID,
			"event_type", event.EventType,
			"partition_key", event.PartitionKey,
		)
	}
	return nil
}

func (k *Kafka) Subscribe(
	ctx context.Context,
	topic string,
	consumerGroup string,
	handler func(context.Context, ports.EventEnvelope) error,
) error {
	sub := subscriber{group: consumerGroup, ch: make(chan ports.EventEnvelope, subscriberBuffer)}

	k.mu.Lock()
	k.subscribers[topic] = append(k.subscribers[topic], sub)
	k.mu.Unlock()

	k.wg.Add(1)
	go func() {
		defer k.wg.Done()
		for {
			select {
			case <-ctx.Done():
				k.removeSubscriber(topic, sub.ch)
				return
			case event := <-sub.ch:
				if err := handler(ctx, event); err != nil && k.logger != nil {
					k.logger.Error("consumer handler failed",
						"event", "kafka_consume_failed",
						"module", "internal/platform/messaging",
						"layer", "platform",
						"topic", topic,
						"consumer_group", consumerGroup,
						"event_id", event.EventID,
						"event_type", event.EventType,
						"error", err.Error(),
					)
				}
			}
		}
	}()
	return nil
}

// Wait blocks until every consumer loop has exited after its context ended.
func (k *Kafka) Wait() { k.wg.Wait() }

func (k *Kafka) removeSubscriber(topic string, target chan ports.EventEnvelope) {
	k.mu.Lock()
	defer k.mu.Unlock()

	items := k.subscribers[topic]
	if len(items) == 0 {
		return
	}
	filtered := make([]subscriber, 0, len(items))
	for _, item := range items {
		if item.ch != target {
			filtered = append(filtered, item)
		}
	}
	k.subscribers[topic] = filtered
}

var (
	_ ports.EventPublisher  = (*Kafka)(nil)
	_ ports.EventSubscriber = (*Kafka)(nil)
)
