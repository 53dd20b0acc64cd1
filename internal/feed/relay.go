package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"codearena/internal/common/mq"
	"codearena/pkg/utils/logger"
)

// Relay consumes the feed topic and hands each event to the local hub. Every
// replica subscribes with its own consumer group so all observers see all
// events regardless of which replica they are connected to.
type Relay struct {
	consumer mq.Consumer
	topic    string
	group    string
	hub      *Hub
}

func NewRelay(consumer mq.Consumer, topic, group string, hub *Hub) *Relay {
	return &Relay{consumer: consumer, topic: topic, group: group, hub: hub}
}

// Register subscribes the relay. The consumer must be started separately.
func (r *Relay) Register(ctx context.Context) error {
	if r.consumer == nil || r.hub == nil {
		return fmt.Errorf("feed relay requires a consumer and a hub")
	}
	return r.consumer.SubscribeWithOptions(ctx, r.topic, r.handle, &mq.SubscribeOptions{
		ConsumerGroup: r.group,
		MaxRetries:    1,
	})
}

func (r *Relay) handle(ctx context.Context, message *mq.Message) error {
	var ev Event
	if err := json.Unmarshal(message.Body, &ev); err != nil {
		// Malformed events are skipped rather than retried.
		logger.Warn(ctx, "drop malformed feed event", zap.String("message_id", message.ID), zap.Error(err))
		return nil
	}
	if ev.CompetitionID == "" {
		return nil
	}
	r.hub.Broadcast(ctx, ev.CompetitionID, message.Body)
	return nil
}
