package jobqueue

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/messaging"
	"github.com/glimte/voicebus/topics"
)

// eventSubscription is one handler listening on Pub/Sub
type eventSubscription struct {
	pattern *topics.Pattern
	handler messaging.Handler
	pubsub  *redis.PubSub
}

// startEvents must be called with b.mu held
func (b *Broker) startEvents(sub *eventSubscription) {
	if sub.pubsub != nil {
		return
	}
	channel, glob := subscribeChannel(sub.pattern)
	if glob {
		sub.pubsub = b.rdb.PSubscribe(context.Background(), channel)
	} else {
		sub.pubsub = b.rdb.Subscribe(context.Background(), channel)
	}

	b.eventsWG.Add(1)
	go func() {
		defer b.eventsWG.Done()
		for msg := range sub.pubsub.Channel() {
			topic := topicFromChannel(msg.Channel)
			if !sub.pattern.Match(topic) {
				continue
			}
			env, err := contracts.UnmarshalEnvelope([]byte(msg.Payload))
			if err != nil {
				b.logger.Error("discarding malformed event", "channel", msg.Channel, "error", err)
				continue
			}
			b.deliverEvent(sub.handler, env)
		}
	}()
}

func (b *Broker) deliverEvent(handler messaging.Handler, env *contracts.Envelope) {
	if env.Expired(time.Now()) {
		b.recorder.Dropped(env.Type, messaging.DropExpired)
		return
	}

	ctx, span := messaging.StartSpan(context.Background(), system, "deliver", env)
	started := time.Now()
	result := messaging.Dispatch(ctx, []messaging.Handler{handler}, env)
	b.recorder.Delivered(env.Type, started, result)
	messaging.EndSpan(span, result.Err)

	if result.Err != nil {
		b.logger.Error("event handler failed", "topic", env.Type, "messageId", env.ID, "error", result.Err)
	}
}
