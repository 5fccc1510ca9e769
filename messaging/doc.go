// Package messaging defines the contract every voicebus engine implements and
// the building blocks the engines share.
//
// Services depend only on the Bus interface:
//   - Publish: fire an event (broadcast) or a command (priority queue, retried)
//   - Subscribe: attach a Handler to a topic or wildcard pattern
//   - Request: send a query and wait for its QueryResult
//
// Shared pieces used by the engines:
//   - SubscriptionTable: pattern to handler resolution with a per-topic cache
//   - Dispatch: concurrent invocation of all matching handlers
//   - PendingReplies: correlation-id keyed one-shot reply futures
//   - Recorder: Stats counters plus an optional MetricsCollector
//
// Example usage:
//
//	bus.Subscribe(ctx, topics.DBGetCronJobs, messaging.QueryHandler(bus,
//		func(ctx context.Context, env *contracts.Envelope) (any, error) {
//			return store.CronJobs(ctx)
//		}))
//
//	result, err := bus.Request(ctx, topics.DBGetCronJobs, GetCronJobs{},
//		messaging.WithTimeout(2*time.Second))
package messaging
