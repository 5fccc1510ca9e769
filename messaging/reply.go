package messaging

import (
	"context"
	"errors"
	"fmt"

	"github.com/glimte/voicebus/contracts"
)

// ErrNoReplyTo is returned when replying to an envelope without a reply topic
var ErrNoReplyTo = errors.New("envelope has no reply topic")

// Reply publishes result to the request's reply topic with its correlation id
func Reply(ctx context.Context, bus Bus, request *contracts.Envelope, result contracts.QueryResult) error {
	if request.ReplyTo == "" {
		return ErrNoReplyTo
	}
	err := bus.Publish(ctx, request.ReplyTo, result,
		AsEvent(),
		WithCorrelationID(request.CorrelationID),
		WithOrigin(request.Origin),
		WithPriority(request.Priority),
	)
	if err != nil {
		return fmt.Errorf("failed to reply to %s: %w", request.Type, err)
	}
	return nil
}

// QueryFunc answers a query
type QueryFunc func(ctx context.Context, env *contracts.Envelope) (any, error)

// QueryHandler adapts fn to a Handler that always replies. Errors from fn
// become failed results; the handler itself only fails when the reply
// cannot be published.
func QueryHandler(bus Bus, fn QueryFunc) Handler {
	return HandlerFunc(func(ctx context.Context, env *contracts.Envelope) error {
		data, err := fn(ctx, env)
		if env.ReplyTo == "" {
			return err
		}

		var result contracts.QueryResult
		switch r := data.(type) {
		case contracts.QueryResult:
			result = r
		default:
			result = contracts.Success(data)
		}
		if err != nil {
			result = contracts.Failure(err.Error())
		}
		return Reply(ctx, bus, env, result)
	})
}
