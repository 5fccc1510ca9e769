package amqp

import (
	"strconv"
	"strings"
	"time"

	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/topics"
)

const (
	commandQueuePrefix = "voicebus.cmd."
	contentType        = "application/json"

	headerAttempts    = "x-attempts"
	headerMaxAttempts = "x-max-attempts"
	headerOrigin      = "x-origin"
	headerReason      = "x-dead-letter-reason"
	headerError       = "x-dead-letter-error"
)

// BindingKey translates a bus pattern into an AMQP topic binding key
func BindingKey(p *topics.Pattern) string {
	segments := p.Segments()
	out := make([]string, len(segments))
	for i, seg := range segments {
		if seg == topics.MultiWildcard {
			out[i] = "#"
		} else {
			out[i] = seg
		}
	}
	return strings.Join(out, ".")
}

// CommandQueueName returns the durable queue of a subscribed pattern
func CommandQueueName(pattern string) string {
	return commandQueuePrefix + pattern
}

// Priority maps bus priority 0 (highest) to 99 onto AMQP priority 9 to 0
func Priority(p int) uint8 {
	p = contracts.ClampPriority(p)
	return uint8(9 - p/10)
}

func newPublishing(env *contracts.Envelope, body []byte, persistent bool) amqp091.Publishing {
	msg := amqp091.Publishing{
		ContentType:   contentType,
		MessageId:     env.ID,
		CorrelationId: env.CorrelationID,
		Timestamp:     env.Timestamp,
		Type:          env.Type,
		Priority:      Priority(env.Priority),
		Body:          body,
		Headers: amqp091.Table{
			headerAttempts:    int32(env.Attempts),
			headerMaxAttempts: int32(env.MaxAttempts),
			headerOrigin:      string(env.Origin),
		},
	}
	if persistent {
		msg.DeliveryMode = amqp091.Persistent
	}
	if !env.Deadline.IsZero() {
		ttl := time.Until(env.Deadline)
		if ttl < time.Millisecond {
			ttl = time.Millisecond
		}
		msg.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}
	return msg
}

// attemptsFrom prefers the x-attempts header, which republishing updates
func attemptsFrom(headers amqp091.Table, fallback int) int {
	switch v := headers[headerAttempts].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
