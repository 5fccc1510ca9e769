package contracts

import (
	"fmt"
	"strings"
)

// Kind classifies a message by its delivery semantics.
type Kind string

const (
	// KindEvent is broadcast to every subscriber, best-effort and never retried.
	KindEvent Kind = "event"
	// KindCommand is delivered in priority order and retried with backoff.
	KindCommand Kind = "command"
	// KindQuery is a command that expects a QueryResult on its reply topic.
	KindQuery Kind = "query"
	// KindReply marks topics that carry query responses.
	KindReply Kind = "reply"
)

// ParseKind parses a kind name, case-insensitively
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindEvent:
		return KindEvent, nil
	case KindCommand:
		return KindCommand, nil
	case KindQuery:
		return KindQuery, nil
	case KindReply, "response":
		return KindReply, nil
	}
	return "", fmt.Errorf("unknown message kind %q", s)
}

// Kinded is implemented by payloads that declare their kind
type Kinded interface {
	MessageKind() Kind
}

// EventMessage can be embedded in a payload struct to tag it as an event
type EventMessage struct{}

func (EventMessage) MessageKind() Kind { return KindEvent }

// CommandMessage can be embedded in a payload struct to tag it as a command
type CommandMessage struct{}

func (CommandMessage) MessageKind() Kind { return KindCommand }

// QueryMessage can be embedded in a payload struct to tag it as a query
type QueryMessage struct{}

func (QueryMessage) MessageKind() Kind { return KindQuery }

// KindOf reports the kind a payload declares. Untagged payloads are events.
func KindOf(payload any) Kind {
	if k, ok := payload.(Kinded); ok {
		return k.MessageKind()
	}
	return KindEvent
}
