package topics

import (
	"fmt"
	"strings"

	"github.com/glimte/voicebus/internal/ids"
)

const (
	// SingleWildcard matches exactly one segment.
	SingleWildcard = "*"
	// MultiWildcard matches zero or more segments.
	MultiWildcard = "**"

	// ReplyPrefix starts every ephemeral reply topic. Reply topics are owned
	// by the bus and bypass registry validation.
	ReplyPrefix = "reply."
)

// Pattern is a compiled topic or wildcard pattern.
type Pattern struct {
	raw      string
	segments []string
	wildcard bool
}

// Compile parses a topic pattern.
func Compile(pattern string) (*Pattern, error) {
	if pattern == "" {
		return nil, fmt.Errorf("empty topic pattern")
	}

	segments := strings.Split(pattern, ".")
	wildcard := false
	literal := false
	for i, seg := range segments {
		switch {
		case seg == "":
			return nil, fmt.Errorf("topic pattern %q has an empty segment at position %d", pattern, i)
		case seg == SingleWildcard || seg == MultiWildcard:
			wildcard = true
		case strings.Contains(seg, "*"):
			return nil, fmt.Errorf("topic pattern %q: wildcard must occupy a whole segment, got %q", pattern, seg)
		default:
			literal = true
		}
	}
	if !literal {
		return nil, fmt.Errorf("topic pattern %q needs at least one literal segment", pattern)
	}

	return &Pattern{raw: pattern, segments: segments, wildcard: wildcard}, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(pattern string) *Pattern {
	p, err := Compile(pattern)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the source pattern
func (p *Pattern) String() string {
	return p.raw
}

// IsWildcard reports whether the pattern contains a wildcard segment
func (p *Pattern) IsWildcard() bool {
	return p.wildcard
}

// Segments returns a copy of the pattern segments
func (p *Pattern) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Match reports whether topic satisfies the pattern.
func (p *Pattern) Match(topic string) bool {
	if !p.wildcard {
		return topic == p.raw
	}
	if topic == "" {
		return false
	}
	return matchSegments(p.segments, strings.Split(topic, "."))
}

func matchSegments(pattern, topic []string) bool {
	for len(pattern) > 0 {
		switch pattern[0] {
		case MultiWildcard:
			rest := pattern[1:]
			for len(rest) > 0 && rest[0] == MultiWildcard {
				rest = rest[1:]
			}
			if len(rest) == 0 {
				return true
			}
			for i := 0; i <= len(topic); i++ {
				if matchSegments(rest, topic[i:]) {
					return true
				}
			}
			return false
		case SingleWildcard:
			if len(topic) == 0 {
				return false
			}
		default:
			if len(topic) == 0 || topic[0] != pattern[0] {
				return false
			}
		}
		pattern = pattern[1:]
		topic = topic[1:]
	}
	return len(topic) == 0
}

// BasePrefix returns the literal segments before the first wildcard, joined
// by dots. It is empty when the pattern starts with a wildcard. For literal
// topics it is the topic itself.
func (p *Pattern) BasePrefix() string {
	if !p.wildcard {
		return p.raw
	}
	var base []string
	for _, seg := range p.segments {
		if seg == SingleWildcard || seg == MultiWildcard {
			break
		}
		base = append(base, seg)
	}
	return strings.Join(base, ".")
}

// HasWildcard reports whether s contains wildcard characters
func HasWildcard(s string) bool {
	return strings.Contains(s, "*")
}

// IsReplyTopic reports whether topic is an ephemeral reply topic
func IsReplyTopic(topic string) bool {
	return strings.HasPrefix(topic, ReplyPrefix)
}

// NewReplyTopic returns a unique reply topic for a request on topic
func NewReplyTopic(topic string) string {
	return ReplyPrefix + topic + "." + ids.NewCorrelationID()
}
