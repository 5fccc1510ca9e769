package jobqueue

import (
	"strings"

	"github.com/glimte/voicebus/topics"
)

const (
	// TaskCommand is the asynq task type carrying a command envelope
	TaskCommand = "bus.command"

	// AllTopicsBase is the queue base of patterns starting with a wildcard
	AllTopicsBase = "_all_topics_"

	// WildcardBasePrefix namespaces the queue bases of wildcard patterns so
	// they never share asynq queues with an exact topic of the same name
	WildcardBasePrefix = "wc:"

	keyPrefix          = "voicebus:"
	wildcardBasesKey   = keyPrefix + "wildcard-bases"
	eventChannelPrefix = keyPrefix + "evt:"
	replyKeyPrefix     = keyPrefix + "reply:"
)

// Priority bands, highest first
const (
	BandCritical = "critical"
	BandHigh     = "high"
	BandDefault  = "default"
	BandLow      = "low"
)

var bands = []string{BandCritical, BandHigh, BandDefault, BandLow}

// Band returns the priority band of a bus priority
func Band(priority int) string {
	switch {
	case priority < 25:
		return BandCritical
	case priority < 50:
		return BandHigh
	case priority < 75:
		return BandDefault
	default:
		return BandLow
	}
}

// QueueName returns the asynq queue for base and priority
func QueueName(base string, priority int) string {
	return base + ":" + Band(priority)
}

// BandQueues returns every queue of base, highest band first
func BandQueues(base string) []string {
	out := make([]string, len(bands))
	for i, band := range bands {
		out[i] = base + ":" + band
	}
	return out
}

// serverQueues returns the asynq queue weights of base. The server runs
// with strict priority, so weights only fix the order.
func serverQueues(base string) map[string]int {
	queues := make(map[string]int, len(bands))
	for i, q := range BandQueues(base) {
		queues[q] = len(bands) - i
	}
	return queues
}

// BaseOf returns the queue base consumed by a compiled pattern: the topic
// for exact patterns, "wc:<prefix>" for wildcard ones.
func BaseOf(p *topics.Pattern) string {
	if !p.IsWildcard() {
		return p.String()
	}
	base := p.BasePrefix()
	if base == "" {
		return AllTopicsBase
	}
	return WildcardBasePrefix + base
}

// queueBases returns every base whose queue must receive a command on
// topic: the topic itself and each wildcard base whose prefix covers it.
func queueBases(topic string, wildcardBases []string) []string {
	out := []string{topic}
	seen := map[string]bool{topic: true}
	for _, base := range wildcardBases {
		if seen[base] {
			continue
		}
		if base == AllTopicsBase || coversTopic(base, topic) {
			out = append(out, base)
			seen[base] = true
		}
	}
	return out
}

// coversTopic reports whether topic sits at or below a wildcard base. The
// prefix itself is included since "**" matches zero segments.
func coversTopic(base, topic string) bool {
	prefix, ok := strings.CutPrefix(base, WildcardBasePrefix)
	if !ok {
		return false
	}
	return topic == prefix || strings.HasPrefix(topic, prefix+".")
}

func eventChannel(topic string) string {
	return eventChannelPrefix + topic
}

// subscribeChannel returns the Redis channel to subscribe for pattern and
// whether it is a PSUBSCRIBE glob.
func subscribeChannel(p *topics.Pattern) (string, bool) {
	if !p.IsWildcard() {
		return eventChannel(p.String()), false
	}
	base := p.BasePrefix()
	if base == "" {
		return eventChannelPrefix + "*", true
	}
	if p.Segments()[strings.Count(base, ".")+1] == topics.MultiWildcard {
		// "**" also matches the prefix itself; Match drops any other
		// channel the wider glob lets through
		return eventChannelPrefix + escapeGlob(base) + "*", true
	}
	return eventChannelPrefix + escapeGlob(base) + ".*", true
}

func topicFromChannel(channel string) string {
	return strings.TrimPrefix(channel, eventChannelPrefix)
}

func replyKey(correlationID string) string {
	return replyKeyPrefix + correlationID
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}
