package jobqueue

import (
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/voicebus/topics"
)

func TestBand(t *testing.T) {
	tests := []struct {
		priority int
		want     string
	}{
		{0, BandCritical},
		{24, BandCritical},
		{25, BandHigh},
		{49, BandHigh},
		{50, BandDefault},
		{74, BandDefault},
		{75, BandLow},
		{99, BandLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Band(tt.priority), "priority %d", tt.priority)
	}
}

func TestQueueNames(t *testing.T) {
	t.Run("queue name joins base and band", func(t *testing.T) {
		assert.Equal(t, "TTS.request:critical", QueueName("TTS.request", 5))
		assert.Equal(t, "TTS.request:default", QueueName("TTS.request", 50))
	})

	t.Run("server queues are strictly ordered", func(t *testing.T) {
		queues := serverQueues("TTS")
		assert.Len(t, queues, 4)
		assert.Greater(t, queues["TTS:critical"], queues["TTS:high"])
		assert.Greater(t, queues["TTS:high"], queues["TTS:default"])
		assert.Greater(t, queues["TTS:default"], queues["TTS:low"])
	})

	t.Run("band queues list highest first", func(t *testing.T) {
		assert.Equal(t, []string{"DB:critical", "DB:high", "DB:default", "DB:low"}, BandQueues("DB"))
	})
}

func TestBaseOf(t *testing.T) {
	assert.Equal(t, "TTS.request", BaseOf(topics.MustCompile("TTS.request")))
	assert.Equal(t, "wc:TTS", BaseOf(topics.MustCompile("TTS.*")))
	assert.Equal(t, "wc:DB.cron", BaseOf(topics.MustCompile("DB.cron.**")))
	assert.Equal(t, AllTopicsBase, BaseOf(topics.MustCompile("*.request")))
}

func TestQueueBases(t *testing.T) {
	t.Run("exact topic only", func(t *testing.T) {
		assert.Equal(t, []string{"TTS.request"}, queueBases("TTS.request", nil))
	})

	t.Run("adds matching wildcard bases once", func(t *testing.T) {
		got := queueBases("TTS.request", []string{"wc:TTS", "wc:DB", AllTopicsBase, "wc:TTS", "wc:TT"})
		assert.Equal(t, []string{"TTS.request", "wc:TTS", AllTopicsBase}, got)
	})

	t.Run("wildcard base receives its own prefix topic", func(t *testing.T) {
		assert.Equal(t, []string{"TTS", "wc:TTS"}, queueBases("TTS", []string{"wc:TTS"}))
	})

	t.Run("exact topic and wildcard base never share queues", func(t *testing.T) {
		exact := BaseOf(topics.MustCompile("TTS"))
		wildcard := BaseOf(topics.MustCompile("TTS.*"))
		assert.NotEqual(t, exact, wildcard)
		assert.NotContains(t, BandQueues(wildcard), QueueName(exact, 10))
	})

	t.Run("bases without the wildcard namespace are ignored", func(t *testing.T) {
		assert.Equal(t, []string{"TTS.request"}, queueBases("TTS.request", []string{"TTS"}))
	})
}

func TestEventChannels(t *testing.T) {
	t.Run("exact subscription", func(t *testing.T) {
		channel, glob := subscribeChannel(topics.MustCompile("STT.transcript"))
		assert.Equal(t, "voicebus:evt:STT.transcript", channel)
		assert.False(t, glob)
	})

	t.Run("single wildcard subscription uses base glob", func(t *testing.T) {
		channel, glob := subscribeChannel(topics.MustCompile("STT.*"))
		assert.Equal(t, "voicebus:evt:STT.*", channel)
		assert.True(t, glob)
	})

	t.Run("multi wildcard subscription includes the base topic", func(t *testing.T) {
		p := topics.MustCompile("STT.**")
		channel, glob := subscribeChannel(p)
		assert.Equal(t, "voicebus:evt:STT*", channel)
		assert.True(t, glob)

		for _, topic := range []string{"STT", "STT.transcript", "STT.partial.final"} {
			require.True(t, p.Match(topic))
			ok, err := path.Match(channel, eventChannel(topic))
			require.NoError(t, err)
			assert.True(t, ok, topic)
		}
	})

	t.Run("multi wildcard after a single wildcard keeps the dot", func(t *testing.T) {
		channel, _ := subscribeChannel(topics.MustCompile("STT.*.**"))
		assert.Equal(t, "voicebus:evt:STT.*", channel)
	})

	t.Run("leading wildcard subscribes to everything", func(t *testing.T) {
		channel, glob := subscribeChannel(topics.MustCompile("*.transcript"))
		assert.Equal(t, "voicebus:evt:*", channel)
		assert.True(t, glob)
	})

	t.Run("topic is recovered from channel", func(t *testing.T) {
		assert.Equal(t, "STT.transcript", topicFromChannel(eventChannel("STT.transcript")))
	})

	t.Run("reply key", func(t *testing.T) {
		assert.Equal(t, "voicebus:reply:abc", replyKey("abc"))
	})
}
