package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/glimte/voicebus/internal/codec"
	"github.com/glimte/voicebus/internal/reliability"
	"github.com/glimte/voicebus/topics"
)

// Output formatting functions

func printJSON(out io.Writer, v any) error {
	data, err := codec.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printDefinitions(out io.Writer, defs []topics.Definition, asJSON bool) error {
	if asJSON {
		return printJSON(out, defs)
	}
	if len(defs) == 0 {
		fmt.Fprintln(out, "No topics found")
		return nil
	}

	fmt.Fprintf(out, "%-36s %-8s %-24s %-24s %s\n", "Topic", "Kind", "Service", "Payload", "Description")
	fmt.Fprintln(out, strings.Repeat("-", 120))
	for _, d := range defs {
		fmt.Fprintf(out, "%-36s %-8s %-24s %-24s %s\n",
			truncate(d.Topic, 36),
			d.MessageType,
			truncate(d.Service, 24),
			truncate(d.PayloadClass, 24),
			d.Description,
		)
	}
	return nil
}

func printDeadLetters(out io.Writer, letters []reliability.DeadLetter, asJSON bool) error {
	if asJSON {
		return printJSON(out, letters)
	}
	if len(letters) == 0 {
		fmt.Fprintln(out, "No dead letters found")
		return nil
	}

	fmt.Fprintf(out, "%-28s %-32s %-10s %-24s %s\n", "Message ID", "Topic", "Attempts", "Reason", "Failed")
	fmt.Fprintln(out, strings.Repeat("-", 110))
	for _, l := range letters {
		failed := "N/A"
		if !l.FailedAt.IsZero() {
			failed = time.Since(l.FailedAt).Truncate(time.Second).String() + " ago"
		}
		fmt.Fprintf(out, "%-28s %-32s %-10s %-24s %s\n",
			truncate(l.Envelope.ID, 28),
			truncate(l.Envelope.Type, 32),
			fmt.Sprintf("%d/%d", l.Envelope.Attempts, l.Envelope.MaxAttempts),
			l.Reason,
			failed,
		)
		if l.Error != "" {
			fmt.Fprintf(out, "  error: %s\n", truncate(l.Error, 100))
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
