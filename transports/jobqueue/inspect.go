package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/glimte/voicebus/contracts"
	"github.com/glimte/voicebus/internal/reliability"
)

// DeadLetters lists archived commands of base, highest band first
func (b *Broker) DeadLetters(ctx context.Context, base string, limit int) ([]reliability.DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	var letters []reliability.DeadLetter
	for _, queue := range BandQueues(base) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tasks, err := b.inspector.ListArchivedTasks(queue, asynq.PageSize(limit-len(letters)))
		if errors.Is(err, asynq.ErrQueueNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list dead letters of %s: %w", queue, err)
		}
		for _, info := range tasks {
			letters = append(letters, deadLetterFromTask(info))
		}
		if len(letters) >= limit {
			break
		}
	}
	return letters, nil
}

func deadLetterFromTask(info *asynq.TaskInfo) reliability.DeadLetter {
	env, err := contracts.UnmarshalEnvelope(info.Payload)
	if err != nil {
		env = &contracts.Envelope{ID: info.ID, Type: info.Type}
	}
	env.Attempts = info.Retried + 1
	env.MaxAttempts = info.MaxRetry + 1

	reason := reliability.ReasonMaxAttempts
	if strings.Contains(info.LastErr, asynq.SkipRetry.Error()) {
		reason = reliability.ReasonPermanent
	}
	return reliability.DeadLetter{
		Envelope: env,
		Reason:   reason,
		Error:    info.LastErr,
		FailedAt: info.LastFailedAt,
	}
}

// RetryDeadLetter moves an archived command of base back to pending
func (b *Broker) RetryDeadLetter(ctx context.Context, base, messageID string) error {
	for _, queue := range BandQueues(base) {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := b.inspector.RunTask(queue, messageID)
		if err == nil {
			b.logger.Info("dead letter re-queued", "queue", queue, "messageId", messageID)
			return nil
		}
		if !errors.Is(err, asynq.ErrQueueNotFound) && !errors.Is(err, asynq.ErrTaskNotFound) {
			return fmt.Errorf("failed to re-queue %s on %s: %w", messageID, queue, err)
		}
	}
	return reliability.ErrDeadLetterNotFound
}

// QueueDepths returns the size of every asynq queue
func (b *Broker) QueueDepths(ctx context.Context) (map[string]int, error) {
	queues, err := b.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}

	depths := make(map[string]int, len(queues))
	for _, queue := range queues {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := b.inspector.GetQueueInfo(queue)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect queue %s: %w", queue, err)
		}
		depths[queue] = info.Size
	}
	return depths, nil
}

// JobState returns the state of the command task messageID on queue
func (b *Broker) JobState(ctx context.Context, queue, messageID string) (JobState, error) {
	if err := ctx.Err(); err != nil {
		return JobUnknown, err
	}
	info, err := b.inspector.GetTaskInfo(queue, messageID)
	if err != nil {
		return JobUnknown, fmt.Errorf("failed to inspect task %s: %w", messageID, err)
	}
	return JobStateOf(info.State), nil
}
