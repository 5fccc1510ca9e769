package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/glimte/voicebus/config"
	"github.com/glimte/voicebus/internal/rabbitmq"
	"github.com/glimte/voicebus/topics"
	"github.com/glimte/voicebus/transports/amqp"
	"github.com/glimte/voicebus/transports/jobqueue"
)

func newDeadLettersCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dead-letters",
		Aliases: []string{"dlq"},
		Short:   "Inspect and re-queue commands that exhausted their attempts",
		Long: `Dead letters of the distributed engine are archived asynq tasks and can be
listed and re-queued. The amqp engine keeps them in the voicebus.dead-letter
queue, which can be counted and requeued. The local engine keeps dead letters
in process memory only.`,
	}

	var (
		limit  int
		asJSON bool
	)
	listCmd := &cobra.Command{
		Use:   "list [topic-or-pattern]",
		Short: "List dead letters of a command topic",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := g.load()
			out := cmd.OutOrStdout()

			switch cfg.Mode {
			case config.ModeDistributed:
				if len(args) != 1 {
					return fmt.Errorf("a command topic is required in %s mode", cfg.Mode)
				}
				base, err := queueBase(args[0])
				if err != nil {
					return err
				}
				b := newJobQueue(cfg, logger)
				defer b.Stop(context.Background())

				letters, err := b.DeadLetters(cmd.Context(), base, limit)
				if err != nil {
					return err
				}
				return printDeadLetters(out, letters, asJSON)

			case config.ModeAMQP:
				depth, err := amqpDeadLetterDepth(cmd.Context(), cfg, logger)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %d messages\n", rabbitmq.DeadLetterQueue, depth)
				return nil
			}
			return errLocalDeadLetters
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum number of dead letters to list")
	listCmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	retryCmd := &cobra.Command{
		Use:   "retry <topic-or-pattern> <message-id>",
		Short: "Move a dead letter back to its command queue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := g.load()
			if cfg.Mode != config.ModeDistributed {
				return fmt.Errorf("retry is only supported in %s mode", config.ModeDistributed)
			}
			base, err := queueBase(args[0])
			if err != nil {
				return err
			}
			b := newJobQueue(cfg, logger)
			defer b.Stop(context.Background())

			if err := b.RetryDeadLetter(cmd.Context(), base, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Re-queued %s on %s\n", args[1], args[0])
			return nil
		},
	}

	var requeueCount int
	requeueCmd := &cobra.Command{
		Use:   "requeue",
		Short: "Move commands from the amqp dead-letter queue back to their queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger := g.load()
			if cfg.Mode != config.ModeAMQP {
				return fmt.Errorf("requeue is only supported in %s mode", config.ModeAMQP)
			}
			b, err := amqp.New(cfg.AMQPURL, topics.NewDefaultRegistry(), amqp.WithLogger(logger))
			if err != nil {
				return err
			}
			if err := b.Start(cmd.Context()); err != nil {
				return err
			}
			defer b.Stop(context.Background())

			moved, err := b.RequeueDeadLetters(cmd.Context(), requeueCount)
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d messages from %s\n", moved, rabbitmq.DeadLetterQueue)
			return err
		},
	}
	requeueCmd.Flags().IntVarP(&requeueCount, "count", "n", 0, "Messages to requeue, 0 for all")

	cmd.AddCommand(listCmd, retryCmd, requeueCmd)
	return cmd
}

var errLocalDeadLetters = fmt.Errorf("the %s engine keeps dead letters in process memory; use distributed or amqp mode", config.ModeLocal)

// queueBase maps a subscribed topic or pattern to its asynq queue base
func queueBase(pattern string) (string, error) {
	p, err := topics.Compile(pattern)
	if err != nil {
		return "", err
	}
	return jobqueue.BaseOf(p), nil
}

func newJobQueue(cfg config.Config, logger *slog.Logger) *jobqueue.Broker {
	redisCfg := jobqueue.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	return jobqueue.New(redisCfg, topics.NewDefaultRegistry(), jobqueue.WithLogger(logger))
}

func amqpDeadLetterDepth(ctx context.Context, cfg config.Config, logger *slog.Logger) (int, error) {
	b, err := amqp.New(cfg.AMQPURL, topics.NewDefaultRegistry(), amqp.WithLogger(logger))
	if err != nil {
		return 0, err
	}
	if err := b.Start(ctx); err != nil {
		return 0, err
	}
	defer b.Stop(context.Background())

	depths, err := b.QueueDepths(ctx)
	if err != nil {
		return 0, err
	}
	return depths[rabbitmq.DeadLetterQueue], nil
}
