package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glimte/voicebus/config"
)

var (
	// Version information
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globals holds the persistent flags shared by every subcommand
type globals struct {
	mode     string
	amqpURL  string
	redis    string
	logLevel string
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "voicebus",
		Short: "Run and inspect the voice assistant message bus",
		Long: `voicebus hosts the message bus used by the voice assistant services.
Settings come from the environment (and VOICEBUS_CONFIG); flags override them.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(out)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&g.mode, "mode", "m", "", "Bus engine: local, distributed or amqp")
	flags.StringVar(&g.amqpURL, "amqp-url", "", "RabbitMQ connection URL")
	flags.StringVar(&g.redis, "redis", "", "Redis address for the distributed engine")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(
		newServeCmd(g),
		newTopicsCmd(),
		newDeadLettersCmd(g),
	)
	return rootCmd
}

// load reads the configuration, applies flag overrides and builds the logger.
// Configuration problems are logged and the defaults used instead.
func (g *globals) load() (config.Config, *slog.Logger) {
	cfg, problems := config.Load()
	if g.mode != "" {
		cfg.Mode = g.mode
	}
	if g.amqpURL != "" {
		cfg.AMQPURL = g.amqpURL
	}
	if g.redis != "" {
		cfg.RedisAddr = g.redis
	}
	if g.logLevel != "" {
		if _, err := config.ParseLevel(g.logLevel); err != nil {
			problems = append(problems, config.Problem{Field: "--log-level", Message: err.Error()})
		} else {
			cfg.LogLevel = g.logLevel
		}
	}

	logger := cfg.Logger()
	for _, p := range problems {
		logger.Warn("configuration problem", "field", p.Field, "message", p.Message)
	}
	return cfg, logger
}
