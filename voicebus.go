// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package voicebus builds the message bus shared by the voice assistant
// services. New picks an engine from the configuration; services receive
// the resulting messaging.Bus and only ever call Publish, Subscribe and
// Request on it.
package voicebus

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/voicebus/config"
	"github.com/glimte/voicebus/health"
	"github.com/glimte/voicebus/messaging"
	"github.com/glimte/voicebus/topics"
	"github.com/glimte/voicebus/transports/amqp"
	"github.com/glimte/voicebus/transports/jobqueue"
	"github.com/glimte/voicebus/transports/local"
)

// Option configures New
type Option func(*options)

type options struct {
	logger    *slog.Logger
	collector messaging.MetricsCollector
}

// WithLogger sets the logger for the engine and its registry
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetricsCollector forwards delivery events to collector
func WithMetricsCollector(collector messaging.MetricsCollector) Option {
	return func(o *options) {
		o.collector = collector
	}
}

// New creates the engine selected by cfg.Mode. A nil registry is replaced by
// one preloaded with the platform topic catalog. The bus is not started.
func New(cfg config.Config, registry *topics.Registry, opts ...Option) (messaging.Bus, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if registry == nil {
		registry = topics.NewDefaultRegistry(topics.WithLogger(o.logger))
	}

	switch cfg.Mode {
	case config.ModeLocal, "":
		localOpts := []local.Option{
			local.WithLogger(o.logger),
			local.WithValidation(cfg.ValidateTopics),
			local.WithCommandQueueSize(cfg.CommandQueueSize),
			local.WithEventQueueSize(cfg.EventQueueSize),
			local.WithShutdownGrace(cfg.ShutdownGrace),
		}
		if o.collector != nil {
			localOpts = append(localOpts, local.WithMetricsCollector(o.collector))
		}
		return local.New(registry, localOpts...), nil

	case config.ModeDistributed:
		jqOpts := []jobqueue.Option{
			jobqueue.WithLogger(o.logger),
			jobqueue.WithValidation(cfg.ValidateTopics),
			jobqueue.WithConcurrency(cfg.WorkerConcurrency),
			jobqueue.WithShutdownGrace(cfg.ShutdownGrace),
		}
		if o.collector != nil {
			jqOpts = append(jqOpts, jobqueue.WithMetricsCollector(o.collector))
		}
		redisCfg := jobqueue.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
		return jobqueue.New(redisCfg, registry, jqOpts...), nil

	case config.ModeAMQP:
		amqpOpts := []amqp.Option{
			amqp.WithLogger(o.logger),
			amqp.WithValidation(cfg.ValidateTopics),
			amqp.WithPrefetch(cfg.WorkerConcurrency),
			amqp.WithShutdownGrace(cfg.ShutdownGrace),
		}
		if o.collector != nil {
			amqpOpts = append(amqpOpts, amqp.WithMetricsCollector(o.collector))
		}
		b, err := amqp.New(cfg.AMQPURL, registry, amqpOpts...)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown bus mode %q", cfg.Mode)
}

// Backlog returns a function reporting the command queue depths of bus, or
// nil when the engine does not expose them.
func Backlog(bus messaging.Bus) func(ctx context.Context) (map[string]int, error) {
	switch b := bus.(type) {
	case *local.Broker:
		return func(context.Context) (map[string]int, error) {
			return b.QueueDepths(), nil
		}
	case *jobqueue.Broker:
		return b.QueueDepths
	case *amqp.Broker:
		return b.QueueDepths
	}
	return nil
}

// HealthCheckers returns the checks that apply to bus: delivery counters,
// command backlog, and the backend connection of distributed engines.
func HealthCheckers(bus messaging.Bus) []health.Checker {
	checkers := []health.Checker{health.NewBusChecker(bus)}

	switch b := bus.(type) {
	case *jobqueue.Broker:
		checkers = append(checkers, health.NewRedisChecker(b.Redis()))
	case *amqp.Broker:
		checkers = append(checkers, health.NewRabbitMQChecker(b.ConnectionManager()))
	}
	if depths := Backlog(bus); depths != nil {
		checkers = append(checkers, health.NewBacklogChecker("backlog", 0, depths))
	}
	return checkers
}
