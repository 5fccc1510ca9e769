package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glimte/voicebus/topics"
)

func newTopicsCmd() *cobra.Command {
	var (
		service string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "topics [topic]",
		Short: "List the topics of the platform catalog",
		Long: `List every topic in the platform catalog, optionally limited to one service.
Given a topic name, show its definition or the closest known topics.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry := topics.NewDefaultRegistry()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				def, ok := registry.TopicInfo(args[0])
				if !ok {
					return fmt.Errorf("unknown topic %q, similar: %v", args[0], registry.SimilarTopics(args[0], 5))
				}
				return printDefinitions(out, []topics.Definition{def}, asJSON)
			}

			names := registry.AllTopics()
			if service != "" {
				names = registry.ServiceTopics(service)
				if len(names) == 0 {
					return fmt.Errorf("unknown service %q, known: %v", service, registry.AllServices())
				}
			}
			defs := make([]topics.Definition, 0, len(names))
			for _, name := range names {
				if def, ok := registry.TopicInfo(name); ok {
					defs = append(defs, def)
				}
			}
			return printDefinitions(out, defs, asJSON)
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "Only list topics owned by this service")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
