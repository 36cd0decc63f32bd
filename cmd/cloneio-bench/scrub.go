package main

import (
	"fmt"
	"time"

	"cloneio/pkg/metrics"
	"cloneio/pkg/objectmap"
	"cloneio/pkg/scrub"

	"github.com/spf13/cobra"
)

func newScrubCmd() *cobra.Command {
	var numObjects, numPending int64
	var staleAfter time.Duration

	cmd := &cobra.Command{
		Use:   "scrub",
		Short: "Run a single object-map scrub pass against a synthetic map",
		Long:  `Marks a batch of objects PENDING, runs two scrub passes spanning the staleness threshold, and reports which objects come up stale`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			registry := metrics.NewRegistry()
			om := objectmap.New(numObjects, registry)

			for i := int64(0); i < numPending && i < numObjects; i++ {
				if _, err := om.Update(i, objectmap.Pending, nil); err != nil {
					return fmt.Errorf("marking object %d pending: %w", i, err)
				}
			}

			s := scrub.New(om, staleAfter, registry, logger, nil)
			first := s.RunOnce(ctx)
			fmt.Printf("first pass: %d stale (an object must be seen pending across two passes to count)\n", len(first))

			time.Sleep(staleAfter)
			second := s.RunOnce(ctx)
			fmt.Printf("second pass: %d stale\n", len(second))
			for _, so := range second {
				fmt.Printf("  object %d stuck in PENDING\n", so.ObjectNo)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&numObjects, "objects", 16, "Number of objects in the synthetic map")
	cmd.Flags().Int64Var(&numPending, "pending", 4, "Number of objects to mark PENDING")
	cmd.Flags().DurationVar(&staleAfter, "stale-after", 10*time.Millisecond, "How long an object must sit PENDING across passes before it is reported stale")
	return cmd
}
