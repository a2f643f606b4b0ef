/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloudwego/buddy/internal/workload"
	"github.com/cloudwego/buddy/malloc/buddy"
	"github.com/cloudwego/buddy/malloc/report"
)

func newStressCmd(o *options) *cobra.Command {
	cfg := workload.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a random allocate/free workload and verify the allocator",
		Long: `The stress command issues a random mix of allocations and frees from
several goroutines against one locked allocator. Afterwards every remaining
block is freed and the allocator must be back to a single free block.

Example:
  buddyctl stress
  buddyctl stress --max 1048576 --min 64 --ops 1000000 --workers 16
  buddyctl stress --ratio 0.9 --max-request 4096 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd, o, cfg)
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.Ops, "ops", cfg.Ops, "Total number of operations")
	f.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of concurrent workers")
	f.Float64Var(&cfg.AllocRatio, "ratio", cfg.AllocRatio, "Probability that an operation allocates")
	f.IntVar(&cfg.MaxRequest, "max-request", 0, "Largest request size, 0 means --max")
	return cmd
}

func runStress(cmd *cobra.Command, o *options, cfg workload.Config) error {
	a, err := o.newAllocator(cmd)
	if err != nil {
		return err
	}
	cfg.Logger = o.logger(cmd)

	res, err := workload.Run(cmd.Context(), buddy.NewLocked(a), cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if o.jsonOut {
		return printJSON(out, res)
	}
	fmt.Fprintf(out, "Operations : %d (%d allocs, %d frees, %d out of memory)\n", res.Ops, res.Allocs, res.Frees, res.OOM)
	fmt.Fprintf(out, "Peak usage : %s (%.2f %%)\n", o.size(int(res.PeakUsed)), float64(res.PeakUsed)/float64(a.MaxSize())*100)
	fmt.Fprintf(out, "Duration   : %v\n", res.Duration)
	return report.New(out, o.unit).Stats(res.Final)
}
