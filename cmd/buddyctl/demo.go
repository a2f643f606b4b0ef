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

	"github.com/cloudwego/buddy/malloc/buddy"
	"github.com/cloudwego/buddy/malloc/report"
)

var (
	demoRequests = []int{100, 240, 64, 256}
	// demoFreeOrder releases the first and third block before their neighbours.
	demoFreeOrder = []int{0, 2, 1, 3}
)

func newDemoCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Replay the classic four request walkthrough",
		Long: `The demo command allocates 100, 240, 64 and 256 units, printing the free
lists after each request, then shows all blocks and statistics. It frees the
blocks again in the order 1, 3, 2, 4 and prints the coalesced result.

Example:
  buddyctl demo
  buddyctl demo --verbose
  buddyctl demo --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd, o)
		},
	}
}

type demoResult struct {
	Allocated report.Summary `json:"allocated"`
	Released  report.Summary `json:"released"`
}

func runDemo(cmd *cobra.Command, o *options) error {
	a, err := o.newAllocator(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	r := report.New(out, o.unit)

	if !o.jsonOut {
		fmt.Fprintf(out, "BUDDY SYSTEM MEMORY ALLOCATOR\n=============================\n")
		fmt.Fprintf(out, "Initialized with %s\n", o.size(a.MaxSize()))
	}

	handles := make([]buddy.Handle, 0, len(demoRequests))
	for _, n := range demoRequests {
		h, err := a.Allocate(n)
		if err != nil {
			return fmt.Errorf("allocate %d: %w", n, err)
		}
		handles = append(handles, h)
		if o.jsonOut {
			continue
		}
		printAllocation(out, o, h)
		if err := r.FreeLists(a); err != nil {
			return err
		}
	}

	var res demoResult
	if o.jsonOut {
		res.Allocated = report.Summarize(a)
	} else {
		if err := r.Blocks(a); err != nil {
			return err
		}
		if err := r.Stats(a.Stats()); err != nil {
			return err
		}
		fmt.Fprintf(out, "\n--- DEALLOCATION & COALESCING ---\n")
	}

	for _, i := range demoFreeOrder {
		h := handles[i]
		if !o.jsonOut {
			printDeallocation(out, h)
		}
		if err := a.Deallocate(h); err != nil {
			return fmt.Errorf("free block #%d: %w", h.ID, err)
		}
	}
	if err := a.Check(); err != nil {
		return err
	}

	if o.jsonOut {
		res.Released = report.Summarize(a)
		return printJSON(out, res)
	}
	return r.All(a)
}
