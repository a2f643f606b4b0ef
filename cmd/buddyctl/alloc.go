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
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cloudwego/buddy/malloc/buddy"
	"github.com/cloudwego/buddy/malloc/report"
)

func newAllocCmd(o *options) *cobra.Command {
	var release bool
	cmd := &cobra.Command{
		Use:   "alloc <size>...",
		Short: "Allocate the given sizes and print the resulting layout",
		Long: `The alloc command allocates each size in turn from a fresh allocator and
prints the free lists, blocks and statistics. Failed requests are reported and
skipped; the command exits non-zero if any request failed.

Example:
  buddyctl alloc 100 240 64 256
  buddyctl alloc --max 65536 --min 64 3000 70 70
  buddyctl alloc --release 100 200`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAlloc(cmd, o, args, release)
		},
	}
	cmd.Flags().BoolVar(&release, "release", false, "Free the blocks again in reverse order before reporting")
	return cmd
}

func runAlloc(cmd *cobra.Command, o *options, args []string, release bool) error {
	sizes := make([]int, 0, len(args))
	for _, arg := range args {
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("invalid size %q: %w", arg, err)
		}
		sizes = append(sizes, n)
	}

	a, err := o.newAllocator(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	var (
		handles []buddy.Handle
		failed  int
	)
	for _, n := range sizes {
		h, err := a.Allocate(n)
		if err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "allocate %d: %v\n", n, err)
			continue
		}
		handles = append(handles, h)
		if !o.jsonOut {
			printAllocation(out, o, h)
		}
	}

	if release {
		for i := len(handles) - 1; i >= 0; i-- {
			if !o.jsonOut {
				printDeallocation(out, handles[i])
			}
			if err := a.Deallocate(handles[i]); err != nil {
				return err
			}
		}
	}

	if o.jsonOut {
		err = report.WriteJSON(out, a)
	} else {
		err = report.New(out, o.unit).All(a)
	}
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d allocations failed", failed, len(sizes))
	}
	return nil
}
