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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cloudwego/buddy/internal/logger"
	"github.com/cloudwego/buddy/malloc/buddy"
)

// options holds the global flags.
type options struct {
	maxSize int
	minSize int
	unit    string
	verbose bool
	quiet   bool
	jsonOut bool
}

func newRootCmd() *cobra.Command {
	o := &options{}
	cmd := &cobra.Command{
		Use:   "buddyctl",
		Short: "Drive and inspect a buddy system allocator",
		Long: `buddyctl runs a power-of-two buddy allocator over an abstract address
range and prints its free lists, blocks and usage statistics. It can replay the
classic walkthrough, allocate given sizes, or run a random stress workload.`,
		Version:       "0.1.0",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := cmd.PersistentFlags()
	f.IntVar(&o.maxSize, "max", buddy.DefaultMaxBlockSize, "Size of the managed range, a power of two")
	f.IntVar(&o.minSize, "min", buddy.DefaultMinBlockSize, "Smallest block size, a power of two")
	f.StringVar(&o.unit, "unit", "KB", "Unit label printed after sizes")
	f.BoolVarP(&o.verbose, "verbose", "v", false, "Log every split, allocation, free and merge")
	f.BoolVarP(&o.quiet, "quiet", "q", false, "Suppress all log output")
	f.BoolVar(&o.jsonOut, "json", false, "Output in JSON format")

	cmd.AddCommand(newDemoCmd(o), newAllocCmd(o), newStressCmd(o))
	return cmd
}

func (o *options) logger(cmd *cobra.Command) *slog.Logger {
	return logger.New(cmd.ErrOrStderr(), logger.Options{Verbose: o.verbose, Quiet: o.quiet})
}

func (o *options) newAllocator(cmd *cobra.Command) (*buddy.Allocator, error) {
	return buddy.NewWithOption(o.maxSize, o.minSize, &buddy.Option{Logger: o.logger(cmd)})
}

func (o *options) size(n int) string {
	if o.unit == "" {
		return strconv.Itoa(n)
	}
	return strconv.Itoa(n) + " " + o.unit
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func printAllocation(w io.Writer, o *options, h buddy.Handle) {
	fmt.Fprintf(w, "\n--- Allocation Request ---\n")
	fmt.Fprintf(w, "Requested size : %s\n", o.size(h.Requested))
	fmt.Fprintf(w, "Rounded to     : %s\n", o.size(h.Size))
	fmt.Fprintf(w, "Allocated block #%d at address %d (%s)\n", h.ID, h.Address, o.size(h.Size))
	fmt.Fprintf(w, "Internal fragmentation : %s\n", o.size(h.Fragmentation()))
}

func printDeallocation(w io.Writer, h buddy.Handle) {
	fmt.Fprintf(w, "\n--- Deallocation ---\n")
	fmt.Fprintf(w, "Freeing block #%d at address %d\n", h.ID, h.Address)
}
