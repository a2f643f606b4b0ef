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

// Package workload drives an allocator with a random mix of allocations and frees.
package workload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/gopkg/lang/fastrand"

	"github.com/cloudwego/buddy/malloc/buddy"
)

// Allocator is the allocator under test. Use *buddy.Locked when Workers > 1.
type Allocator interface {
	Allocate(size int) (buddy.Handle, error)
	Deallocate(h buddy.Handle) error
	Stats() buddy.Stats
	Check() error
	MaxSize() int
}

// Config ...
type Config struct {
	// Ops is the total number of operations over all workers.
	Ops int
	// Workers is the number of goroutines issuing operations.
	Workers int
	// AllocRatio is the probability that an operation allocates rather than frees.
	AllocRatio float64
	// MaxRequest bounds request sizes; sizes are uniform in [1, MaxRequest].
	// Zero means the allocator's max size.
	MaxRequest int

	Logger *slog.Logger
}

// DefaultConfig returns the default values of Config.
func DefaultConfig() Config {
	return Config{
		Ops:        100000,
		Workers:    4,
		AllocRatio: 0.7,
	}
}

// Result summarizes a run.
type Result struct {
	Ops    int64
	Allocs int64
	Frees  int64
	// OOM counts allocations rejected with buddy.ErrOutOfMemory.
	OOM int64
	// PeakUsed is the largest number of allocated bytes seen during the run.
	PeakUsed int64
	Duration time.Duration
	// Final is taken after every remaining allocation has been freed.
	Final buddy.Stats
}

// ErrLeak is returned when memory is still in use after the run released everything.
var ErrLeak = errors.New("workload: memory still in use after release")

type runner struct {
	a      Allocator
	cfg    Config
	logger *slog.Logger

	ops    atomic.Int64
	allocs atomic.Int64
	frees  atomic.Int64
	oom    atomic.Int64
	used   atomic.Int64
	peak   atomic.Int64

	errOnce sync.Once
	err     error
}

// Run executes cfg.Ops operations against a, frees whatever is still
// allocated and verifies the allocator is back to an empty, consistent state.
// Cancelling ctx stops the run early; cleanup and verification still happen.
func Run(ctx context.Context, a Allocator, cfg Config) (Result, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRequest <= 0 || cfg.MaxRequest > a.MaxSize() {
		cfg.MaxRequest = a.MaxSize()
	}
	if cfg.AllocRatio < 0 || cfg.AllocRatio > 1 {
		return Result{}, fmt.Errorf("workload: alloc ratio must be within [0, 1], got %v", cfg.AllocRatio)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &runner{a: a, cfg: cfg, logger: logger}

	p := newPool("workload", cfg.Workers, logger)
	p.SetPanicHandler(func(ctx context.Context, v interface{}) {
		r.fail(fmt.Errorf("workload: worker panic: %v", v))
	})

	start := time.Now()
	for w := 0; w < cfg.Workers; w++ {
		n := cfg.Ops / cfg.Workers
		if w < cfg.Ops%cfg.Workers {
			n++
		}
		if !p.CtxGo(ctx, func() { r.work(ctx, n) }) {
			break
		}
	}
	p.Close()

	res := Result{
		Ops:      r.ops.Load(),
		Allocs:   r.allocs.Load(),
		Frees:    r.frees.Load(),
		OOM:      r.oom.Load(),
		PeakUsed: r.peak.Load(),
		Duration: time.Since(start),
		Final:    a.Stats(),
	}
	logger.Info("workload finished",
		"ops", res.Ops, "allocs", res.Allocs, "frees", res.Frees,
		"oom", res.OOM, "peak_used", res.PeakUsed, "duration", res.Duration)

	if r.err != nil {
		return res, r.err
	}
	if err := a.Check(); err != nil {
		return res, err
	}
	if res.Final.UsedBytes != 0 {
		return res, fmt.Errorf("%w: %d bytes", ErrLeak, res.Final.UsedBytes)
	}
	return res, ctx.Err()
}

func (r *runner) fail(err error) {
	r.errOnce.Do(func() {
		r.err = err
		r.logger.Error("workload failed", "error", err)
	})
}

// work runs n operations and then frees everything it still holds.
func (r *runner) work(ctx context.Context, n int) {
	var live []buddy.Handle
	defer func() {
		for _, h := range live {
			r.free(h)
		}
	}()

	threshold := int(r.cfg.AllocRatio * 1000)
	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return
		}
		r.ops.Add(1)
		if len(live) == 0 || fastrand.Intn(1000) < threshold {
			h, err := r.a.Allocate(1 + fastrand.Intn(r.cfg.MaxRequest))
			switch {
			case err == nil:
				live = append(live, h)
				r.allocs.Add(1)
				r.updatePeak(r.used.Add(int64(h.Size)))
			case errors.Is(err, buddy.ErrOutOfMemory):
				r.oom.Add(1)
			default:
				r.fail(err)
				return
			}
			continue
		}
		j := fastrand.Intn(len(live))
		h := live[j]
		live[j] = live[len(live)-1]
		live = live[:len(live)-1]
		if !r.free(h) {
			return
		}
	}
}

// free keeps r.used at or below the real usage: it is decremented before the
// block can be reused and incremented only after an allocation succeeded.
func (r *runner) free(h buddy.Handle) bool {
	r.used.Add(-int64(h.Size))
	if err := r.a.Deallocate(h); err != nil {
		r.used.Add(int64(h.Size))
		r.fail(err)
		return false
	}
	r.frees.Add(1)
	return true
}

func (r *runner) updatePeak(used int64) {
	for {
		peak := r.peak.Load()
		if used <= peak || r.peak.CompareAndSwap(peak, used) {
			return
		}
	}
}
