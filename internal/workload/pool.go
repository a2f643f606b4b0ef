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

package workload

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

type task struct {
	ctx context.Context
	f   func()
}

// pool runs tasks on a fixed number of workers and waits for them on close.
// A panicking task is recovered and reported to panicHandler, the other
// workers keep going.
type pool struct {
	name string

	workers int32
	tasks   chan task
	wg      sync.WaitGroup

	logger       *slog.Logger
	panicHandler func(ctx context.Context, r interface{})
}

func newPool(name string, workers int, logger *slog.Logger) *pool {
	if workers <= 0 {
		workers = 1
	}
	p := &pool{
		name:   name,
		tasks:  make(chan task, workers),
		logger: logger,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.runWorker()
	}
	return p
}

// SetPanicHandler sets a func for handling panic cases.
// By default the panic and its stack are logged at error level.
func (p *pool) SetPanicHandler(f func(ctx context.Context, r interface{})) {
	p.panicHandler = f
}

// CtxGo queues f. It gives up and returns false once ctx is done.
func (p *pool) CtxGo(ctx context.Context, f func()) bool {
	select {
	case p.tasks <- task{ctx: ctx, f: f}:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting tasks and waits for the queued ones.
func (p *pool) Close() {
	close(p.tasks)
	p.wg.Wait()
}

func (p *pool) CurrentWorkers() int {
	return int(atomic.LoadInt32(&p.workers))
}

func (p *pool) runWorker() {
	atomic.AddInt32(&p.workers, 1)
	defer func() {
		atomic.AddInt32(&p.workers, -1)
		p.wg.Done()
	}()
	for t := range p.tasks {
		p.runTask(t.ctx, t.f)
	}
}

func (p *pool) runTask(ctx context.Context, f func()) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(ctx, r)
				return
			}
			p.logger.Error("panic in pool", "pool", p.name,
				"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	f()
}
