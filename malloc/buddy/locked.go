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

package buddy

import "sync"

// Locked guards an Allocator with a single mutex held for the whole of each call.
// Splitting and merging leave the free lists and the address registry briefly
// out of step, so finer grained locking is not possible.
type Locked struct {
	mu sync.Mutex
	a  *Allocator
}

// NewLocked wraps a. The caller must not use a directly afterwards.
func NewLocked(a *Allocator) *Locked {
	return &Locked{a: a}
}

func (l *Locked) Allocate(size int) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Allocate(size)
}

func (l *Locked) Deallocate(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Deallocate(h)
}

func (l *Locked) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Stats()
}

// Walk holds the lock while fn runs, so fn must not call back into l.
func (l *Locked) Walk(fn func(Block) bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.a.Walk(fn)
}

func (l *Locked) Blocks() []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Blocks()
}

func (l *Locked) FreeList(size int) []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.FreeList(size)
}

func (l *Locked) Check() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.a.Check()
}

func (l *Locked) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.a.Reset()
}

func (l *Locked) MaxSize() int { return l.a.MaxSize() }

func (l *Locked) MinSize() int { return l.a.MinSize() }
