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

import "fmt"

// Check verifies the allocator invariants and returns an error wrapping
// ErrCorrupted describing the first violation found:
//
//   - blocks partition [0, maxSize) and each is aligned to its size
//   - no two buddies are both free
//   - every free block is in exactly one free list, the one of its size
//   - every allocated block is registered under its id and sized for its request
func (a *Allocator) Check() error {
	var (
		visited   int
		freeCount int
		allocated int
	)
	addr := 0
	for addr < a.maxSize {
		idx, ok := a.byAddr[addr]
		if !ok {
			return corrupted("no block starts at %d", addr)
		}
		if idx < 0 || idx >= len(a.records) {
			return corrupted("block at %d has bad record index %d", addr, idx)
		}
		r := a.records[idx]
		if !r.live {
			return corrupted("block at %d refers to a retired record", addr)
		}
		if r.addr != addr {
			return corrupted("record %d has address %d, registered at %d", idx, r.addr, addr)
		}
		if r.order < 0 || r.order > a.maxOrder {
			return corrupted("block at %d has order %d out of range", addr, r.order)
		}
		size := a.sizeOf(r.order)
		if addr&(size-1) != 0 {
			return corrupted("block at %d is not aligned to its size %d", addr, size)
		}

		switch r.state {
		case stateFree:
			freeCount++
			if r.order < a.maxOrder {
				if bi, ok := a.byAddr[addr^size]; ok {
					b := a.records[bi]
					if b.order == r.order && b.state == stateFree {
						return corrupted("buddies at %d and %d of size %d are both free", addr, addr^size, size)
					}
				}
			}
		case stateAllocated:
			allocated++
			if li, ok := a.live[r.id]; !ok || li != idx {
				return corrupted("allocated block at %d (id %d) is not registered", addr, r.id)
			}
			if r.requested <= 0 || a.orderFor(r.requested) != r.order {
				return corrupted("allocated block at %d has size %d for a request of %d", addr, size, r.requested)
			}
		default:
			return corrupted("block at %d has unknown state %d", addr, r.state)
		}
		visited++
		addr += size
	}
	if addr != a.maxSize {
		return corrupted("blocks end at %d, want %d", addr, a.maxSize)
	}
	if visited != len(a.byAddr) {
		return corrupted("%d blocks cover the range but %d are registered", visited, len(a.byAddr))
	}
	if allocated != len(a.live) {
		return corrupted("%d allocated blocks but %d live ids", allocated, len(a.live))
	}

	listed := 0
	for order := range a.lists {
		l := a.lists[order]
		n, prev := 0, nilIndex
		for idx := l.head; idx != nilIndex; idx = a.records[idx].next {
			r := a.records[idx]
			if !r.live || r.state != stateFree {
				return corrupted("free list %d holds a non-free record %d", a.sizeOf(order), idx)
			}
			if r.order != order {
				return corrupted("block at %d of size %d is in free list %d", r.addr, a.sizeOf(r.order), a.sizeOf(order))
			}
			if r.prev != prev {
				return corrupted("free list %d is broken at %d", a.sizeOf(order), r.addr)
			}
			if a.byAddr[r.addr] != idx {
				return corrupted("listed block at %d is not registered", r.addr)
			}
			prev = idx
			n++
			if n > visited {
				return corrupted("free list %d loops", a.sizeOf(order))
			}
		}
		if l.tail != prev {
			return corrupted("free list %d has a stale tail", a.sizeOf(order))
		}
		if n != l.len {
			return corrupted("free list %d has %d entries, length says %d", a.sizeOf(order), n, l.len)
		}
		listed += n
	}
	if listed != freeCount {
		return corrupted("%d free blocks but %d listed", freeCount, listed)
	}
	return nil
}

func corrupted(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCorrupted, fmt.Sprintf(format, args...))
}
