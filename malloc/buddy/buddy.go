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

import (
	"fmt"
	"log/slog"
	"math/bits"
)

const (
	// DefaultMinBlockSize is the minimum block size of the classic demo layout.
	DefaultMinBlockSize = 1

	// DefaultMaxBlockSize is the size of the managed range of the classic demo layout.
	DefaultMaxBlockSize = 1024
)

// Handle identifies one live allocation.
type Handle struct {
	// Address is the offset of the block from the start of the range.
	Address int
	// Size is the size class of the block.
	Size int
	// ID is unique among live allocations of the issuing allocator.
	ID uint64
	// Requested is the size passed to Allocate.
	Requested int

	owner *Allocator
}

// Fragmentation returns the internal fragmentation of the allocation in bytes.
func (h Handle) Fragmentation() int {
	return h.Size - h.Requested
}

// Allocator is a buddy system allocator over [0, maxSize).
type Allocator struct {
	minSize  int
	minShift int
	maxSize  int
	maxOrder int

	// records is the block arena, spare holds retired indices.
	records []record
	spare   []int

	// lists[o] holds the free blocks of size minSize<<o.
	lists []freeList

	// byAddr maps the start address of every block to its record.
	// Blocks partition the range, so start addresses are unique.
	byAddr map[int]int

	// live maps allocation ids to records.
	live   map[uint64]int
	nextID uint64

	logger *slog.Logger
}

// New creates an allocator managing maxSize bytes in blocks of at least minSize bytes.
// Both sizes must be powers of two and minSize <= maxSize.
func New(maxSize, minSize int) (*Allocator, error) {
	return NewWithOption(maxSize, minSize, nil)
}

// NewWithOption is like New with custom options. A nil o means DefaultOption().
func NewWithOption(maxSize, minSize int, o *Option) (*Allocator, error) {
	if minSize <= 0 || minSize&(minSize-1) != 0 {
		return nil, fmt.Errorf("%w: minSize must be a power of two, got %d", ErrInvalidConfiguration, minSize)
	}
	if maxSize <= 0 || maxSize&(maxSize-1) != 0 {
		return nil, fmt.Errorf("%w: maxSize must be a power of two, got %d", ErrInvalidConfiguration, maxSize)
	}
	if minSize > maxSize {
		return nil, fmt.Errorf("%w: minSize (%d) must be <= maxSize (%d)", ErrInvalidConfiguration, minSize, maxSize)
	}
	if o == nil {
		o = DefaultOption()
	}
	logger := o.Logger
	if logger == nil {
		logger = discardLogger()
	}

	minShift := bits.TrailingZeros(uint(minSize))
	maxOrder := bits.TrailingZeros(uint(maxSize)) - minShift

	a := &Allocator{
		minSize:  minSize,
		minShift: minShift,
		maxSize:  maxSize,
		maxOrder: maxOrder,
		nextID:   1,
		logger:   logger,
	}
	a.init()
	a.logger.Debug("buddy allocator initialized", "max", maxSize, "min", minSize)
	return a, nil
}

func (a *Allocator) init() {
	a.records = a.records[:0]
	a.spare = a.spare[:0]
	a.lists = make([]freeList, a.maxOrder+1)
	for i := range a.lists {
		a.lists[i] = newFreeList()
	}
	a.byAddr = make(map[int]int)
	a.live = make(map[uint64]int)

	root := a.newRecord(0, a.maxOrder)
	a.pushFront(a.maxOrder, root)
}

// MaxSize returns the size of the managed range.
func (a *Allocator) MaxSize() int { return a.maxSize }

// MinSize returns the smallest size class.
func (a *Allocator) MinSize() int { return a.minSize }

// ClassSize returns the size class serving a request of size bytes:
// the smallest power of two >= max(size, minSize).
// It returns 0 if size is not positive or exceeds the max block size.
func (a *Allocator) ClassSize(size int) int {
	if size <= 0 || size > a.maxSize {
		return 0
	}
	return a.sizeOf(a.orderFor(size))
}

// Allocate reserves a block that fits size bytes.
//
// The block comes from the head of the free list of its class. When that list
// is empty, the smallest larger free block is split repeatedly until a block
// of the class exists. A failed call leaves the allocator untouched.
func (a *Allocator) Allocate(size int) (Handle, error) {
	if size <= 0 {
		return Handle{}, fmt.Errorf("%w: got %d", ErrInvalidSize, size)
	}
	if size > a.maxSize {
		return Handle{}, fmt.Errorf("%w: %d > %d", ErrOversizedRequest, size, a.maxSize)
	}
	order := a.orderFor(size)

	from := a.findOrder(order)
	if from < 0 {
		a.logger.Debug("buddy allocation failed", "requested", size, "class", a.sizeOf(order))
		return Handle{}, fmt.Errorf("%w: no free block of %d bytes or larger", ErrOutOfMemory, a.sizeOf(order))
	}
	for ; from > order; from-- {
		a.split(a.popFront(from))
	}

	idx := a.popFront(order)
	r := &a.records[idx]
	r.state = stateAllocated
	r.id = a.nextID
	r.requested = size
	a.nextID++
	a.live[r.id] = idx

	h := a.handleOf(idx)
	a.logger.Debug("buddy allocate",
		"id", h.ID, "address", h.Address, "size", h.Size,
		"requested", size, "fragmentation", h.Fragmentation())
	return h, nil
}

// findOrder returns the smallest order >= order with a free block, or -1.
func (a *Allocator) findOrder(order int) int {
	for o := order; o <= a.maxOrder; o++ {
		if a.lists[o].len > 0 {
			return o
		}
	}
	return -1
}

// split replaces the unlinked free block idx by its two halves, which are
// inserted at the head of the lower order list in address order.
func (a *Allocator) split(idx int) {
	addr, order := a.records[idx].addr, a.records[idx].order
	a.retire(idx)

	half := order - 1
	halfSize := a.sizeOf(half)
	left := a.newRecord(addr, half)
	right := a.newRecord(addr+halfSize, half)
	a.pushFront(half, right)
	a.pushFront(half, left)

	a.logger.Debug("buddy split", "address", addr, "size", a.sizeOf(order), "half", halfSize)
}

// Deallocate returns the block of h to the allocator and merges it with its
// free buddies. It fails with ErrInvalidHandle on a double free or a handle
// from another allocator, in which case nothing changes.
func (a *Allocator) Deallocate(h Handle) error {
	if h.owner != a {
		return fmt.Errorf("%w: handle %d was not issued by this allocator", ErrInvalidHandle, h.ID)
	}
	idx, ok := a.live[h.ID]
	if !ok {
		return fmt.Errorf("%w: allocation %d is not live", ErrInvalidHandle, h.ID)
	}
	r := &a.records[idx]
	if r.addr != h.Address || a.sizeOf(r.order) != h.Size {
		return fmt.Errorf("%w: allocation %d is at %d/%d, handle says %d/%d",
			ErrInvalidHandle, h.ID, r.addr, a.sizeOf(r.order), h.Address, h.Size)
	}

	delete(a.live, h.ID)
	r.state = stateFree
	r.id = 0
	r.requested = 0
	a.pushFront(r.order, idx)
	a.logger.Debug("buddy free", "id", h.ID, "address", h.Address, "size", h.Size)

	a.coalesce(idx)
	return nil
}

// coalesce merges the free block idx with its buddy while the buddy is a free
// block of the same size. Each merge climbs one order, so the loop runs at
// most maxOrder times.
func (a *Allocator) coalesce(idx int) {
	for {
		r := a.records[idx]
		if r.order >= a.maxOrder {
			return
		}
		size := a.sizeOf(r.order)
		buddyAddr := r.addr ^ size
		bi, ok := a.byAddr[buddyAddr]
		if !ok {
			return
		}
		b := a.records[bi]
		if b.order != r.order || b.state != stateFree {
			return
		}

		a.remove(r.order, idx)
		a.remove(r.order, bi)
		a.retire(idx)
		a.retire(bi)

		addr := min(r.addr, buddyAddr)
		delete(a.byAddr, max(r.addr, buddyAddr))
		merged := a.newRecord(addr, r.order+1)
		a.pushFront(r.order+1, merged)

		a.logger.Debug("buddy merge", "address", addr, "size", size<<1)
		idx = merged
	}
}

// Lookup returns the handle of the live allocation id.
func (a *Allocator) Lookup(id uint64) (Handle, bool) {
	idx, ok := a.live[id]
	if !ok {
		return Handle{}, false
	}
	return a.handleOf(idx), true
}

// Reset frees every allocation at once and returns to a single free block.
// Handles issued before Reset become invalid.
func (a *Allocator) Reset() {
	a.init()
	a.logger.Debug("buddy allocator reset")
}

func (a *Allocator) handleOf(idx int) Handle {
	r := &a.records[idx]
	return Handle{
		Address:   r.addr,
		Size:      a.sizeOf(r.order),
		ID:        r.id,
		Requested: r.requested,
		owner:     a,
	}
}

func (a *Allocator) sizeOf(order int) int {
	return a.minSize << order
}

// orderFor returns the smallest order whose block fits size.
func (a *Allocator) orderFor(size int) int {
	if size <= a.minSize {
		return 0
	}
	return bits.Len(uint(size-1)) - a.minShift
}

// orderOf returns the order of a block size, or -1 if size is not a size class.
func (a *Allocator) orderOf(size int) int {
	if size < a.minSize || size > a.maxSize || size&(size-1) != 0 {
		return -1
	}
	return bits.TrailingZeros(uint(size)) - a.minShift
}
