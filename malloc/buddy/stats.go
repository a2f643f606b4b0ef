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

// Block is a snapshot of one block of the range.
type Block struct {
	Address int
	Size    int
	Free    bool
	// ID is the allocation id, zero for free blocks.
	ID uint64
	// Requested is the size passed to Allocate, zero for free blocks.
	Requested int
}

// ClassStats describes one size class.
type ClassStats struct {
	Size            int
	FreeBlocks      int
	AllocatedBlocks int
	FreeBytes       int
	// InternalFragmentation is the sum of Size-Requested over allocated blocks.
	InternalFragmentation int
}

// Stats is an aggregate over all blocks.
type Stats struct {
	TotalBytes         int
	UsedBytes          int
	FreeBytes          int
	UtilizationPercent float64

	Allocations           int
	FreeBlocks            int
	InternalFragmentation int
	// LargestFree is the size of the largest free block, the biggest request
	// that can currently succeed.
	LargestFree int

	// Classes has one entry per size class, smallest first.
	Classes []ClassStats
}

// Walk calls fn for every block in address order until fn returns false.
// fn must not modify the allocator.
func (a *Allocator) Walk(fn func(Block) bool) {
	for addr := 0; addr < a.maxSize; {
		idx, ok := a.byAddr[addr]
		if !ok {
			return
		}
		b := a.blockOf(idx)
		if !fn(b) {
			return
		}
		addr += b.Size
	}
}

// Blocks returns all blocks in address order.
func (a *Allocator) Blocks() []Block {
	ret := make([]Block, 0, len(a.byAddr))
	a.Walk(func(b Block) bool {
		ret = append(ret, b)
		return true
	})
	return ret
}

// FreeList returns the free blocks of the given size class in list order.
// Allocate takes blocks from the front. It returns nil if size is not a size class.
func (a *Allocator) FreeList(size int) []Block {
	order := a.orderOf(size)
	if order < 0 {
		return nil
	}
	l := a.lists[order]
	ret := make([]Block, 0, l.len)
	for idx := l.head; idx != nilIndex; idx = a.records[idx].next {
		ret = append(ret, a.blockOf(idx))
	}
	return ret
}

// Stats returns usage and fragmentation counters. It has no side effects.
func (a *Allocator) Stats() Stats {
	st := Stats{
		TotalBytes: a.maxSize,
		Classes:    make([]ClassStats, a.maxOrder+1),
	}
	for o := range st.Classes {
		st.Classes[o].Size = a.sizeOf(o)
	}
	a.Walk(func(b Block) bool {
		c := &st.Classes[a.orderOf(b.Size)]
		if b.Free {
			st.FreeBytes += b.Size
			st.FreeBlocks++
			c.FreeBlocks++
			c.FreeBytes += b.Size
			if b.Size > st.LargestFree {
				st.LargestFree = b.Size
			}
			return true
		}
		st.UsedBytes += b.Size
		st.Allocations++
		c.AllocatedBlocks++
		c.InternalFragmentation += b.Size - b.Requested
		st.InternalFragmentation += b.Size - b.Requested
		return true
	})
	st.UtilizationPercent = float64(st.UsedBytes) / float64(st.TotalBytes) * 100
	return st
}

func (a *Allocator) blockOf(idx int) Block {
	r := &a.records[idx]
	return Block{
		Address:   r.addr,
		Size:      a.sizeOf(r.order),
		Free:      r.state == stateFree,
		ID:        r.id,
		Requested: r.requested,
	}
}
