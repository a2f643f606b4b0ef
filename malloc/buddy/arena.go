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

const nilIndex = -1

type blockState uint8

const (
	stateFree blockState = iota
	stateAllocated
)

// record is one block in the arena. Records are addressed by their index in
// Allocator.records; retired indices go to Allocator.spare and are handed out
// again by newRecord. The prev/next links are only meaningful while the block
// sits in a free list.
type record struct {
	addr      int
	order     int
	state     blockState
	id        uint64
	requested int
	prev      int
	next      int
	live      bool
}

// freeList is an intrusive doubly linked list of record indices for one order.
type freeList struct {
	head int
	tail int
	len  int
}

func newFreeList() freeList {
	return freeList{head: nilIndex, tail: nilIndex}
}

// newRecord creates a free, unlinked block at addr and registers it by address.
func (a *Allocator) newRecord(addr, order int) int {
	var idx int
	if n := len(a.spare); n > 0 {
		idx = a.spare[n-1]
		a.spare = a.spare[:n-1]
	} else {
		idx = len(a.records)
		a.records = append(a.records, record{})
	}
	a.records[idx] = record{
		addr:  addr,
		order: order,
		state: stateFree,
		prev:  nilIndex,
		next:  nilIndex,
		live:  true,
	}
	a.byAddr[addr] = idx
	return idx
}

// retire drops the block identity. The caller is responsible for the address
// registry: the address is either reused by a new record or removed.
func (a *Allocator) retire(idx int) {
	a.records[idx] = record{prev: nilIndex, next: nilIndex}
	a.spare = append(a.spare, idx)
}

func (a *Allocator) pushFront(order, idx int) {
	l := &a.lists[order]
	r := &a.records[idx]
	r.prev = nilIndex
	r.next = l.head
	if l.head != nilIndex {
		a.records[l.head].prev = idx
	} else {
		l.tail = idx
	}
	l.head = idx
	l.len++
}

func (a *Allocator) popFront(order int) int {
	l := &a.lists[order]
	idx := l.head
	if idx == nilIndex {
		return nilIndex
	}
	a.remove(order, idx)
	return idx
}

func (a *Allocator) remove(order, idx int) {
	l := &a.lists[order]
	r := &a.records[idx]
	if r.prev != nilIndex {
		a.records[r.prev].next = r.next
	} else {
		l.head = r.next
	}
	if r.next != nilIndex {
		a.records[r.next].prev = r.prev
	} else {
		l.tail = r.prev
	}
	r.prev = nilIndex
	r.next = nilIndex
	l.len--
}
