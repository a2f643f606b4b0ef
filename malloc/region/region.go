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

// Package region backs a buddy allocator with a real byte slice.
package region

import (
	"fmt"

	"github.com/bytedance/gopkg/lang/dirtmake"

	"github.com/cloudwego/buddy/malloc/buddy"
)

// Region maps allocator offsets onto one []byte of the allocator's max size.
// Like the allocator it wraps, a Region is not safe for concurrent use.
type Region struct {
	a   *buddy.Allocator
	buf []byte
}

// New allocates the backing store for a. The store is not zeroed.
func New(a *buddy.Allocator) *Region {
	return &Region{
		a:   a,
		buf: dirtmake.Bytes(a.MaxSize(), a.MaxSize()),
	}
}

// Allocator returns the allocator that owns the offsets.
func (r *Region) Allocator() *buddy.Allocator { return r.a }

// Alloc returns a slice with len n and cap equal to the size class of n.
// The content is whatever the previous owner left there.
func (r *Region) Alloc(n int) ([]byte, buddy.Handle, error) {
	h, err := r.a.Allocate(n)
	if err != nil {
		return nil, buddy.Handle{}, err
	}
	return r.slice(h), h, nil
}

// Bytes returns the slice of the live allocation h.
func (r *Region) Bytes(h buddy.Handle) ([]byte, error) {
	live, ok := r.a.Lookup(h.ID)
	if !ok || live != h {
		return nil, fmt.Errorf("%w: allocation %d is not live in this region", buddy.ErrInvalidHandle, h.ID)
	}
	return r.slice(h), nil
}

// Free releases h. Slices obtained for h must not be used afterwards.
func (r *Region) Free(h buddy.Handle) error {
	return r.a.Deallocate(h)
}

func (r *Region) slice(h buddy.Handle) []byte {
	return r.buf[h.Address : h.Address+h.Requested : h.Address+h.Size]
}
