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

// Package buddy implements a binary buddy allocator over an abstract address range.
//
// The allocator owns the range [0, maxSize) and hands out power-of-two blocks
// between minSize and maxSize. A request is rounded up to its size class; if no
// block of that class is free, the smallest larger free block is split in halves
// until one fits. Freed blocks are merged with their buddy (address XOR size)
// as long as the buddy is free too, so two free buddies never coexist.
//
// The allocator does not touch memory. It deals in offsets only; see package
// region for a byte-backed view.
//
// An Allocator is not safe for concurrent use. Wrap it with NewLocked when it
// is shared between goroutines.
package buddy
