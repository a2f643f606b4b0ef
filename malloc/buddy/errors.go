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

import "errors"

var (
	// ErrInvalidConfiguration is returned by New when the block sizes are not
	// powers of two or minSize > maxSize.
	ErrInvalidConfiguration = errors.New("buddy: invalid configuration")

	// ErrInvalidSize is returned when the requested size is not positive.
	ErrInvalidSize = errors.New("buddy: request size must be positive")

	// ErrOversizedRequest is returned when the request exceeds the max block size.
	ErrOversizedRequest = errors.New("buddy: request exceeds max block size")

	// ErrOutOfMemory is returned when no free block is large enough.
	ErrOutOfMemory = errors.New("buddy: out of memory")

	// ErrInvalidHandle is returned on double free or for a handle this allocator did not issue.
	ErrInvalidHandle = errors.New("buddy: invalid handle")

	// ErrCorrupted is returned by Check when an invariant does not hold.
	ErrCorrupted = errors.New("buddy: corrupted state")
)
