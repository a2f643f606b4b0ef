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
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		max     int
		min     int
		wantErr bool
	}{
		{"classic", 1024, 1, false},
		{"same_min_max", 4096, 4096, false},
		{"large", 1 << 30, 4096, false},
		{"max_not_pow2", 1000, 1, true},
		{"min_not_pow2", 1024, 3, true},
		{"min_gt_max", 16, 32, true},
		{"zero_max", 0, 1, true},
		{"zero_min", 1024, 0, true},
		{"negative", -8, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.max, tt.min)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfiguration)
				assert.Nil(t, a)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []Block{{Address: 0, Size: tt.max, Free: true}}, a.Blocks())
			assert.Equal(t, []Block{{Address: 0, Size: tt.max, Free: true}}, a.FreeList(tt.max))
			assert.NoError(t, a.Check())
		})
	}
}

func TestClassSize(t *testing.T) {
	a := newTestAllocator(t, 1024, 16)
	tests := []struct {
		size int
		want int
	}{
		{1, 16}, {16, 16}, {17, 32}, {100, 128}, {128, 128},
		{129, 256}, {1023, 1024}, {1024, 1024},
		{0, 0}, {-1, 0}, {1025, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, a.ClassSize(tt.size), "size=%d", tt.size)
	}
}

func TestAllocateSizeClass(t *testing.T) {
	for _, min := range []int{1, 4, 32} {
		for n := 1; n <= 1024; n++ {
			a := newTestAllocator(t, 1024, min)
			h, err := a.Allocate(n)
			require.NoError(t, err, "n=%d", n)

			want := min
			for want < n {
				want <<= 1
			}
			assert.Equal(t, want, h.Size, "n=%d min=%d", n, min)
			assert.Equal(t, n, h.Requested)
			assert.Equal(t, want-n, h.Fragmentation())
			assert.Zero(t, h.Address%h.Size)
		}
	}
}

func TestAllocateScenario(t *testing.T) {
	a := newTestAllocator(t, 1024, 1)

	tests := []struct {
		requested int
		size      int
		address   int
	}{
		{100, 128, 0},
		{240, 256, 256},
		{64, 64, 128},
		{256, 256, 512},
	}
	var ids []uint64
	for _, tt := range tests {
		h, err := a.Allocate(tt.requested)
		require.NoError(t, err)
		assert.Equal(t, tt.size, h.Size, "requested=%d", tt.requested)
		assert.Equal(t, tt.address, h.Address, "requested=%d", tt.requested)
		assert.NotContains(t, ids, h.ID)
		ids = append(ids, h.ID)
		require.NoError(t, a.Check())
	}

	st := a.Stats()
	assert.Equal(t, 704, st.UsedBytes)
	assert.Equal(t, 320, st.FreeBytes)
	assert.Equal(t, 1024, st.TotalBytes)
	assert.InDelta(t, 68.75, st.UtilizationPercent, 1e-9)

	assert.Equal(t, []Block{{Address: 192, Size: 64, Free: true}}, a.FreeList(64))
	assert.Equal(t, []Block{{Address: 768, Size: 256, Free: true}}, a.FreeList(256))
	for _, size := range []int{1, 2, 4, 8, 16, 32, 128, 512, 1024} {
		assert.Empty(t, a.FreeList(size), "size=%d", size)
	}
	assertPartition(t, a)
}

func TestFreeAnyOrderRestoresInitialState(t *testing.T) {
	sizes := []int{100, 240, 64, 256}
	for _, order := range permutations(len(sizes)) {
		a := newTestAllocator(t, 1024, 1)
		handles := make([]Handle, len(sizes))
		for i, sz := range sizes {
			h, err := a.Allocate(sz)
			require.NoError(t, err)
			handles[i] = h
		}
		for _, i := range order {
			require.NoError(t, a.Deallocate(handles[i]), "order=%v", order)
			require.NoError(t, a.Check(), "order=%v", order)
			assertNoFreeBuddies(t, a)
		}
		assert.Equal(t, []Block{{Address: 0, Size: 1024, Free: true}}, a.Blocks(), "order=%v", order)
		assert.Equal(t, []Block{{Address: 0, Size: 1024, Free: true}}, a.FreeList(1024), "order=%v", order)
	}
}

func TestAllocateErrors(t *testing.T) {
	t.Run("Oversized", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1)
		_, err := a.Allocate(100)
		require.NoError(t, err)
		before := snapshot(a)

		_, err = a.Allocate(1025)
		assert.ErrorIs(t, err, ErrOversizedRequest)
		_, err = a.Allocate(1 << 20)
		assert.ErrorIs(t, err, ErrOversizedRequest)
		assert.Equal(t, before, snapshot(a))
	})

	t.Run("InvalidSize", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1)
		before := snapshot(a)
		_, err := a.Allocate(0)
		assert.ErrorIs(t, err, ErrInvalidSize)
		_, err = a.Allocate(-1)
		assert.ErrorIs(t, err, ErrInvalidSize)
		assert.Equal(t, before, snapshot(a))
	})

	t.Run("OutOfMemory", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1)
		var handles []Handle
		for {
			h, err := a.Allocate(1)
			if err != nil {
				assert.ErrorIs(t, err, ErrOutOfMemory)
				break
			}
			handles = append(handles, h)
		}
		assert.Len(t, handles, 1024)
		require.NoError(t, a.Check())

		before := snapshot(a)
		_, err := a.Allocate(1)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.True(t, errors.Is(err, ErrOutOfMemory))
		assert.Equal(t, before, snapshot(a))

		st := a.Stats()
		assert.Equal(t, 1024, st.UsedBytes)
		assert.Equal(t, 0, st.FreeBytes)
		assert.Equal(t, 0, st.LargestFree)

		for _, h := range handles {
			require.NoError(t, a.Deallocate(h))
		}
		assert.Equal(t, []Block{{Address: 0, Size: 1024, Free: true}}, a.Blocks())
	})

	t.Run("OutOfMemoryFragmented", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1)
		h1, err := a.Allocate(512)
		require.NoError(t, err)
		_, err = a.Allocate(256)
		require.NoError(t, err)

		_, err = a.Allocate(512)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		require.NoError(t, a.Deallocate(h1))
		_, err = a.Allocate(512)
		assert.NoError(t, err)
	})
}

func TestDeallocateInvalid(t *testing.T) {
	t.Run("DoubleFree", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1)
		_, err := a.Allocate(64)
		require.NoError(t, err)
		h, err := a.Allocate(100)
		require.NoError(t, err)

		require.NoError(t, a.Deallocate(h))
		before := snapshot(a)
		assert.ErrorIs(t, a.Deallocate(h), ErrInvalidHandle)
		assert.Equal(t, before, snapshot(a))
		assert.NoError(t, a.Check())
	})

	t.Run("ReusedAddress", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1)
		h1, err := a.Allocate(100)
		require.NoError(t, err)
		require.NoError(t, a.Deallocate(h1))
		h2, err := a.Allocate(100)
		require.NoError(t, err)
		assert.Equal(t, h1.Address, h2.Address)
		assert.NotEqual(t, h1.ID, h2.ID)

		// a stale handle must not free the new owner of the address
		assert.ErrorIs(t, a.Deallocate(h1), ErrInvalidHandle)
		got, ok := a.Lookup(h2.ID)
		assert.True(t, ok)
		assert.Equal(t, h2, got)
	})

	t.Run("Foreign", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1)
		b := newTestAllocator(t, 1024, 1)
		ha, err := a.Allocate(100)
		require.NoError(t, err)
		hb, err := b.Allocate(100)
		require.NoError(t, err)
		assert.Equal(t, ha.ID, hb.ID)

		assert.ErrorIs(t, a.Deallocate(hb), ErrInvalidHandle)
		assert.ErrorIs(t, a.Deallocate(Handle{}), ErrInvalidHandle)
		assert.NoError(t, a.Deallocate(ha))
		assert.NoError(t, b.Deallocate(hb))
	})

	t.Run("Tampered", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1)
		h, err := a.Allocate(100)
		require.NoError(t, err)
		bad := h
		bad.Size = 256
		assert.ErrorIs(t, a.Deallocate(bad), ErrInvalidHandle)
		bad = h
		bad.Address = 128
		assert.ErrorIs(t, a.Deallocate(bad), ErrInvalidHandle)
		assert.NoError(t, a.Deallocate(h))
	})
}

func TestCoalescing(t *testing.T) {
	t.Run("StopsAtAllocatedBuddy", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 64)
		h1, _ := a.Allocate(64) // 0
		h2, _ := a.Allocate(64) // 64
		h3, _ := a.Allocate(64) // 128

		require.NoError(t, a.Deallocate(h1))
		assert.Equal(t, []Block{
			{Address: 0, Size: 64, Free: true},
			{Address: 192, Size: 64, Free: true},
		}, a.FreeList(64))

		// 128's buddy is 192, which is free: merge to 128/128 but not further
		// because 0/128 is half allocated.
		require.NoError(t, a.Deallocate(h3))
		assert.Equal(t, []Block{{Address: 0, Size: 64, Free: true}}, a.FreeList(64))
		assert.Equal(t, []Block{{Address: 128, Size: 128, Free: true}}, a.FreeList(128))

		require.NoError(t, a.Deallocate(h2))
		assert.Equal(t, []Block{{Address: 0, Size: 1024, Free: true}}, a.Blocks())
	})

	t.Run("AdjacentNonBuddiesStayApart", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 64)
		var hs []Handle
		for i := 0; i < 4; i++ {
			h, err := a.Allocate(64)
			require.NoError(t, err)
			hs = append(hs, h)
		}
		// 64 and 128 are adjacent and equal size but not buddies
		require.NoError(t, a.Deallocate(hs[1]))
		require.NoError(t, a.Deallocate(hs[2]))
		assert.ElementsMatch(t, []Block{
			{Address: 64, Size: 64, Free: true},
			{Address: 128, Size: 64, Free: true},
		}, a.FreeList(64))
		assert.Empty(t, a.FreeList(128))
		assert.NoError(t, a.Check())
	})

	t.Run("MaxSizeIsNotMerged", func(t *testing.T) {
		a := newTestAllocator(t, 1024, 1024)
		h, err := a.Allocate(1)
		require.NoError(t, err)
		assert.Equal(t, 1024, h.Size)
		require.NoError(t, a.Deallocate(h))
		assert.Equal(t, []Block{{Address: 0, Size: 1024, Free: true}}, a.Blocks())
	})
}

func TestFreeListOrder(t *testing.T) {
	a := newTestAllocator(t, 1024, 64)
	_, _ = a.Allocate(64)
	assert.Equal(t, []Block{{Address: 64, Size: 64, Free: true}}, a.FreeList(64))
	assert.Equal(t, []Block{{Address: 128, Size: 128, Free: true}}, a.FreeList(128))

	h, _ := a.Allocate(64)
	assert.Equal(t, 64, h.Address)
	next, _ := a.Allocate(64)
	assert.Equal(t, 128, next.Address)
	assert.Equal(t, []Block{{Address: 192, Size: 64, Free: true}}, a.FreeList(64))

	require.NoError(t, a.Deallocate(h))
	assert.Equal(t, []Block{
		{Address: 64, Size: 64, Free: true},
		{Address: 192, Size: 64, Free: true},
	}, a.FreeList(64))

	assert.Nil(t, a.FreeList(100))
	assert.Nil(t, a.FreeList(32))
	assert.Nil(t, a.FreeList(2048))
}

func TestRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := newTestAllocator(t, 1<<12, 4)
	var live []Handle
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && rng.Intn(3) == 0 {
			j := rng.Intn(len(live))
			require.NoError(t, a.Deallocate(live[j]))
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		} else if h, err := a.Allocate(1 + rng.Intn(256)); err == nil {
			live = append(live, h)
		}

		before := snapshot(a)
		n := 1 + rng.Intn(1<<12)
		h, err := a.Allocate(n)
		if err != nil {
			assert.ErrorIs(t, err, ErrOutOfMemory)
			assert.Equal(t, before, snapshot(a))
			continue
		}
		require.NoError(t, a.Deallocate(h))
		require.Equal(t, before, snapshot(a), "n=%d", n)
	}
}

func TestRandomOperationsKeepInvariants(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := newTestAllocator(t, 1<<14, 8)
	var live []Handle
	for i := 0; i < 20000; i++ {
		if len(live) == 0 || rng.Intn(5) < 3 {
			n := 1 + rng.Intn(1<<10)
			if rng.Intn(50) == 0 {
				n = 1 + rng.Intn(1<<14)
			}
			h, err := a.Allocate(n)
			if err != nil {
				require.ErrorIs(t, err, ErrOutOfMemory)
			} else {
				live = append(live, h)
			}
		} else {
			j := rng.Intn(len(live))
			require.NoError(t, a.Deallocate(live[j]))
			live[j] = live[len(live)-1]
			live = live[:len(live)-1]
		}
		if i%10 == 0 {
			require.NoError(t, a.Check(), "op=%d", i)
			assertPartition(t, a)
			assertNoFreeBuddies(t, a)
		}
	}

	used := 0
	for _, h := range live {
		used += h.Size
	}
	assert.Equal(t, used, a.Stats().UsedBytes)

	for _, h := range live {
		require.NoError(t, a.Deallocate(h))
	}
	assert.Equal(t, []Block{{Address: 0, Size: 1 << 14, Free: true}}, a.Blocks())
	assert.NoError(t, a.Check())
}

func TestLookupAndReset(t *testing.T) {
	a := newTestAllocator(t, 1024, 1)
	h, err := a.Allocate(100)
	require.NoError(t, err)

	got, ok := a.Lookup(h.ID)
	assert.True(t, ok)
	assert.Equal(t, h, got)
	_, ok = a.Lookup(h.ID + 1)
	assert.False(t, ok)

	a.Reset()
	assert.Equal(t, []Block{{Address: 0, Size: 1024, Free: true}}, a.Blocks())
	assert.ErrorIs(t, a.Deallocate(h), ErrInvalidHandle)

	h2, err := a.Allocate(100)
	require.NoError(t, err)
	assert.Greater(t, h2.ID, h.ID)
	assert.NoError(t, a.Check())
}

func TestLocked(t *testing.T) {
	l := NewLocked(newTestAllocator(t, 1<<16, 16))
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			var live []Handle
			for i := 0; i < 500; i++ {
				if len(live) > 0 && rng.Intn(2) == 0 {
					j := rng.Intn(len(live))
					assert.NoError(t, l.Deallocate(live[j]))
					live[j] = live[len(live)-1]
					live = live[:len(live)-1]
					continue
				}
				if h, err := l.Allocate(1 + rng.Intn(1024)); err == nil {
					live = append(live, h)
				}
			}
			for _, h := range live {
				assert.NoError(t, l.Deallocate(h))
			}
		}(int64(w))
	}
	wg.Wait()

	assert.NoError(t, l.Check())
	assert.Equal(t, 0, l.Stats().UsedBytes)
	assert.Equal(t, []Block{{Address: 0, Size: 1 << 16, Free: true}}, l.Blocks())
}

// helpers

type state struct {
	Blocks    []Block
	FreeLists [][]Block
	Free      int
}

func snapshot(a *Allocator) state {
	s := state{Blocks: a.Blocks(), Free: a.Stats().FreeBytes}
	for size := a.MinSize(); size <= a.MaxSize(); size <<= 1 {
		s.FreeLists = append(s.FreeLists, a.FreeList(size))
	}
	return s
}

func newTestAllocator(t testing.TB, max, min int) *Allocator {
	t.Helper()
	a, err := New(max, min)
	require.NoError(t, err)
	return a
}

// assertPartition checks the blocks cover [0, max) without gaps or overlaps,
// independently of Check.
func assertPartition(t *testing.T, a *Allocator) {
	t.Helper()
	next := 0
	for _, b := range a.Blocks() {
		require.Equal(t, next, b.Address)
		require.Zero(t, b.Size&(b.Size-1), "size %d is not a power of two", b.Size)
		require.GreaterOrEqual(t, b.Size, a.MinSize())
		next += b.Size
	}
	require.Equal(t, a.MaxSize(), next)
}

func assertNoFreeBuddies(t *testing.T, a *Allocator) {
	t.Helper()
	free := make(map[[2]int]bool)
	for _, b := range a.Blocks() {
		if b.Free {
			free[[2]int{b.Address, b.Size}] = true
		}
	}
	for k := range free {
		if k[1] == a.MaxSize() {
			continue
		}
		assert.False(t, free[[2]int{k[0] ^ k[1], k[1]}], "free buddies at %d and %d", k[0], k[0]^k[1])
	}
}

func permutations(n int) [][]int {
	if n == 0 {
		return [][]int{{}}
	}
	var ret [][]int
	for _, p := range permutations(n - 1) {
		for i := 0; i <= len(p); i++ {
			q := make([]int, 0, n)
			q = append(q, p[:i]...)
			q = append(q, n-1)
			q = append(q, p[i:]...)
			ret = append(ret, q)
		}
	}
	return ret
}

// benchmarks

func BenchmarkAllocate(b *testing.B) {
	a := newTestAllocator(b, 16<<20, 8<<10)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := a.Allocate(8192)
		if err == nil {
			_ = a.Deallocate(h)
		}
	}
}

func BenchmarkAllocateSplit(b *testing.B) {
	a := newTestAllocator(b, 16<<20, 64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := a.Allocate(64)
		if err == nil {
			_ = a.Deallocate(h)
		}
	}
}

func BenchmarkAllocSizes(b *testing.B) {
	a := newTestAllocator(b, 16<<20, 1<<10)
	sizes := []int{1024, 8192, 32768, 131072}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		h, err := a.Allocate(sizes[i%len(sizes)])
		if err == nil {
			_ = a.Deallocate(h)
		}
	}
}
