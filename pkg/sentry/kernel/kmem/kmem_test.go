// Copyright 2024 The rtoscore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kmem

import (
	"testing"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel/kernelerr"
)

func newInitHeap(t *testing.T, size int) *Heap {
	t.Helper()
	h := New(size)
	if err := h.Init(); err != nil {
		t.Fatalf("Init() got err %v want nil", err)
	}
	return h
}

func TestAllocZeroReturnsNull(t *testing.T) {
	h := newInitHeap(t, 4096)
	if addr, err := h.Alloc(0, 1); addr != NullAddr || err != kernelerr.ErrZeroSize {
		t.Fatalf("Alloc(0) = (%v, %v), want (NullAddr, ErrZeroSize)", addr, err)
	}
}

func TestAllocBeforeInit(t *testing.T) {
	h := New(4096)
	if addr, err := h.Alloc(8, 1); addr != NullAddr || err != kernelerr.ErrNotInitialized {
		t.Fatalf("Alloc before Init = (%v, %v), want (NullAddr, ErrNotInitialized)", addr, err)
	}
}

func TestAllocDeallocRoundTrip(t *testing.T) {
	h := newInitHeap(t, 1<<27)
	var ptrs []Addr
	for i := 0; i < 1000; i++ {
		p, err := h.Alloc(i*256+255, 7)
		if err != nil {
			t.Fatalf("Alloc(%d) failed: %v", i*256+255, err)
		}
		if p%4 != 0 {
			t.Fatalf("Alloc(%d) returned unaligned addr %d", i*256+255, p)
		}
		ptrs = append(ptrs, p)
	}
	for i := 1; i < len(ptrs); i++ {
		if ptrs[i]-ptrs[i-1] < Addr(align4((i-1)*256+255)+headerSize) {
			t.Fatalf("pointer %d too close to previous: %d vs %d", i, ptrs[i], ptrs[i-1])
		}
	}
	for _, p := range ptrs {
		if err := h.Dealloc(p, 7); err != nil {
			t.Fatalf("Dealloc(%v) failed: %v", p, err)
		}
	}

	fresh := newInitHeap(t, 1<<27)
	if h.head != fresh.head {
		t.Fatalf("free list head after full round trip = %v, want %v (single coalesced block)", h.head, fresh.head)
	}
	_, sizeGot, _ := h.readHeader(h.head)
	_, sizeWant, _ := fresh.readHeader(fresh.head)
	if sizeGot != sizeWant {
		t.Fatalf("free block size after round trip = %d, want %d", sizeGot, sizeWant)
	}

	var ptrs2 []Addr
	for i := 0; i < 1000; i++ {
		p, err := h.Alloc((1000-i)*256-1, 7)
		if err != nil {
			t.Fatalf("second pass Alloc failed at i=%d: %v", i, err)
		}
		ptrs2 = append(ptrs2, p)
	}
	if ptrs2[0] != ptrs[0] {
		t.Fatalf("first address of second pass = %v, want %v", ptrs2[0], ptrs[0])
	}
}

func TestDeallocWrongOwner(t *testing.T) {
	h := newInitHeap(t, 4096)
	p, err := h.Alloc(32, 1)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if err := h.Dealloc(p, 2); err != kernelerr.ErrNotOwner {
		t.Fatalf("Dealloc with wrong owner = %v, want ErrNotOwner", err)
	}
}

func TestDeallocUnknownPointer(t *testing.T) {
	h := newInitHeap(t, 4096)
	if err := h.Dealloc(Addr(17), 1); err != kernelerr.ErrUnknownPointer {
		t.Fatalf("Dealloc(garbage) = %v, want ErrUnknownPointer", err)
	}
}

func TestDeallocNullIsNoop(t *testing.T) {
	h := newInitHeap(t, 4096)
	if err := h.Dealloc(NullAddr, 1); err != nil {
		t.Fatalf("Dealloc(NullAddr) = %v, want nil", err)
	}
}

// TestCoalescing reproduces spec.md §8 scenario 1.
func TestCoalescing(t *testing.T) {
	h := newInitHeap(t, 1<<16)
	var p [9]Addr
	var err error
	for i := 0; i < 9; i++ {
		p[i], err = h.Alloc(32, 1)
		if err != nil {
			t.Fatalf("Alloc p%d failed: %v", i+1, err)
		}
	}

	free := func(idxs ...int) {
		for _, i := range idxs {
			if err := h.Dealloc(p[i], 1); err != nil {
				t.Fatalf("Dealloc p%d failed: %v", i+1, err)
			}
		}
	}

	free(1, 3, 5, 7) // p2, p4, p6, p8
	if got := h.CountExtFrag(32 + headerSize + 1); got != 4 {
		t.Fatalf("after freeing p2,p4,p6,p8: CountExtFrag(32+H+1) = %d, want 4", got)
	}
	if got := h.CountExtFrag(96 + 3*headerSize + 1); got != 4 {
		t.Fatalf("after freeing p2,p4,p6,p8: CountExtFrag(96+3H+1) = %d, want 4", got)
	}

	free(2, 6) // p3, p7
	if got := h.CountExtFrag(32 + headerSize + 1); got != 0 {
		t.Fatalf("after freeing p3,p7: CountExtFrag(32+H+1) = %d, want 0", got)
	}
	if got := h.CountExtFrag(96 + 3*headerSize + 1); got != 2 {
		t.Fatalf("after freeing p3,p7: CountExtFrag(96+3H+1) = %d, want 2", got)
	}

	free(0, 4, 8) // p1, p5, p9
	if got := h.CountExtFrag(288 + 9*headerSize + 1); got != 0 {
		t.Fatalf("after freeing p1,p5,p9: CountExtFrag(288+9H+1) = %d, want 0", got)
	}
}

// TestExtfragUnit reproduces spec.md §8 scenario 6, with the sizes measured
// as whole-block footprints (payload plus header), which is what
// CountExtFrag compares against: the freed 12-byte block occupies
// 12+headerSize bytes.
func TestExtfragUnit(t *testing.T) {
	h := newInitHeap(t, 4096)
	_, err := h.Alloc(12, 1)
	if err != nil {
		t.Fatalf("Alloc p1 failed: %v", err)
	}
	p2, err := h.Alloc(12, 1)
	if err != nil {
		t.Fatalf("Alloc p2 failed: %v", err)
	}
	_, err = h.Alloc(12, 1)
	if err != nil {
		t.Fatalf("Alloc p3 failed: %v", err)
	}
	if err := h.Dealloc(p2, 1); err != nil {
		t.Fatalf("Dealloc p2 failed: %v", err)
	}
	if got := h.CountExtFrag(12 + headerSize); got != 0 {
		t.Fatalf("CountExtFrag(12+H) = %d, want 0", got)
	}
	if got := h.CountExtFrag(12 + headerSize + 1); got != 1 {
		t.Fatalf("CountExtFrag(12+H+1) = %d, want 1", got)
	}
}

func TestHeapExhausted(t *testing.T) {
	h := newInitHeap(t, headerSize+16)
	if _, err := h.Alloc(16, 1); err != nil {
		t.Fatalf("first Alloc failed: %v", err)
	}
	if addr, err := h.Alloc(16, 1); addr != NullAddr || err != kernelerr.ErrHeapExhausted {
		t.Fatalf("Alloc on exhausted heap = (%v, %v), want (NullAddr, ErrHeapExhausted)", addr, err)
	}
}
