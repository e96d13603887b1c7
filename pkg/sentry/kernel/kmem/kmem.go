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

// Package kmem implements the kernel's dynamic heap allocator: first-fit
// allocation with immediate bidirectional coalescing on free, as specified
// in spec.md §4.A.
//
// A raw-pointer free list doesn't translate to Go, so per the "pointer-based
// free list -> arena + offsets" design note, the heap is a single byte arena
// plus typed Addr offsets into it; headers are read and written through
// small helpers rather than modeled as Go structs laid over the arena, since
// Go gives no portable guarantee of a struct's in-memory layout.
package kmem

import (
	"encoding/binary"
	"sync"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel/kernelerr"
)

// Addr is an offset into a Heap's arena. It plays the role of a pointer in
// the original C allocator.
type Addr int32

// NullAddr is the invalid/"nil" address, used for the free list's terminal
// link and for reporting allocation failure.
const NullAddr Addr = -1

// headerSize is the size in bytes of a block header: a successor link (4
// bytes, valid only while the block is free), a payload size (4 bytes), an
// owner task id (4 bytes, valid only while allocated), and 4 bytes of
// padding so the header is a multiple of 8 bytes (spec.md §3).
const headerSize = 16

// OwnerID identifies the task that owns an allocation. Task id 0 is used by
// the kernel itself when it allocates on behalf of a task (stacks,
// mailboxes), per spec.md §3's ownership rules.
type OwnerID = uint32

// Heap is a first-fit, eagerly-coalescing allocator over a fixed-size byte
// arena. The zero value is not usable; construct with New.
type Heap struct {
	mu          sync.Mutex
	arena       []byte
	head        Addr // head of the free list, NullAddr if empty
	initialized bool
}

// New allocates a Heap backed by an arena of the given size in bytes. It
// mirrors mem_init's source of memory (the image-to-RAM-end span) but takes
// the span's size directly rather than deriving it from linker symbols,
// since a Go binary has no image_end/RAM_END of its own.
func New(arenaSize int) *Heap {
	return &Heap{arena: make([]byte, arenaSize)}
}

// Init (re)initializes the free list to a single block spanning the entire
// arena minus one header. It is idempotent: calling it again simply resets
// the heap, discarding any live allocations, matching mem_init's contract.
func (h *Heap) Init() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.arena) <= headerSize {
		return kernelerr.ErrHeapExhausted
	}
	h.head = 0
	h.writeHeader(0, NullAddr, uint32(len(h.arena)-headerSize), 0)
	h.initialized = true
	return nil
}

// align4 rounds n up to the next multiple of 4.
func align4(n int) int {
	return (n + 3) &^ 3
}

func (h *Heap) readHeader(off Addr) (next Addr, size uint32, owner uint32) {
	b := h.arena[off : off+headerSize]
	next = Addr(int32(binary.LittleEndian.Uint32(b[0:4])))
	size = binary.LittleEndian.Uint32(b[4:8])
	owner = binary.LittleEndian.Uint32(b[8:12])
	return
}

func (h *Heap) writeHeader(off, next Addr, size uint32, owner uint32) {
	b := h.arena[off : off+headerSize]
	binary.LittleEndian.PutUint32(b[0:4], uint32(int32(next)))
	binary.LittleEndian.PutUint32(b[4:8], size)
	binary.LittleEndian.PutUint32(b[8:12], owner)
	binary.LittleEndian.PutUint32(b[12:16], 0)
}

// Alloc returns the payload address of a freshly allocated, 4-byte-aligned
// block of at least size bytes, recording owner as its owning task. It
// returns NullAddr and ErrZeroSize/ErrNotInitialized/ErrHeapExhausted per
// spec.md §4.A's allocation algorithm.
func (h *Heap) Alloc(size int, owner OwnerID) (Addr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return NullAddr, kernelerr.ErrNotInitialized
	}
	if size == 0 {
		return NullAddr, kernelerr.ErrZeroSize
	}
	need := uint32(align4(size))

	var prev Addr = NullAddr
	curr := h.head
	for curr != NullAddr {
		next, blkSize, _ := h.readHeader(curr)
		if blkSize >= need {
			if blkSize > need+headerSize {
				// Split: tail becomes a new free block inheriting curr's link.
				tail := curr + Addr(headerSize) + Addr(need)
				tailSize := blkSize - need - headerSize
				h.writeHeader(tail, next, tailSize, 0)
				if prev == NullAddr {
					h.head = tail
				} else {
					h.relink(prev, tail)
				}
				h.writeHeader(curr, NullAddr, need, owner)
			} else {
				// Consume the block whole, unlinking it from the free list.
				if prev == NullAddr {
					h.head = next
				} else {
					h.relink(prev, next)
				}
				h.writeHeader(curr, NullAddr, blkSize, owner)
			}
			return curr + headerSize, nil
		}
		prev = curr
		curr = next
	}
	return NullAddr, kernelerr.ErrHeapExhausted
}

// relink rewrites prev's successor link without disturbing its size/owner.
func (h *Heap) relink(prev, next Addr) {
	_, size, owner := h.readHeader(prev)
	h.writeHeader(prev, next, size, owner)
}

// Dealloc frees a block previously returned by Alloc. Passing NullAddr is a
// no-op success. It fails with ErrUnknownPointer if addr is not the exact
// payload address of any currently allocated block, or ErrNotOwner if owner
// does not match the block's recorded owner.
func (h *Heap) Dealloc(addr Addr, owner OwnerID) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if addr == NullAddr {
		return nil
	}
	header := addr - headerSize
	if header < 0 || int(header)+headerSize > len(h.arena) {
		return kernelerr.ErrUnknownPointer
	}

	// Find (prevFree, nextFree) bracketing header in ascending address order.
	var prevFree Addr = NullAddr
	nextFree := h.head
	for nextFree != NullAddr && nextFree < header {
		prevFree = nextFree
		nextFree, _, _ = h.readHeader(nextFree)
	}

	// Validate by walking allocated blocks from the end of prevFree (or the
	// start of the arena) until we land exactly on header.
	var target Addr
	if prevFree == NullAddr {
		target = 0
	} else {
		_, prevSize, _ := h.readHeader(prevFree)
		target = prevFree + headerSize + Addr(prevSize)
	}
	for target != header {
		limit := Addr(len(h.arena))
		if nextFree != NullAddr && nextFree < limit {
			limit = nextFree
		}
		if target >= limit {
			return kernelerr.ErrUnknownPointer
		}
		_, sz, _ := h.readHeader(target)
		target = target + headerSize + Addr(sz)
	}

	_, size, tid := h.readHeader(target)
	if tid != owner {
		return kernelerr.ErrNotOwner
	}

	// Insert into the free list at (prevFree, nextFree).
	h.writeHeader(target, nextFree, size, 0)
	if prevFree != NullAddr {
		h.relink(prevFree, target)
	} else {
		h.head = target
	}

	// Coalesce forward, then backward.
	if nextFree != NullAddr && target+headerSize+Addr(size) == nextFree {
		nextNext, nextSize, _ := h.readHeader(nextFree)
		h.writeHeader(target, nextNext, size+headerSize+nextSize, 0)
	}
	if prevFree != NullAddr {
		_, prevSize, _ := h.readHeader(prevFree)
		if prevFree+headerSize+Addr(prevSize) == target {
			mergedNext, mergedSize, _ := h.readHeader(target)
			h.writeHeader(prevFree, mergedNext, prevSize+headerSize+mergedSize, 0)
			target = prevFree
		}
	}

	if h.head == NullAddr || target < h.head {
		h.head = target
	}
	return nil
}

// CountExtFrag returns the number of free blocks whose total footprint
// (header + payload) is strictly less than size.
func (h *Heap) CountExtFrag(size int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	count := 0
	for curr := h.head; curr != NullAddr; {
		next, blkSize, _ := h.readHeader(curr)
		if int(blkSize)+headerSize < size {
			count++
		}
		curr = next
	}
	return count
}

// Bytes returns a mutable view of the length bytes of payload at addr. It is
// used by the mailbox subsystem to treat a heap-backed allocation as a ring
// buffer without a second copy of the storage.
func (h *Heap) Bytes(addr Addr, length int) []byte {
	return h.arena[addr : int(addr)+length]
}
