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

// Package sched implements the kernel's ready queue: a stable, array-backed
// binary min-heap ordered by (priority, insertion order), as specified in
// spec.md §4.B. Lower priority numbers and earlier insertion orders both
// win; insertion-order ties are impossible by construction.
package sched

// Item is the interface a ready-queue entry must satisfy. TCB implements
// this directly, so the queue never copies or boxes task state: pushing and
// popping move *TCB references around, same as the source's array of TCB
// pointers.
type Item interface {
	// Priority returns the item's current scheduling priority. Lower wins.
	Priority() int
	// InsertionOrder returns the order assigned by the most recent Push (or
	// 0 if never pushed); ReplaceTop keeps the item's existing order.
	InsertionOrder() uint32
	SetInsertionOrder(uint32)
	// QueueIndex returns the item's cached slot in the queue, or -1 if not
	// queued.
	QueueIndex() int
	SetQueueIndex(int)
}

// NotQueued is the sentinel QueueIndex for an item that is not in any
// RunQueue.
const NotQueued = -1

// RunQueue is a stable binary min-heap of Items.
type RunQueue struct {
	items    []Item
	minOrder uint32
	nextOrd  uint32
}

// New returns an empty RunQueue.
func New() *RunQueue {
	return &RunQueue{}
}

// Len returns the number of items currently queued.
func (q *RunQueue) Len() int { return len(q.items) }

func parentIdx(i int) int { return (i - 1) / 2 }
func leftIdx(i int) int   { return i*2 + 1 }
func rightIdx(i int) int  { return i*2 + 2 }

// isEarlier reports whether insertion order a precedes b, accounting for
// wraparound relative to the queue's current minimum outstanding order.
func (q *RunQueue) isEarlier(a, b uint32) bool {
	switch {
	case q.minOrder > a && q.minOrder <= b:
		return false
	case q.minOrder > b && q.minOrder <= a:
		return true
	default:
		return a < b
	}
}

// outranks reports whether a must sit above b in the heap: strictly lower
// priority, or equal priority and an earlier insertion order.
func (q *RunQueue) outranks(a, b Item) bool {
	if a.Priority() != b.Priority() {
		return a.Priority() < b.Priority()
	}
	return q.isEarlier(a.InsertionOrder(), b.InsertionOrder())
}

func (q *RunQueue) set(i int, it Item) {
	q.items[i] = it
	it.SetQueueIndex(i)
}

func (q *RunQueue) swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].SetQueueIndex(i)
	q.items[j].SetQueueIndex(j)
}

func (q *RunQueue) siftUp(i int) {
	for i > 0 {
		p := parentIdx(i)
		if !q.outranks(q.items[i], q.items[p]) {
			return
		}
		q.swap(i, p)
		i = p
	}
}

func (q *RunQueue) siftDown(i int) {
	n := len(q.items)
	for {
		best := i
		if l := leftIdx(i); l < n && q.outranks(q.items[l], q.items[best]) {
			best = l
		}
		if r := rightIdx(i); r < n && q.outranks(q.items[r], q.items[best]) {
			best = r
		}
		if best == i {
			return
		}
		q.swap(i, best)
		i = best
	}
}

// nextInsertionOrder returns a fresh, monotonically increasing (and allowed
// to wrap) insertion order.
func (q *RunQueue) nextInsertionOrder() uint32 {
	v := q.nextOrd
	q.nextOrd++
	return v
}

// advanceMinOrder is called whenever the item that held the current minimum
// insertion order leaves the queue.
func (q *RunQueue) advanceMinOrder(removed uint32) {
	if removed == q.minOrder {
		q.minOrder++
	}
}

// Push assigns it a fresh insertion order, appends it, and sifts it up.
func (q *RunQueue) Push(it Item) {
	it.SetInsertionOrder(q.nextInsertionOrder())
	q.items = append(q.items, nil)
	q.set(len(q.items)-1, it)
	q.siftUp(len(q.items) - 1)
}

// Top returns the highest-ranked item without removing it, or nil if empty.
func (q *RunQueue) Top() Item {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// PopTop removes and returns the highest-ranked item, or nil if empty.
func (q *RunQueue) PopTop() Item {
	if len(q.items) == 0 {
		return nil
	}
	top := q.items[0]
	last := len(q.items) - 1
	q.set(0, q.items[last])
	q.items[last].SetQueueIndex(NotQueued)
	q.items = q.items[:last]
	if last > 0 {
		q.siftDown(0)
	}
	top.SetQueueIndex(NotQueued)
	q.advanceMinOrder(top.InsertionOrder())
	return top
}

// ReplaceTop overwrites the root with it, without assigning it a new
// insertion order, refusing (returning ok=false) if current already
// outranks it — a caller-supplied reference guarding against installing a
// node that isn't actually an improvement. If the queue held a previous
// root, ReplaceTop returns it as evicted so the caller can re-push it
// rather than silently losing it; evicted is nil when the queue was empty.
func (q *RunQueue) ReplaceTop(current, it Item) (evicted Item, ok bool) {
	if q.outranks(current, it) {
		return nil, false
	}
	if len(q.items) == 0 {
		q.items = append(q.items, nil)
		q.set(0, it)
		return nil, true
	}
	evicted = q.items[0]
	evicted.SetQueueIndex(NotQueued)
	q.set(0, it)
	return evicted, true
}

// RemoveAt removes the item currently at slot i. Unlike PopTop, it does not
// advance the minimum insertion order — set_prio relies on this to reorder a
// task without disturbing the wraparound bookkeeping.
func (q *RunQueue) RemoveAt(i int) Item {
	if i < 0 || i >= len(q.items) {
		return nil
	}
	removed := q.items[i]
	last := len(q.items) - 1
	q.set(i, q.items[last])
	q.items[last].SetQueueIndex(NotQueued)
	q.items = q.items[:last]
	removed.SetQueueIndex(NotQueued)
	if i < len(q.items) {
		q.siftDown(i)
		q.siftUp(i)
	}
	return removed
}

// IndexOf returns it's cached queue slot (O(1)), or NotQueued.
func (q *RunQueue) IndexOf(it Item) int {
	return it.QueueIndex()
}
