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

package sched

import (
	"testing"

	"golang.org/x/exp/slices"
)

type fakeItem struct {
	prio  int
	order uint32
	idx   int
}

func (f *fakeItem) Priority() int             { return f.prio }
func (f *fakeItem) InsertionOrder() uint32     { return f.order }
func (f *fakeItem) SetInsertionOrder(o uint32) { f.order = o }
func (f *fakeItem) QueueIndex() int            { return f.idx }
func (f *fakeItem) SetQueueIndex(i int)        { f.idx = i }

var _ Item = (*fakeItem)(nil)

func TestPushPopOrdersByPriorityThenInsertion(t *testing.T) {
	q := New()
	items := []*fakeItem{{prio: 3}, {prio: 1}, {prio: 1}, {prio: 2}, {prio: 1}}
	for _, it := range items {
		q.Push(it)
	}

	var gotPrios []int
	for q.Len() > 0 {
		top := q.PopTop().(*fakeItem)
		gotPrios = append(gotPrios, top.prio)
	}
	if !slices.IsSorted(gotPrios) {
		t.Fatalf("pop order %v is not non-decreasing by priority", gotPrios)
	}

	// The three priority-1 items must come out in their original push order:
	// items[1], items[2], items[4].
	q2 := New()
	for _, it := range items {
		q2.Push(it)
	}
	var prio1Order []uint32
	for q2.Len() > 0 {
		top := q2.PopTop().(*fakeItem)
		if top.prio == 1 {
			prio1Order = append(prio1Order, top.order)
		}
	}
	if !slices.IsSorted(prio1Order) {
		t.Fatalf("equal-priority pop order %v is not FIFO by insertion order", prio1Order)
	}
}

func TestTopDoesNotRemove(t *testing.T) {
	q := New()
	a := &fakeItem{prio: 5}
	q.Push(a)
	if q.Top() != a {
		t.Fatal("Top() did not return the pushed item")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d after Top(), want 1", q.Len())
	}
}

func TestReplaceTopEvictsPreviousRoot(t *testing.T) {
	q := New()
	a := &fakeItem{prio: 5}
	running := &fakeItem{prio: 3}
	q.Push(a)

	better := &fakeItem{prio: 1}
	evicted, ok := q.ReplaceTop(running, better)
	if !ok {
		t.Fatal("ReplaceTop refused a strictly better node")
	}
	if evicted != a {
		t.Fatalf("ReplaceTop evicted %v, want the previous root %v", evicted, a)
	}
	if q.Top() != better {
		t.Fatal("ReplaceTop did not install the new node at the root")
	}
}

func TestReplaceTopRefusesWhenCurrentOutranksNode(t *testing.T) {
	q := New()
	running := &fakeItem{prio: 1}
	worse := &fakeItem{prio: 5}
	if _, ok := q.ReplaceTop(running, worse); ok {
		t.Fatal("ReplaceTop accepted a node that current already outranks")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d after a refused ReplaceTop, want 0", q.Len())
	}
}

func TestRemoveAtDoesNotAdvanceMinOrder(t *testing.T) {
	q := New()
	a := &fakeItem{prio: 1}
	b := &fakeItem{prio: 1}
	q.Push(a)
	q.Push(b)
	q.RemoveAt(a.QueueIndex())
	if q.minOrder != a.order {
		t.Fatalf("minOrder = %d after RemoveAt of the minimum, want %d (unchanged)", q.minOrder, a.order)
	}
	// b should still be findable and poppable.
	if q.Len() != 1 {
		t.Fatalf("Len() = %d after RemoveAt, want 1", q.Len())
	}
	if q.PopTop() != b {
		t.Fatal("PopTop() after RemoveAt did not return the remaining item")
	}
}

func TestIndexOfMatchesQueueIndex(t *testing.T) {
	q := New()
	a := &fakeItem{prio: 1}
	q.Push(a)
	if q.IndexOf(a) != a.QueueIndex() {
		t.Fatalf("IndexOf(a) = %d, want %d", q.IndexOf(a), a.QueueIndex())
	}
}
