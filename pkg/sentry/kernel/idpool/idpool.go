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

// Package idpool tracks free task ids. The original allocator (k_tsk_init's
// tids/nextTidIndex) is a LIFO array; this one keeps free ids in a
// google/btree ordered set instead, so tsk_create always hands out the
// lowest free id. spec.md only requires "a free task id slot exists" for
// tsk_create to succeed, so the stronger lowest-id guarantee is conformant
// and makes task ids deterministic and easy to reason about in tests.
package idpool

import "github.com/google/btree"

type idItem int

func (a idItem) Less(than btree.Item) bool {
	return a < than.(idItem)
}

// Pool is a set of free task ids backed by an ordered btree.
type Pool struct {
	free *btree.BTree
}

// New returns a Pool whose free set is every id in reserved's complement
// within [1, maxTasks), plus the explicitly reserved ids removed. Task id 0
// (the idle task) is never part of the pool.
func New(maxTasks int, reserved ...int) *Pool {
	p := &Pool{free: btree.New(32)}
	skip := make(map[int]bool, len(reserved))
	for _, r := range reserved {
		skip[r] = true
	}
	for id := 1; id < maxTasks; id++ {
		if !skip[id] {
			p.free.ReplaceOrInsert(idItem(id))
		}
	}
	return p
}

// Take removes and returns the lowest free id. ok is false if the pool is
// empty.
func (p *Pool) Take() (id int, ok bool) {
	min := p.free.Min()
	if min == nil {
		return 0, false
	}
	p.free.Delete(min)
	return int(min.(idItem)), true
}

// Return makes id available again.
func (p *Pool) Return(id int) {
	p.free.ReplaceOrInsert(idItem(id))
}

// Reserve removes a specific id from the free set unconditionally, so Take
// never hands it out. New's reserved arguments do the same at construction.
func (p *Pool) Reserve(id int) {
	p.free.Delete(idItem(id))
}

// Len returns the number of ids currently available.
func (p *Pool) Len() int {
	return p.free.Len()
}
