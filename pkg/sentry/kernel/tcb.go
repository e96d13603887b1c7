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

package kernel

import (
	"golang.org/x/sync/semaphore"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel/kmem"
	"github.com/peterra3/rtoscore/pkg/sentry/kernel/sched"
)

// TCB is one task's control block. It implements sched.Item directly so the
// ready queue moves TCB references around without any copying or boxing.
type TCB struct {
	tid        TaskID
	prio       Priority
	privileged bool
	state      State
	entry      TaskFunc

	kStackSize int

	uStackAddr kmem.Addr
	uStackSize int

	// mailbox, mbxCap, mbxHead, mbxTail and mbxUsed implement the circular
	// buffer described in DESIGN.md's mailbox section: mailbox/mbxCap are
	// the heap-backed ring's address and capacity; mbxHead/mbxTail are the
	// next read/write byte offsets within it, wrapping modulo mbxCap; mbxUsed
	// is the number of bytes currently stored, which disambiguates a full
	// ring from an empty one when mbxHead == mbxTail.
	mailbox kmem.Addr
	mbxCap  int
	mbxHead int
	mbxTail int
	mbxUsed int

	insertionOrder uint32
	queueIndex     int

	// gate is the context-switch primitive for this task: a task that is
	// not RUNNING is parked on an Acquire of its own gate; the scheduler
	// resumes it with a Release. See SPEC_FULL.md's "context-switch
	// primitive, translated" section.
	gate *semaphore.Weighted

	// started is set the first time the task's goroutine actually begins
	// running its entry function, distinguishing "brand new, never run"
	// from "resumed after blocking/preemption".
	started bool
}

var _ sched.Item = (*TCB)(nil)

// Priority implements sched.Item.
func (t *TCB) Priority() int { return int(t.prio) }

// InsertionOrder implements sched.Item.
func (t *TCB) InsertionOrder() uint32 { return t.insertionOrder }

// SetInsertionOrder implements sched.Item.
func (t *TCB) SetInsertionOrder(o uint32) { t.insertionOrder = o }

// QueueIndex implements sched.Item.
func (t *TCB) QueueIndex() int { return t.queueIndex }

// SetQueueIndex implements sched.Item.
func (t *TCB) SetQueueIndex(i int) { t.queueIndex = i }

// TID returns the task's id.
func (t *TCB) TID() TaskID { return t.tid }

// State returns the task's current lifecycle state.
func (t *TCB) State() State { return t.state }

// HasMailbox reports whether mbx_create has succeeded for this task.
func (t *TCB) HasMailbox() bool { return t.mbxCap != 0 }

func newIdleTCB() *TCB {
	return &TCB{
		tid:        TidNull,
		prio:       PrioNull,
		privileged: true,
		state:      Running,
		queueIndex: sched.NotQueued,
	}
}
