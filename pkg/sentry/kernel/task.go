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
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel/kernelerr"
	"github.com/peterra3/rtoscore/pkg/sentry/kernel/kmem"
	"github.com/peterra3/rtoscore/pkg/sentry/kernel/sched"
)

// buildTask validates args, claims a task id and (for an unprivileged task) a
// user stack allocation, and starts (but does not yet schedule) the new
// task's goroutine, which blocks immediately on its own gate. A privileged
// task gets no user stack, matching the original's "directly transfer to
// entry" initial context and its zero UStackSize in tsk_get_info. Callers
// must hold k.mu.
func (k *Kernel) buildTask(prio Priority, entry TaskFunc, kStackSize, uStackSize int, privileged bool) (*TCB, error) {
	if entry == nil {
		return nil, kernelerr.ErrNilEntry
	}
	if prio == PrioRT || prio == PrioNull {
		return nil, kernelerr.ErrInvalidPriority
	}
	if privileged {
		if uStackSize != 0 {
			return nil, kernelerr.ErrInvalidStack
		}
	} else if uStackSize < MinUserStackSize || uStackSize%8 != 0 {
		return nil, kernelerr.ErrInvalidStack
	}
	if kStackSize <= 0 {
		kStackSize = k.cfg.DefaultKStackSize
	}

	id, ok := k.ids.Take()
	if !ok {
		return nil, kernelerr.ErrNoFreeTaskID
	}
	var uAddr kmem.Addr
	if !privileged {
		var err error
		uAddr, err = k.heap.Alloc(uStackSize, 0)
		if err != nil {
			k.ids.Return(id)
			return nil, err
		}
	}

	t := &TCB{
		tid:        TaskID(id),
		prio:       prio,
		privileged: privileged,
		state:      Ready,
		entry:      entry,
		kStackSize: kStackSize,
		uStackAddr: uAddr,
		uStackSize: uStackSize,
		queueIndex: sched.NotQueued,
		gate:       semaphore.NewWeighted(1),
	}
	// Consume the gate's one permit now, synchronously, so t's own goroutine
	// blocks on its first Acquire until a resumeTask releases it.
	t.gate.Acquire(context.Background(), 1)
	k.tcbs[id] = t
	go k.runTask(t)
	return t, nil
}

// create backs tsk_create: caller is the running task requesting the new
// task, and is the one the scheduler might preempt. Callers must hold k.mu.
func (k *Kernel) create(caller *TCB, prio Priority, entry TaskFunc, kStackSize, uStackSize int, privileged bool) (TaskID, error) {
	t, err := k.buildTask(prio, entry, kStackSize, uStackSize, privileged)
	if err != nil {
		return TidNull, err
	}

	k.tracer.Event("tsk_create: tid=%d prio=%d created by tid=%d", t.tid, t.prio, caller.tid)

	if outranks(t, caller) {
		caller.state = Ready
		k.rq.Push(caller)
		k.resumeTask(t)
		k.parkSelf(caller)
	} else {
		k.rq.Push(t)
	}
	return t.tid, nil
}

// runTask is the body of every non-idle task's goroutine: park until first
// scheduled, run the entry function, then exit implicitly if entry returns
// without calling tsk_exit itself.
func (k *Kernel) runTask(t *TCB) {
	t.gate.Acquire(context.Background(), 1)
	t.started = true
	api := &TaskAPI{k: k, tid: t.tid}
	t.entry(api)
	api.Exit()
}

// yield backs tsk_yield: self steps to the back of its priority's queue. If
// nothing else in the queue now outranks self, it keeps running with no
// context switch (this is the corrected replacement for the original's
// buggy three-way priority/order comparison — see SPEC_FULL.md). Callers
// must hold k.mu.
func (k *Kernel) yield(self *TCB) {
	self.state = Ready
	k.rq.Push(self)
	next := k.rq.PopTop().(*TCB)
	if next == self {
		self.state = Running
		return
	}
	k.resumeTask(next)
	k.parkSelf(self)
}

// exit backs tsk_exit. It reclaims self's heap-owned resources, returns its
// id to the pool, and switches to the next scheduler candidate before
// terminating self's goroutine with runtime.Goexit — tsk_exit never returns,
// exactly like the original. Callers must hold k.mu; exit releases it before
// Goexit since there is no longer a caller stack frame to return it to.
func (k *Kernel) exit(self *TCB) {
	if self.HasMailbox() {
		k.heap.Dealloc(self.mailbox, 0)
		self.mbxCap = 0
	}
	if !self.privileged {
		k.heap.Dealloc(self.uStackAddr, 0)
	}
	self.state = Dormant
	k.ids.Return(int(self.tid))

	var next *TCB
	if top := k.rq.PopTop(); top != nil {
		next = top.(*TCB)
	} else {
		next = k.tcbs[TidNull]
	}
	k.resumeTask(next)
	k.tracer.Event("tsk_exit: tid=%d", self.tid)
	k.mu.Unlock()
	runtime.Goexit()
}

// setPrio backs tsk_set_prio, covering both "change my own priority" and
// "change another task's priority". Callers must hold k.mu.
func (k *Kernel) setPrio(caller *TCB, target TaskID, prio Priority) error {
	if prio == PrioRT || prio == PrioNull {
		return kernelerr.ErrInvalidPriority
	}
	id := int(target)
	if id < 0 || id >= len(k.tcbs) || k.tcbs[id] == nil || k.tcbs[id].state == Dormant {
		return kernelerr.ErrUnknownTask
	}
	t := k.tcbs[id]
	if t != caller && t.privileged && !caller.privileged {
		return kernelerr.ErrPermissionDenied
	}

	if t == caller {
		caller.prio = prio
		// Reschedule unless caller's new priority still strictly outranks the
		// queue top: a tie also yields (spec.md's own-id set_prio rule compares
		// "not strictly better than", not "strictly worse than").
		if top := k.scheduler(); top != caller && !outranks(caller, top) {
			k.rq.PopTop()
			caller.state = Ready
			k.rq.Push(caller)
			k.resumeTask(top)
			k.parkSelf(caller)
		}
		return nil
	}

	if t.state != Ready {
		// BLK_MSG or SUSPENDED: not in the ready queue, so only the field
		// changes; it takes effect the next time t becomes ready.
		t.prio = prio
		return nil
	}

	k.rq.RemoveAt(t.QueueIndex())
	t.prio = prio
	if outranks(t, caller) {
		caller.state = Ready
		k.rq.Push(caller)
		k.resumeTask(t)
		k.parkSelf(caller)
	} else {
		k.rq.Push(t)
	}
	return nil
}

// getInfo backs tsk_get_info. Callers must hold k.mu.
func (k *Kernel) getInfo(tid TaskID) (TaskInfo, error) {
	id := int(tid)
	if id < 0 || id >= len(k.tcbs) || k.tcbs[id] == nil {
		return TaskInfo{}, kernelerr.ErrUnknownTask
	}
	t := k.tcbs[id]
	return TaskInfo{
		TID:        t.tid,
		Priority:   t.prio,
		State:      t.state,
		Privileged: t.privileged,
		KStackSize: t.kStackSize,
		UStackSize: t.uStackSize,
		UStackTop:  t.uStackAddr,
		MailboxCap: t.mbxCap,
	}, nil
}
