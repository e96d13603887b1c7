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
	"sync"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel/idpool"
	"github.com/peterra3/rtoscore/pkg/sentry/kernel/kmem"
	"github.com/peterra3/rtoscore/pkg/sentry/kernel/sched"
	"github.com/peterra3/rtoscore/pkg/sentry/kernel/trace"
)

// BootConfig configures a Kernel at boot, the Go analogue of the original's
// compile-time RAM/MAX_TASKS constants.
type BootConfig struct {
	// RAMSize is the size in bytes of the arena backing the kernel heap.
	RAMSize int
	// MaxTasks bounds the number of non-idle task ids, [1, MaxTasks).
	MaxTasks int
	// DefaultKStackSize is used by Create callers that pass 0.
	DefaultKStackSize int
	// Tracer receives scheduler events; nil disables tracing.
	Tracer *trace.Tracer
}

// DefaultBootConfig returns reasonable defaults for an interactive boot.
func DefaultBootConfig() BootConfig {
	return BootConfig{
		RAMSize:           1 << 20,
		MaxTasks:          64,
		DefaultKStackSize: 4096,
	}
}

// Kernel is the single-core RTOS core: the heap allocator, the ready queue,
// the task table and the mutex that stands in for "interrupts masked" (see
// SPEC_FULL.md's context-switch section). Every exported operation on Kernel
// and TaskAPI takes this mutex for the duration of its kernel-side work,
// giving the whole module the same single-threaded-kernel semantics the
// original got for free from running on bare metal with interrupts off. The
// exceptions are TaskAPI's heap calls (Alloc, Dealloc, Bytes, CountExtFrag),
// which go straight to the heap and are serialized by its own mutex instead.
type Kernel struct {
	mu sync.Mutex

	cfg BootConfig

	heap *kmem.Heap
	rq   *sched.RunQueue
	ids  *idpool.Pool

	tcbs    []*TCB // indexed by TaskID; tcbs[TidNull] is the idle task
	current *TCB

	tracer *trace.Tracer
}

// New builds and boots a Kernel: the heap arena is allocated (Init must still
// be called to set up its free list), the idle task is
// installed as the initially running task, and reserved is carved out of the
// task id pool before any caller can claim them. reserved mirrors the
// original's fixed KCD and UART-IRQ task ids.
func New(cfg BootConfig, reserved ...int) *Kernel {
	if cfg.MaxTasks <= 0 {
		cfg.MaxTasks = 64
	}
	if cfg.DefaultKStackSize <= 0 {
		cfg.DefaultKStackSize = 4096
	}
	k := &Kernel{
		cfg:    cfg,
		heap:   kmem.New(cfg.RAMSize),
		rq:     sched.New(),
		ids:    idpool.New(cfg.MaxTasks, reserved...),
		tcbs:   make([]*TCB, cfg.MaxTasks),
		tracer: cfg.Tracer,
	}
	idle := newIdleTCB()
	k.tcbs[TidNull] = idle
	k.current = idle
	return k
}

// Init initializes the backing heap. It must be called exactly once before
// any task is created.
func (k *Kernel) Init() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.heap.Init()
}

// CreateInitial is the boot driver's equivalent of tsk_create: it builds a
// task and enqueues it, without evaluating any preemption (there is no
// running task to preempt yet — the boot driver is not itself a task).
// CreateInitial may be called any number of times before Start, the way
// k_tsk_init populates several initial tasks before the scheduler ever runs.
func (k *Kernel) CreateInitial(prio Priority, entry TaskFunc, kStackSize, uStackSize int) (TaskID, error) {
	return k.createInitial(prio, entry, kStackSize, uStackSize, false)
}

// CreateInitialPrivileged is CreateInitial for a privileged initial task: no
// user stack is allocated, mirroring tsk_create's privileged path.
func (k *Kernel) CreateInitialPrivileged(prio Priority, entry TaskFunc, kStackSize int) (TaskID, error) {
	return k.createInitial(prio, entry, kStackSize, 0, true)
}

func (k *Kernel) createInitial(prio Priority, entry TaskFunc, kStackSize, uStackSize int, privileged bool) (TaskID, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	t, err := k.buildTask(prio, entry, kStackSize, uStackSize, privileged)
	if err != nil {
		return TidNull, err
	}
	k.rq.Push(t)
	return t.tid, nil
}

// Start begins execution: the best task enqueued by CreateInitial (or the
// idle task, if none were created) becomes current. It must be called
// exactly once, after every initial task has been created, and does not
// block — the boot driver's own goroutine is not a task and has nothing to
// park.
func (k *Kernel) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	var next *TCB
	if top := k.rq.PopTop(); top != nil {
		next = top.(*TCB)
	} else {
		next = k.tcbs[TidNull]
	}
	k.resumeTask(next)
}

// TaskCount returns the number of non-dormant tasks, including the idle task
// and the currently running task.
func (k *Kernel) TaskCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 1 // current
	for id, t := range k.tcbs {
		if TaskID(id) == k.current.tid {
			continue
		}
		if t != nil && t.state != Dormant {
			n++
		}
	}
	return n
}

// scheduler returns the task that should run next: the ready queue's root,
// or the idle task if the queue is empty. Callers must hold k.mu.
func (k *Kernel) scheduler() *TCB {
	if top := k.rq.Top(); top != nil {
		return top.(*TCB)
	}
	return k.tcbs[TidNull]
}

// outranks reports whether a's priority strictly beats b's (lower wins).
func outranks(a, b *TCB) bool {
	return a.prio < b.prio
}

// resumeTask installs next as the running task and, if it is a real task
// (not idle), releases its gate so its goroutine resumes past the Acquire
// that parked it. Callers must hold k.mu; it does not touch old's state.
func (k *Kernel) resumeTask(next *TCB) {
	next.state = Running
	k.current = next
	if next.tid != TidNull {
		next.gate.Release(1)
	}
}

// parkSelf blocks the calling goroutine (which must be self's own task
// goroutine) until some future resumeTask(self) releases its gate. Callers
// must hold k.mu and self must not be the idle task; parkSelf releases the
// lock while blocked and re-acquires it before returning.
func (k *Kernel) parkSelf(self *TCB) {
	k.mu.Unlock()
	self.gate.Acquire(context.Background(), 1)
	k.mu.Lock()
}
