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

import "github.com/peterra3/rtoscore/pkg/sentry/kernel/kmem"

// TaskAPI is the set of kernel calls available to a running task, scoped to
// the task that was handed it: every method acts as if invoked by that task,
// the same way the original's syscalls implicitly read gp_current_task.
// TaskAPI values must not be shared across tasks or retained past a task's
// entry function returning.
type TaskAPI struct {
	k   *Kernel
	tid TaskID
}

func (a *TaskAPI) self() *TCB { return a.k.tcbs[a.tid] }

// Tid backs tsk_gettid.
func (a *TaskAPI) Tid() TaskID { return a.tid }

// Create backs tsk_create.
func (a *TaskAPI) Create(prio Priority, entry TaskFunc, kStackSize, uStackSize int) (TaskID, error) {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	return a.k.create(a.self(), prio, entry, kStackSize, uStackSize, false)
}

// CreatePrivileged backs tsk_create's privileged path: the new task gets no
// user stack and runs entry directly in kernel mode, and it is immune to
// SetPrio from any unprivileged caller.
func (a *TaskAPI) CreatePrivileged(prio Priority, entry TaskFunc, kStackSize int) (TaskID, error) {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	return a.k.create(a.self(), prio, entry, kStackSize, 0, true)
}

// Exit backs tsk_exit. It never returns: the calling task's goroutine is
// terminated with runtime.Goexit before Exit's caller regains control.
func (a *TaskAPI) Exit() {
	a.k.mu.Lock()
	a.k.exit(a.self())
}

// Yield backs tsk_yield.
func (a *TaskAPI) Yield() {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	a.k.yield(a.self())
}

// SetPrio backs tsk_set_prio. tid may be the caller's own id.
func (a *TaskAPI) SetPrio(tid TaskID, prio Priority) error {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	return a.k.setPrio(a.self(), tid, prio)
}

// GetInfo backs tsk_get_info.
func (a *TaskAPI) GetInfo(tid TaskID) (TaskInfo, error) {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	return a.k.getInfo(tid)
}

// MboxCreate backs mbx_create, sizing the caller's own mailbox.
func (a *TaskAPI) MboxCreate(size int) error {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	return a.k.mboxCreate(a.self(), size)
}

// SendMsg backs send_msg. msg is the header (length, type) followed by the
// payload; its length field must equal len(msg).
func (a *TaskAPI) SendMsg(tid TaskID, msg []byte) error {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	return a.k.sendMsg(a.self(), tid, msg)
}

// IRQSendMsg backs IRQ_send_msg, the send variant for an interrupt-like
// context: the message is recorded as sent by TidUartIRQ rather than by the
// caller. Wakeup and preemption of a blocked receiver are the same as
// SendMsg's.
func (a *TaskAPI) IRQSendMsg(tid TaskID, msg []byte) error {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	return a.k.irqSendMsg(a.self(), tid, msg)
}

// RecvMsg backs recv_msg, blocking until a message arrives if the caller's
// mailbox is currently empty.
func (a *TaskAPI) RecvMsg(buf []byte) (TaskID, int, error) {
	a.k.mu.Lock()
	defer a.k.mu.Unlock()
	return a.k.recvMsg(a.self(), buf)
}

// Alloc backs mem_alloc: a general-purpose heap allocation owned by the
// calling task, independent of the task's stacks or mailbox.
func (a *TaskAPI) Alloc(size int) (kmem.Addr, error) {
	return a.k.heap.Alloc(size, uint32(a.tid))
}

// Dealloc backs mem_dealloc.
func (a *TaskAPI) Dealloc(addr kmem.Addr) error {
	return a.k.heap.Dealloc(addr, uint32(a.tid))
}

// Bytes returns a mutable view of length bytes of heap memory at addr, for
// reading or writing an allocation made with Alloc.
func (a *TaskAPI) Bytes(addr kmem.Addr, length int) []byte {
	return a.k.heap.Bytes(addr, length)
}

// CountExtFrag backs mem_count_extfrag.
func (a *TaskAPI) CountExtFrag(size int) int {
	return a.k.heap.CountExtFrag(size)
}
