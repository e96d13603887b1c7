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

// Package kernel implements the task manager, mailbox and message API —
// spec.md's components C, D and E — as one cohesive package, the way
// gVisor's own pkg/sentry/kernel holds task.go, task_sched.go, task_exit.go
// and friends together rather than splitting tightly-coupled subsystems
// across package boundaries. The heap allocator (component A) and ready
// queue (component B) are self-contained enough to live in their own
// packages, kmem and sched, the way gVisor separates pgalloc out of kernel.
package kernel

import "github.com/peterra3/rtoscore/pkg/sentry/kernel/kmem"

// TaskID identifies a task slot.
type TaskID uint16

// Reserved task ids (spec.md §6). TidKCD and TidUartIRQ are handed out like
// any other id by Create/CreateInitial unless the boot driver passes them to
// New as reserved ids to carve out of the free-id pool; they exist so a
// deployment can set aside the keyboard-command-dispatcher's fixed slot and
// so IRQSendMsg has a stable synthetic sender id to attribute
// interrupt-delivered messages to, matching the original's TID_UART_IRQ.
const (
	TidNull    TaskID = 0 // the idle task
	TidKCD     TaskID = 1 // keyboard-command-dispatcher's fixed slot
	TidUartIRQ TaskID = 2 // synthetic sender id for the UART ISR; never scheduled when reserved
)

// Priority is a task's scheduling priority. Lower numeric values win.
type Priority uint8

// Priority levels (spec.md §6): PrioRT is reserved and rejected by
// tsk_create/tsk_set_prio; PrioNull is reserved for the idle task and is
// likewise rejected as an argument.
const (
	PrioRT Priority = iota
	PrioHigh
	PrioMedium
	PrioLow
	PrioLowest
	PrioNull
)

// State is a TCB's lifecycle state (spec.md §4.C).
type State int

const (
	Dormant State = iota
	Ready
	Running
	BlkMsg
	Suspended
)

func (s State) String() string {
	switch s {
	case Dormant:
		return "DORMANT"
	case Ready:
		return "READY"
	case Running:
		return "RUNNING"
	case BlkMsg:
		return "BLK_MSG"
	case Suspended:
		return "SUSPENDED"
	default:
		return "UNKNOWN"
	}
}

// Sizing constants (spec.md §3, §4.D).
const (
	// MsgHeaderSize is the wire size of {length, type}.
	MsgHeaderSize = 8
	// tidFieldSize is the wire size of a sender task id in the mailbox ring.
	tidFieldSize = 4
	// MinMsgLength is the smallest legal RTX_MSG_HDR.Length: header-only,
	// zero-byte payload.
	MinMsgLength = MsgHeaderSize
	// MinMbxSize is the smallest mailbox capacity mbx_create will accept:
	// room for one sender tid, one header, and zero payload bytes.
	MinMbxSize = tidFieldSize + MsgHeaderSize
	// MinUserStackSize is U_STACK_SIZE: the smallest user stack tsk_create
	// will accept for an unprivileged task, and must be a multiple of 8.
	MinUserStackSize = 32
)

// TaskFunc is a task's entry point. It is handed a TaskAPI scoped to the
// calling task, mirroring the original's bare `void (*task_entry)(void)`
// plus the implicit gp_current_task it read from.
type TaskFunc func(api *TaskAPI)

// TaskInfo is the tsk_get_info snapshot (RTX_TASK_INFO in the original).
type TaskInfo struct {
	TID        TaskID
	Priority   Priority
	State      State
	Privileged bool
	KStackSize int
	UStackSize int
	UStackTop  kmem.Addr
	MailboxCap int
}
