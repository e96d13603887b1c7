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

// Package kernelerr defines the small set of comparable sentinel errors
// returned across the kernel/kmem API boundary. None of them are recovered
// from internally; every kernel entry point surfaces them to its caller
// unchanged (spec §7).
package kernelerr

import "errors"

// Allocator errors.
var (
	ErrNotInitialized = errors.New("kernelerr: heap not initialized")
	ErrZeroSize       = errors.New("kernelerr: zero-size allocation request")
	ErrHeapExhausted  = errors.New("kernelerr: heap exhausted")
	ErrUnknownPointer = errors.New("kernelerr: pointer is not a live allocation")
	ErrNotOwner       = errors.New("kernelerr: caller does not own this allocation")
)

// Task manager errors.
var (
	ErrNoFreeTaskID     = errors.New("kernelerr: no free task id")
	ErrInvalidPriority  = errors.New("kernelerr: invalid priority")
	ErrInvalidStack     = errors.New("kernelerr: invalid stack size")
	ErrNilEntry         = errors.New("kernelerr: nil task entry point")
	ErrUnknownTask      = errors.New("kernelerr: unknown or dormant task id")
	ErrPermissionDenied = errors.New("kernelerr: unprivileged task cannot reprioritize a privileged task")
)

// Mailbox / message API errors.
var (
	ErrMailboxExists   = errors.New("kernelerr: task already owns a mailbox")
	ErrMailboxTooSmall = errors.New("kernelerr: mailbox capacity below minimum")
	ErrNoMailbox       = errors.New("kernelerr: task has no mailbox")
	ErrMailboxFull     = errors.New("kernelerr: mailbox full")
	ErrTargetDormant   = errors.New("kernelerr: target task is dormant")
	ErrMessageTooShort = errors.New("kernelerr: message length below minimum")
	ErrNilBuffer       = errors.New("kernelerr: nil buffer")
	ErrMailboxEmpty    = errors.New("kernelerr: mailbox empty")
	ErrBufferTooSmall  = errors.New("kernelerr: receive buffer smaller than message header")
)
