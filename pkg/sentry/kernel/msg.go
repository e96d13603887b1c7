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

import "github.com/peterra3/rtoscore/pkg/sentry/kernel/kernelerr"

// resolveMailboxTarget looks up id's TCB and checks it can receive a
// message: it must exist, own a mailbox, and not be dormant.
func (k *Kernel) resolveMailboxTarget(id TaskID) (*TCB, error) {
	i := int(id)
	if i < 0 || i >= len(k.tcbs) || k.tcbs[i] == nil {
		return nil, kernelerr.ErrUnknownTask
	}
	t := k.tcbs[i]
	if t.state == Dormant {
		return nil, kernelerr.ErrTargetDormant
	}
	if !t.HasMailbox() {
		return nil, kernelerr.ErrNoMailbox
	}
	return t, nil
}

// sendMsg backs send_msg: enqueues msg into target's mailbox and, if target
// was blocked waiting for exactly this, wakes it — preempting the caller
// immediately if target now strictly outranks it (the same push-caller-and-
// resume pattern tsk_create uses). Callers must hold k.mu.
func (k *Kernel) sendMsg(caller *TCB, targetTid TaskID, msg []byte) error {
	target, err := k.resolveMailboxTarget(targetTid)
	if err != nil {
		return err
	}
	if err := k.mboxEnqueue(target, caller.tid, msg); err != nil {
		return err
	}
	k.tracer.Event("send_msg: %d -> %d len=%d", caller.tid, target.tid, len(msg))
	k.wakeBlockedReceiver(caller, target)
	return nil
}

// irqSendMsg backs IRQ_send_msg: the interrupt-context variant of send_msg.
// The enqueued envelope records TidUartIRQ as the sender rather than caller's
// own tid — caller is only the in-process stand-in that happened to call
// into the kernel on the interrupt's behalf, exactly as k_msg.c swaps the
// recorded sender to TID_UART_IRQ for the duration of the enqueue before
// calling straight through to the same k_send_msg logic send_msg uses. That
// is the only documented difference (spec.md §4.E): the wakeup and
// preemption that follow are identical to sendMsg's, since callers into this
// kernel never run in a true non-preemptible interrupt context — every
// caller, including a bridge task standing in for an ISR, is an ordinary
// task goroutine holding k.mu like any other. Callers must hold k.mu.
func (k *Kernel) irqSendMsg(caller *TCB, targetTid TaskID, msg []byte) error {
	target, err := k.resolveMailboxTarget(targetTid)
	if err != nil {
		return err
	}
	if err := k.mboxEnqueue(target, TidUartIRQ, msg); err != nil {
		return err
	}
	k.tracer.Event("IRQ_send_msg: %d(as uart_irq) -> %d len=%d", caller.tid, target.tid, len(msg))
	k.wakeBlockedReceiver(caller, target)
	return nil
}

// wakeBlockedReceiver wakes target if it was parked in BlkMsg waiting for a
// message, preempting caller immediately if target now strictly outranks it.
// A no-op if target wasn't blocked. Callers must hold k.mu.
func (k *Kernel) wakeBlockedReceiver(caller, target *TCB) {
	if target.state != BlkMsg {
		return
	}
	target.state = Ready
	if outranks(target, caller) {
		caller.state = Ready
		k.rq.Push(caller)
		k.resumeTask(target)
		k.parkSelf(caller)
	} else {
		k.rq.Push(target)
	}
}

// recvMsg backs recv_msg: returns the oldest message in self's mailbox,
// blocking (switching away and parking self's goroutine) if it is currently
// empty. Callers must hold k.mu.
func (k *Kernel) recvMsg(self *TCB, out []byte) (TaskID, int, error) {
	if !self.HasMailbox() {
		return 0, 0, kernelerr.ErrNoMailbox
	}
	if self.mbxUsed == 0 {
		self.state = BlkMsg
		var next *TCB
		if top := k.rq.PopTop(); top != nil {
			next = top.(*TCB)
		} else {
			next = k.tcbs[TidNull]
		}
		k.resumeTask(next)
		k.parkSelf(self)
		// A send_msg targeting self is the only thing that can have set
		// self.state back to Ready and resumed it, and it only does so after
		// a successful mboxEnqueue, so self.mbxUsed > 0 here.
	}
	return k.mboxDequeue(self, out)
}
