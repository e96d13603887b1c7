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
	"encoding/binary"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel/kernelerr"
)

func align4(n int) int { return (n + 3) &^ 3 }

// Wire offsets within one mailbox envelope: sender tid, then the caller's
// header (length, type), then the payload padded to a 4-byte multiple
// (spec.md §3, §4.D).
const (
	envTidOff    = 0
	envLengthOff = tidFieldSize
	envTypeOff   = tidFieldSize + 4
)

// mboxCreate backs mbx_create: allocates a size-byte circular buffer on the
// kernel heap (owned by task id 0, the kernel itself, since the ring outlives
// any single send/recv call and is reclaimed only on tsk_exit) and wires it
// into self's TCB. Callers must hold k.mu.
func (k *Kernel) mboxCreate(self *TCB, size int) error {
	if self.HasMailbox() {
		return kernelerr.ErrMailboxExists
	}
	if size < MinMbxSize {
		return kernelerr.ErrMailboxTooSmall
	}
	addr, err := k.heap.Alloc(size, 0)
	if err != nil {
		return err
	}
	self.mailbox = addr
	self.mbxCap = size
	self.mbxHead = 0
	self.mbxTail = 0
	self.mbxUsed = 0
	return nil
}

// mboxWrite copies data into t's ring starting at its write cursor, wrapping
// as needed, and advances the cursor and used-byte count. Callers must have
// already verified data fits in the free space.
func (k *Kernel) mboxWrite(t *TCB, data []byte) {
	buf := k.heap.Bytes(t.mailbox, t.mbxCap)
	for i, b := range data {
		buf[(t.mbxTail+i)%t.mbxCap] = b
	}
	t.mbxTail = (t.mbxTail + len(data)) % t.mbxCap
	t.mbxUsed += len(data)
}

// mboxRead copies n bytes out of t's ring starting at its read cursor,
// advancing the cursor and used-byte count, and returns them as a fresh
// slice (the ring storage itself is live and will be overwritten by later
// sends).
func (k *Kernel) mboxRead(t *TCB, n int) []byte {
	buf := k.heap.Bytes(t.mailbox, t.mbxCap)
	out := make([]byte, n)
	for i := range out {
		out[i] = buf[(t.mbxHead+i)%t.mbxCap]
	}
	t.mbxHead = (t.mbxHead + n) % t.mbxCap
	t.mbxUsed -= n
	return out
}

// mboxPeekUint32 reads a little-endian uint32 at offset bytes past t's
// current read cursor without consuming it.
func (k *Kernel) mboxPeekUint32(t *TCB, offset int) uint32 {
	buf := k.heap.Bytes(t.mailbox, t.mbxCap)
	var b [4]byte
	for i := range b {
		b[i] = buf[(t.mbxHead+offset+i)%t.mbxCap]
	}
	return binary.LittleEndian.Uint32(b[:])
}

// mboxEnqueue writes one complete envelope into target's mailbox: sender,
// then msg verbatim (msg is the caller's header-plus-payload buffer, just as
// send_msg received it), padded to a 4-byte multiple. msg must be at least
// MsgHeaderSize bytes and its length field must match len(msg) exactly,
// mirroring the original's RTX_MSG_HDR.length sanity check.
func (k *Kernel) mboxEnqueue(target *TCB, sender TaskID, msg []byte) error {
	if len(msg) < MinMsgLength {
		return kernelerr.ErrMessageTooShort
	}
	if int(binary.LittleEndian.Uint32(msg[0:4])) != len(msg) {
		return kernelerr.ErrMessageTooShort
	}
	payloadLen := len(msg) - MsgHeaderSize
	need := tidFieldSize + MsgHeaderSize + align4(payloadLen)
	if need > target.mbxCap-target.mbxUsed {
		return kernelerr.ErrMailboxFull
	}

	tidBuf := make([]byte, tidFieldSize)
	binary.LittleEndian.PutUint32(tidBuf, uint32(sender))
	k.mboxWrite(target, tidBuf)
	k.mboxWrite(target, msg[:MsgHeaderSize])

	padded := make([]byte, align4(payloadLen))
	copy(padded, msg[MsgHeaderSize:])
	k.mboxWrite(target, padded)
	return nil
}

// mboxDequeue pops the oldest message out of self's mailbox into out. The
// message is always removed from the ring once popping begins, even if out
// turns out to be too small to hold it: recv_msg is lossy on a too-small
// buffer rather than leaving the message queued for a retry, matching the
// original's behavior (SPEC_FULL.md's Open Question decision). A nil out is
// rejected before touching the ring at all, since it can never be a
// legitimate caller mistake worth being lossy about.
func (k *Kernel) mboxDequeue(self *TCB, out []byte) (sender TaskID, n int, err error) {
	if out == nil {
		return 0, 0, kernelerr.ErrNilBuffer
	}
	if self.mbxUsed == 0 {
		return 0, 0, kernelerr.ErrMailboxEmpty
	}

	senderRaw := k.mboxPeekUint32(self, envTidOff)
	length := k.mboxPeekUint32(self, envLengthOff)
	payloadLen := int(length) - MsgHeaderSize

	k.mboxRead(self, tidFieldSize)
	hdr := k.mboxRead(self, MsgHeaderSize)
	padded := k.mboxRead(self, align4(payloadLen))

	if len(out) < MsgHeaderSize {
		return TaskID(senderRaw), 0, kernelerr.ErrBufferTooSmall
	}
	n = copy(out, hdr)
	n += copy(out[n:], padded[:payloadLen])
	return TaskID(senderRaw), n, nil
}
