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

package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel"
)

// bridgeCmd demonstrates IRQ_send_msg: a bridge task stands in for the UART
// ISR (which spec.md places out of scope as an external collaborator) and
// feeds synthetic input lines into a receiver's mailbox through IRQSendMsg
// rather than SendMsg, so the receiver sees TidUartIRQ as the sender no
// matter which task is actually running when a line "arrives".
type bridgeCmd struct {
	ramSize int
	lines   int
}

func (*bridgeCmd) Name() string     { return "bridge" }
func (*bridgeCmd) Synopsis() string { return "demonstrate IRQ_send_msg via a UART bridge task" }
func (*bridgeCmd) Usage() string {
	return "bridge [-ram bytes] [-lines n]\n"
}

func (c *bridgeCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.ramSize, "ram", 1<<16, "heap arena size in bytes")
	f.IntVar(&c.lines, "lines", 3, "number of synthetic UART lines to deliver")
}

func (c *bridgeCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	k := kernel.New(kernel.BootConfig{RAMSize: c.ramSize, MaxTasks: 5}, int(kernel.TidKCD), int(kernel.TidUartIRQ))
	if err := k.Init(); err != nil {
		log.Printf("kernel init: %v", err)
		return subcommands.ExitFailure
	}

	receiverTid := make(chan kernel.TaskID, 1)
	done := make(chan struct{})
	receiver := func(api *kernel.TaskAPI) {
		if err := api.MboxCreate(256); err != nil {
			log.Printf("receiver: mbx_create: %v", err)
			close(done)
			api.Exit()
		}
		receiverTid <- api.Tid()
		buf := make([]byte, 256)
		for i := 0; i < c.lines; i++ {
			sender, n, err := api.RecvMsg(buf)
			if err != nil {
				log.Printf("receiver: recv_msg: %v", err)
				break
			}
			fmt.Printf("bridge: line %d delivered by tid %d (%d bytes)\n", i, sender, n)
			if sender != kernel.TidUartIRQ {
				log.Printf("receiver: sender tid = %d, want TidUartIRQ", sender)
			}
		}
		close(done)
		api.Exit()
	}

	// bridge plays the role of the interrupt path's in-process client: a
	// real task, but one whose only job is to call IRQSendMsg as lines of
	// synthetic UART input become available, retrying with backoff if the
	// receiver's mailbox is momentarily full.
	bridge := func(api *kernel.TaskAPI) {
		target := <-receiverTid
		for i := 0; i < c.lines; i++ {
			payload := []byte(fmt.Sprintf("line-%d", i))
			msg := make([]byte, kernel.MsgHeaderSize+len(payload))
			binary.LittleEndian.PutUint32(msg[0:4], uint32(len(msg)))
			binary.LittleEndian.PutUint32(msg[4:8], 0)
			copy(msg[kernel.MsgHeaderSize:], payload)

			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = time.Second
			if err := backoff.Retry(func() error {
				return api.IRQSendMsg(target, msg)
			}, bo); err != nil {
				log.Printf("bridge: IRQ_send_msg: %v", err)
				break
			}
		}
		api.Exit()
	}

	if _, err := k.CreateInitial(kernel.PrioMedium, receiver, 0, 4096); err != nil {
		log.Printf("create receiver: %v", err)
		return subcommands.ExitFailure
	}
	if _, err := k.CreateInitial(kernel.PrioMedium, bridge, 0, 4096); err != nil {
		log.Printf("create bridge: %v", err)
		return subcommands.ExitFailure
	}
	k.Start()
	<-done

	fmt.Printf("bridge complete: %d tasks remain active\n", k.TaskCount())
	return subcommands.ExitSuccess
}
