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
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel"
	"github.com/peterra3/rtoscore/pkg/sentry/kernel/trace"
)

// bootCmd boots a Kernel in this process and runs a small producer/consumer
// demo over the message-passing API, the host-process equivalent of flashing
// the original image to a board and watching its UART log.
type bootCmd struct {
	ramSize  int
	maxTasks int
	messages int
	verbose  bool
	notify   bool
}

func (*bootCmd) Name() string     { return "boot" }
func (*bootCmd) Synopsis() string { return "boot the kernel and run the builtin producer/consumer demo" }
func (*bootCmd) Usage() string {
	return "boot [-ram bytes] [-max-tasks n] [-messages n] [-v]\n"
}

func (c *bootCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.ramSize, "ram", 1<<20, "heap arena size in bytes")
	f.IntVar(&c.maxTasks, "max-tasks", 64, "maximum number of non-idle tasks")
	f.IntVar(&c.messages, "messages", 5, "number of messages the demo producer sends")
	f.BoolVar(&c.verbose, "v", false, "trace scheduler events to stderr")
	f.BoolVar(&c.notify, "notify", false, "send systemd READY=1 once the demo completes")
}

func (c *bootCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	var tracer *trace.Tracer
	if c.verbose {
		tracer = trace.New(os.Stderr, 50, 10)
	}
	k := kernel.New(kernel.BootConfig{
		RAMSize:           c.ramSize,
		MaxTasks:          c.maxTasks,
		DefaultKStackSize: 4096,
		Tracer:            tracer,
	})
	if err := k.Init(); err != nil {
		log.Printf("kernel init: %v", err)
		return subcommands.ExitFailure
	}

	consumerTid := make(chan kernel.TaskID, 1)
	g, gctx := errgroup.WithContext(ctx)
	producerDone := make(chan struct{})
	consumerDone := make(chan struct{})

	consumer := func(api *kernel.TaskAPI) {
		if err := api.MboxCreate(256); err != nil {
			log.Printf("consumer: mbx_create: %v", err)
			close(consumerDone)
			api.Exit()
		}
		consumerTid <- api.Tid()
		buf := make([]byte, 256)
		for i := 0; i < c.messages; i++ {
			sender, n, err := api.RecvMsg(buf)
			if err != nil {
				log.Printf("consumer: recv_msg: %v", err)
				break
			}
			fmt.Printf("consumer: received %d bytes from tid %d\n", n, sender)
		}
		close(consumerDone)
		api.Exit()
	}

	producer := func(api *kernel.TaskAPI) {
		target := <-consumerTid
		for i := 0; i < c.messages; i++ {
			payload := make([]byte, 4)
			binary.LittleEndian.PutUint32(payload, uint32(i))
			msg := make([]byte, kernel.MsgHeaderSize+len(payload))
			binary.LittleEndian.PutUint32(msg[0:4], uint32(len(msg)))
			binary.LittleEndian.PutUint32(msg[4:8], 1)
			copy(msg[kernel.MsgHeaderSize:], payload)

			// A fixed-size mailbox can legitimately be full if the consumer
			// falls behind; retry with backoff rather than failing the demo.
			bo := backoff.NewExponentialBackOff()
			bo.MaxElapsedTime = time.Second
			err := backoff.Retry(func() error {
				err := api.SendMsg(target, msg)
				if err != nil {
					return err
				}
				return nil
			}, bo)
			if err != nil {
				log.Printf("producer: send_msg: %v", err)
				break
			}
		}
		close(producerDone)
		api.Exit()
	}

	if _, err := k.CreateInitial(kernel.PrioHigh, consumer, 0, 4096); err != nil {
		log.Printf("create consumer: %v", err)
		return subcommands.ExitFailure
	}
	if _, err := k.CreateInitial(kernel.PrioMedium, producer, 0, 4096); err != nil {
		log.Printf("create producer: %v", err)
		return subcommands.ExitFailure
	}
	k.Start()

	g.Go(func() error {
		select {
		case <-producerDone:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		select {
		case <-consumerDone:
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		log.Printf("demo: %v", err)
		return subcommands.ExitFailure
	}

	fmt.Printf("demo complete: %d tasks remain active\n", k.TaskCount())
	if c.notify {
		if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			log.Printf("sd_notify: %v", err)
		}
	}
	return subcommands.ExitSuccess
}
