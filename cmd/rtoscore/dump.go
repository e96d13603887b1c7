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
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/gofrs/flock"
	"github.com/google/subcommands"

	"github.com/peterra3/rtoscore/pkg/sentry/kernel"
	"github.com/peterra3/rtoscore/pkg/sentry/kernel/kmem"
)

// dumpCmd allocates a churn of heap blocks, frees half of them to create
// fragmentation, and writes a mem_count_extfrag-style report to a file,
// taking an exclusive lock so two dump runs against the same path can't
// interleave their writes.
type dumpCmd struct {
	ramSize int
	blocks  int
	out     string
}

func (*dumpCmd) Name() string     { return "dump" }
func (*dumpCmd) Synopsis() string { return "allocate a heap churn and report external fragmentation" }
func (*dumpCmd) Usage() string {
	return "dump [-ram bytes] [-blocks n] [-out path]\n"
}

func (c *dumpCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.ramSize, "ram", 1<<16, "heap arena size in bytes")
	f.IntVar(&c.blocks, "blocks", 64, "number of blocks to allocate before freeing every other one")
	f.StringVar(&c.out, "out", "rtoscore-dump.txt", "file to write the fragmentation report to")
}

func (c *dumpCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	k := kernel.New(kernel.BootConfig{RAMSize: c.ramSize, MaxTasks: 4})
	if err := k.Init(); err != nil {
		log.Printf("kernel init: %v", err)
		return subcommands.ExitFailure
	}

	done := make(chan string, 1)
	worker := func(api *kernel.TaskAPI) {
		addrs := make([]kmem.Addr, 0, c.blocks)
		for i := 0; i < c.blocks; i++ {
			addr, err := api.Alloc(32)
			if err != nil {
				done <- fmt.Sprintf("alloc %d: %v", i, err)
				api.Exit()
			}
			addrs = append(addrs, addr)
		}
		for i := 0; i < len(addrs); i += 2 {
			if err := api.Dealloc(addrs[i]); err != nil {
				done <- fmt.Sprintf("dealloc %d: %v", i, err)
				api.Exit()
			}
		}
		report := fmt.Sprintf(
			"blocks=%d freed=%d extfrag(<48)=%d extfrag(<96)=%d\n",
			c.blocks, (len(addrs)+1)/2, api.CountExtFrag(48), api.CountExtFrag(96),
		)
		done <- report
		api.Exit()
	}

	if _, err := k.CreateInitial(kernel.PrioMedium, worker, 0, 4096); err != nil {
		log.Printf("create worker: %v", err)
		return subcommands.ExitFailure
	}
	k.Start()
	report := <-done

	lock := flock.New(c.out + ".lock")
	if err := lock.Lock(); err != nil {
		log.Printf("lock %s: %v", c.out+".lock", err)
		return subcommands.ExitFailure
	}
	defer lock.Unlock()

	f, err := os.Create(c.out)
	if err != nil {
		log.Printf("create %s: %v", c.out, err)
		return subcommands.ExitFailure
	}
	defer f.Close()
	if _, err := f.WriteString(report); err != nil {
		log.Printf("write %s: %v", c.out, err)
		return subcommands.ExitFailure
	}

	fmt.Print(report)
	return subcommands.ExitSuccess
}
