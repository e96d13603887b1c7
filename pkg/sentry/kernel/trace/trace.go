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

// Package trace prints scheduler events (the kernel emits task created,
// message sent, IRQ message sent and task exited; preemption and blocking
// are not traced) for diagnostics, the Go equivalent of original_source/RTX's
// DEBUG_0-gated printf calls in k_task.c/k_msg.c. Output is throttled with a
// rate.Limiter so a pathological task storm can't flood the console, the
// same way ae_mem.c bounded its own test output against a hardware timer.
package trace

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"
)

// Tracer writes rate-limited scheduler event lines to an io.Writer.
type Tracer struct {
	w       io.Writer
	limiter *rate.Limiter
	dropped uint64
}

// New returns a Tracer writing to w, allowing at most burst events
// immediately and then events/sec thereafter. A nil w disables output
// entirely (Event becomes a no-op), which is how non-verbose boots run.
func New(w io.Writer, eventsPerSec float64, burst int) *Tracer {
	if w == nil {
		return nil
	}
	return &Tracer{w: w, limiter: rate.NewLimiter(rate.Limit(eventsPerSec), burst)}
}

// Event records a scheduler event, dropping it (and counting the drop)
// rather than blocking if the rate limit has been exceeded.
func (t *Tracer) Event(format string, args ...any) {
	if t == nil {
		return
	}
	if !t.limiter.Allow() {
		t.dropped++
		return
	}
	fmt.Fprintf(t.w, "[%s] "+format+"\n", append([]any{time.Now().Format(time.RFC3339Nano)}, args...)...)
}

// Dropped returns the number of events suppressed by the rate limit so far.
func (t *Tracer) Dropped() uint64 {
	if t == nil {
		return 0
	}
	return t.dropped
}
