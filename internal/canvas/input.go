/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package canvas

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	applog "livecanvas/internal/log"
)

// DefaultQuietPeriod is how long input must pause before the prompt is submitted.
const DefaultQuietPeriod = 500 * time.Millisecond

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Clock       clock.Clock
	QuietPeriod time.Duration
	// Context is passed to submissions started by the timer.
	Context context.Context
	// OnSubmit observes every submission attempt made by the coordinator.
	OnSubmit func(text string, op *Op, err error)
	Logger   *slog.Logger
}

// Coordinator debounces prompt input into canvas submissions and routes tile selection.
type Coordinator struct {
	canvas   *Canvas
	clock    clock.Clock
	quiet    time.Duration
	ctx      context.Context
	onSubmit func(string, *Op, error)
	log      *slog.Logger

	mu      sync.Mutex
	timer   *clock.Timer
	seq     uint64
	pending string
	armed   bool
}

func NewCoordinator(c *Canvas, opts CoordinatorOptions) *Coordinator {
	k := &Coordinator{
		canvas:   c,
		clock:    opts.Clock,
		quiet:    opts.QuietPeriod,
		ctx:      opts.Context,
		onSubmit: opts.OnSubmit,
		log:      opts.Logger,
	}
	if k.clock == nil {
		k.clock = clock.New()
	}
	if k.quiet <= 0 {
		k.quiet = DefaultQuietPeriod
	}
	if k.ctx == nil {
		k.ctx = context.Background()
	}
	if k.log == nil {
		k.log = applog.WithComponent("input")
	}
	return k
}

// Input records a keystroke: the prompt field is updated and the quiet-period timer restarts.
// It returns false when the keystroke was dropped because a generation is in flight.
func (k *Coordinator) Input(text string) bool {
	if k.canvas.Generating() {
		k.log.Debug("input dropped", slog.String("reason", "generation in flight"))
		return false
	}
	k.canvas.EditPrompt(text)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopLocked()
	k.pending = text
	k.armed = true
	k.seq++
	seq := k.seq
	k.timer = k.clock.AfterFunc(k.quiet, func() { k.fire(seq) })
	return true
}

func (k *Coordinator) stopLocked() {
	if k.timer != nil {
		k.timer.Stop()
		k.timer = nil
	}
	k.armed = false
}

// fire submits the pending prompt unless a newer keystroke or a cancel superseded seq.
func (k *Coordinator) fire(seq uint64) {
	k.mu.Lock()
	if seq != k.seq || !k.armed {
		k.mu.Unlock()
		return
	}
	text := k.pending
	k.timer = nil
	k.armed = false
	k.mu.Unlock()
	k.submit(text)
}

func (k *Coordinator) submit(text string) (*Op, error) {
	op, err := k.canvas.SubmitPrompt(k.ctx, text)
	switch {
	case err == nil:
	case errors.Is(err, ErrEmptyPrompt), errors.Is(err, ErrInputDisabled), errors.Is(err, ErrGenerationInFlight):
		k.log.Debug("submission ignored", slog.Any("reason", err))
	default:
		k.log.Warn("submission failed", slog.Any("err", err))
	}
	if k.onSubmit != nil {
		k.onSubmit(text, op, err)
	}
	return op, err
}

// Flush submits the pending prompt now instead of waiting for the timer. It returns
// (nil, nil) when nothing is pending.
func (k *Coordinator) Flush() (*Op, error) {
	k.mu.Lock()
	if !k.armed {
		k.mu.Unlock()
		return nil, nil
	}
	text := k.pending
	k.seq++
	k.stopLocked()
	k.mu.Unlock()
	return k.submit(text)
}

// Pending returns the prompt waiting for the timer, if any.
func (k *Coordinator) Pending() (string, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pending, k.armed
}

// Cancel drops a pending submission.
func (k *Coordinator) Cancel() {
	k.mu.Lock()
	k.seq++
	k.stopLocked()
	k.mu.Unlock()
}

// SelectTile cancels pending input and selects id.
func (k *Coordinator) SelectTile(id string) bool {
	k.Cancel()
	return k.canvas.Select(id)
}

// PickHistory puts text into the prompt field and submits it immediately.
func (k *Coordinator) PickHistory(text string) (*Op, error) {
	k.Cancel()
	k.canvas.EditPrompt(text)
	return k.submit(text)
}
