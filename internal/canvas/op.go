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
	"sync"

	"livecanvas/internal/domain"
)

// OpStatus is the confirmation state of an asynchronous command.
type OpStatus int

const (
	// Pending: applied locally, awaiting the remote result.
	Pending OpStatus = iota
	// Committed: the remote side confirmed and the result is applied.
	Committed
	// RolledBack: the remote side failed or the result could not be applied.
	RolledBack
)

func (s OpStatus) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Op tracks one asynchronous command against a single tile.
type Op struct {
	Kind   string
	TileID string

	done chan struct{}
	once sync.Once

	mu     sync.Mutex
	status OpStatus
	err    error
	tile   domain.Tile
}

func newOp(kind, tileID string, tile domain.Tile) *Op {
	return &Op{Kind: kind, TileID: tileID, tile: tile, done: make(chan struct{})}
}

// settledOp returns an op that is already rolled back with err.
func settledOp(kind, tileID string, err error) *Op {
	op := newOp(kind, tileID, domain.Tile{ID: tileID})
	op.settle(RolledBack, domain.Tile{ID: tileID}, err)
	return op
}

func (o *Op) settle(status OpStatus, tile domain.Tile, err error) {
	o.once.Do(func() {
		o.mu.Lock()
		o.status = status
		o.tile = tile
		o.err = err
		o.mu.Unlock()
		close(o.done)
	})
}

// Done is closed once the op is committed or rolled back.
func (o *Op) Done() <-chan struct{} { return o.done }

func (o *Op) Status() OpStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Err is the failure that rolled the op back, nil otherwise.
func (o *Op) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Tile returns the tile as last seen by the op: the optimistic version while pending,
// the applied version once committed and a failed-state copy once rolled back.
func (o *Op) Tile() domain.Tile {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tile.Clone()
}

// Wait blocks until the op settles and returns its error, or ctx's error.
func (o *Op) Wait(ctx context.Context) error {
	select {
	case <-o.done:
		return o.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Batch groups ops issued by one command. It never fails as a whole.
type Batch struct {
	Ops  []*Op
	done chan struct{}
}

func newBatch(ops []*Op) *Batch {
	return &Batch{Ops: ops, done: make(chan struct{})}
}

// Done is closed once every op in the batch has settled.
func (b *Batch) Done() <-chan struct{} { return b.done }

// Wait blocks until all ops settle. Only ctx errors are returned.
func (b *Batch) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Counts returns how many ops committed and how many rolled back so far.
func (b *Batch) Counts() (committed, rolledBack int) {
	for _, op := range b.Ops {
		switch op.Status() {
		case Committed:
			committed++
		case RolledBack:
			rolledBack++
		}
	}
	return committed, rolledBack
}

// Errors returns the errors of rolled back ops.
func (b *Batch) Errors() error {
	var errs []error
	for _, op := range b.Ops {
		if err := op.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
