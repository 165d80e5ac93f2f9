/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package idgen mints tile ids of the form img_<millis>_<suffix>.
package idgen

import (
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SuffixLen is the number of base-36 characters after the timestamp.
const SuffixLen = 9

// Generator produces ids unique within one process. The millisecond component never
// decreases: when the clock has not moved past the last issued value it is bumped by one.
type Generator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
	rand func() uuid.UUID
}

// NewGenerator returns a generator reading the wall clock and random UUIDs.
func NewGenerator() *Generator {
	return &Generator{now: time.Now, rand: uuid.New}
}

// Next returns a fresh id. Safe for concurrent use.
func (g *Generator) Next() string {
	g.mu.Lock()
	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	g.mu.Unlock()
	return fmt.Sprintf("img_%d_%s", ms, suffix(g.rand()))
}

// suffix renders the low bits of u in base 36, left-padded to SuffixLen.
func suffix(u uuid.UUID) string {
	s := new(big.Int).SetBytes(u[:]).Text(36)
	if len(s) >= SuffixLen {
		return s[len(s)-SuffixLen:]
	}
	return strings.Repeat("0", SuffixLen-len(s)) + s
}

var std = NewGenerator()

// New returns an id from the package-level generator.
func New() string { return std.Next() }
