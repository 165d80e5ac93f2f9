/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package idgen

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var idPattern = regexp.MustCompile(`^img_\d+_[0-9a-z]{9}$`)

func TestFormat(t *testing.T) {
	id := New()
	if !idPattern.MatchString(id) {
		t.Fatalf("unexpected id format: %q", id)
	}
}

func TestMillisMonotonicWithFrozenClock(t *testing.T) {
	frozen := time.UnixMilli(1_700_000_000_000)
	g := &Generator{now: func() time.Time { return frozen }, rand: uuid.New}
	var prev int64
	for i := 0; i < 50; i++ {
		parts := strings.Split(g.Next(), "_")
		ms, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			t.Fatalf("parse millis: %v", err)
		}
		if i > 0 && ms != prev+1 {
			t.Fatalf("millis not bumped: prev=%d got=%d", prev, ms)
		}
		prev = ms
	}
}

func TestClockGoingBackwardsNeverRepeats(t *testing.T) {
	ticks := []int64{100, 90, 80, 200}
	i := 0
	g := &Generator{
		now:  func() time.Time { v := ticks[i]; i++; return time.UnixMilli(v) },
		rand: func() uuid.UUID { return uuid.UUID{} },
	}
	want := []string{"img_100_000000000", "img_101_000000000", "img_102_000000000", "img_200_000000000"}
	for _, w := range want {
		if got := g.Next(); got != w {
			t.Fatalf("got %q want %q", got, w)
		}
	}
}

func TestConcurrentUniqueness(t *testing.T) {
	g := NewGenerator()
	const workers, per = 8, 200
	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*per)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < per; i++ {
				id := g.Next()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if len(seen) != workers*per {
		t.Fatalf("expected %d unique ids, got %d", workers*per, len(seen))
	}
}
