/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package favorites

import (
	"context"
	"sync"

	"livecanvas/internal/domain"
)

// Memory is an in-process Store. Favorites are lost when the process exits.
type Memory struct {
	mu    sync.RWMutex
	order []string
	items map[string]domain.Favorite
}

func NewMemory() *Memory {
	return &Memory{items: map[string]domain.Favorite{}}
}

func (m *Memory) List(context.Context) ([]domain.Favorite, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Favorite, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		f := m.items[m.order[i]]
		f.Variations = append([]string(nil), f.Variations...)
		out = append(out, f)
	}
	return out, nil
}

func (m *Memory) Add(_ context.Context, f domain.Favorite) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[f.ID]; ok {
		return nil
	}
	f.Variations = append([]string(nil), f.Variations...)
	m.items[f.ID] = f
	m.order = append(m.order, f.ID)
	return nil
}

func (m *Memory) Remove(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return false, nil
	}
	delete(m.items, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (m *Memory) Ping(context.Context) error { return nil }
func (m *Memory) Close() error               { return nil }
