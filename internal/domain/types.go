/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

import (
	"fmt"
	"time"
)

// This file defines the data model shared by the canvas, the clients and the backend.
// JSON tags follow the wire format used by the REST API and the local canvas snapshot.

// GenerationState is the lifecycle phase of a tile's image content.
type GenerationState string

const (
	StateIdle       GenerationState = "idle"
	StateGenerating GenerationState = "generating"
	StateReady      GenerationState = "ready"
	// StateFailed is reported on rolled-back operations only; failed tiles are removed.
	StateFailed GenerationState = "failed"
)

// Valid reports whether s is one of the known states.
func (s GenerationState) Valid() bool {
	switch s {
	case StateIdle, StateGenerating, StateReady, StateFailed:
		return true
	}
	return false
}

// Position is a point in canvas coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Offset returns p moved by dx, dy.
func (p Position) Offset(dx, dy float64) Position { return Position{X: p.X + dx, Y: p.Y + dy} }

// CanvasSize is the visible canvas area used by the layout engine.
type CanvasSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Tile is one image-generation unit on the canvas.
type Tile struct {
	ID         string          `json:"id"`
	Prompt     string          `json:"prompt"`
	ImageURL   string          `json:"imageUrl"`
	Position   Position        `json:"position"`
	State      GenerationState `json:"state"`
	Variations []string        `json:"variations"`
	IsFavorite bool            `json:"isFavorite"`
}

// Clone returns a copy that shares no slices with t.
func (t Tile) Clone() Tile {
	c := t
	if t.Variations != nil {
		c.Variations = append([]string(nil), t.Variations...)
	}
	return c
}

// Favorite projects a ready tile into its persisted form.
func (t Tile) Favorite() Favorite {
	return Favorite{ID: t.ID, Prompt: t.Prompt, ImageURL: t.ImageURL, Variations: append([]string(nil), t.Variations...)}
}

// Check verifies the per-tile invariants: a known state, an empty url while generating and
// a non-empty url once ready.
func (t Tile) Check() error {
	if t.ID == "" {
		return fmt.Errorf("tile without id")
	}
	if !t.State.Valid() {
		return fmt.Errorf("tile %s: unknown state %q", t.ID, t.State)
	}
	if t.State == StateGenerating && t.ImageURL != "" {
		return fmt.Errorf("tile %s: generating with image url", t.ID)
	}
	if t.State == StateReady && t.ImageURL == "" {
		return fmt.Errorf("tile %s: ready without image url", t.ID)
	}
	return nil
}

// Favorite is a persisted snapshot of a completed tile.
type Favorite struct {
	ID         string   `json:"id" binding:"required"`
	Prompt     string   `json:"prompt"`
	ImageURL   string   `json:"imageUrl" binding:"required"`
	Variations []string `json:"variations,omitempty"`
}

// Tile turns a favorite back into a ready tile at pos.
func (f Favorite) Tile(pos Position) Tile {
	return Tile{
		ID:         f.ID,
		Prompt:     f.Prompt,
		ImageURL:   f.ImageURL,
		Position:   pos,
		State:      StateReady,
		Variations: append([]string(nil), f.Variations...),
		IsFavorite: true,
	}
}

// GenerationResult is the response of one generate call.
type GenerationResult struct {
	Prompt     string   `json:"prompt"`
	ImageURL   string   `json:"imageUrl"`
	Variations []string `json:"variations"`
}

// CanvasSnapshot is the document persisted for the canvas between runs.
type CanvasSnapshot struct {
	Tiles          []Tile    `json:"tiles"`
	SelectedTileID string    `json:"selectedTileId,omitempty"`
	CurrentPrompt  string    `json:"currentPrompt,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
