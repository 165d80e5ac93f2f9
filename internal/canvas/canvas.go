/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package canvas holds the tile collection and its generation lifecycle.
//
// Every command mutates the collection under one mutex before any network call is made.
// Remote results are applied later by tile id under the same mutex; a result for an id
// that no longer exists is discarded. Asynchronous commands return an *Op so callers can
// tell a locally applied change from a confirmed one.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"livecanvas/internal/domain"
	"livecanvas/internal/idgen"
	"livecanvas/internal/layout"
	applog "livecanvas/internal/log"
)

const (
	// HistoryLimit caps the prompt history.
	HistoryLimit = 10
	// MinHistoryLen is the shortest prompt (in characters) worth remembering.
	MinHistoryLen = 3
	// DuplicateOffset is how far a duplicate is placed from its source on both axes.
	DuplicateOffset = 20.0
)

var (
	ErrEmptyPrompt        = errors.New("prompt is empty")
	ErrInputDisabled      = errors.New("input disabled until the prompt is edited")
	ErrGenerationInFlight = errors.New("a generation is already in flight")
	ErrTileNotFound       = errors.New("tile not found")
	ErrTileNotReady       = errors.New("tile is not ready")
	ErrTileRemoved        = errors.New("tile removed before the result arrived")
	ErrFavoritePending    = errors.New("favorite change already pending")
	ErrEmptyImage         = errors.New("generation returned no image")
)

// Generator produces an image and prompt variations for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (domain.GenerationResult, error)
}

// Favorites is the favorites collaborator as seen by the canvas.
type Favorites interface {
	AddFavorite(ctx context.Context, fav domain.Favorite) error
	RemoveFavorite(ctx context.Context, id string) error
}

// IDSource mints tile ids.
type IDSource interface {
	Next() string
}

// Persister receives the canvas state after every mutation. Implementations handle their
// own errors; a failed save never fails a command.
type Persister interface {
	SaveState(snap domain.CanvasSnapshot)
	SaveHistory(history []string)
}

// LayoutPersister is implemented by persisters that can store a position-only change
// more cheaply than a full save.
type LayoutPersister interface {
	SaveLayout(snap domain.CanvasSnapshot)
}

// State is the initial content of a canvas.
type State struct {
	Tiles          []domain.Tile
	SelectedTileID string
	CurrentPrompt  string
	History        []string
}

type Options struct {
	Generator  Generator
	Favorites  Favorites
	Persister  Persister
	IDs        IDSource
	Clock      clock.Clock
	Logger     *slog.Logger
	CanvasSize domain.CanvasSize
	Restored   *State
}

// Canvas is the tile collection plus the prompt and selection state around it.
type Canvas struct {
	gen     Generator
	favs    Favorites
	persist Persister
	ids     IDSource
	clock   clock.Clock
	log     *slog.Logger

	mu           sync.Mutex
	tiles        []domain.Tile
	index        map[string]int
	selected     string
	prompt       string
	inputEnabled bool
	history      []string
	size         domain.CanvasSize
	inflight     int
	favPending   map[string]bool
	layoutSaved  bool
	// busy counts background calls; idle is closed when it drops to zero.
	busy int
	idle chan struct{}
}

// New builds a canvas from opts. Generator is required for prompt and expand commands,
// Favorites for ToggleFavorite.
func New(opts Options) *Canvas {
	c := &Canvas{
		gen:          opts.Generator,
		favs:         opts.Favorites,
		persist:      opts.Persister,
		ids:          opts.IDs,
		clock:        opts.Clock,
		log:          opts.Logger,
		size:         opts.CanvasSize,
		inputEnabled: true,
		index:        map[string]int{},
		favPending:   map[string]bool{},
	}
	if c.ids == nil {
		c.ids = idgen.NewGenerator()
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if c.log == nil {
		c.log = applog.WithComponent("canvas")
	}
	if st := opts.Restored; st != nil {
		for _, t := range st.Tiles {
			if _, dup := c.index[t.ID]; dup || t.ID == "" {
				continue
			}
			c.index[t.ID] = len(c.tiles)
			c.tiles = append(c.tiles, t.Clone())
		}
		if _, ok := c.index[st.SelectedTileID]; ok {
			c.selected = st.SelectedTileID
		}
		c.prompt = st.CurrentPrompt
		c.history = append([]string(nil), st.History...)
		if len(c.history) > HistoryLimit {
			c.history = c.history[:HistoryLimit]
		}
	}
	return c
}

// --- queries ---

// Tiles returns a copy of the collection in insertion order.
func (c *Canvas) Tiles() []domain.Tile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tilesLocked()
}

func (c *Canvas) tilesLocked() []domain.Tile {
	out := make([]domain.Tile, len(c.tiles))
	for i, t := range c.tiles {
		out[i] = t.Clone()
	}
	return out
}

// Tile looks up a tile by id.
func (c *Canvas) Tile(id string) (domain.Tile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return domain.Tile{}, false
	}
	return c.tiles[i].Clone(), true
}

// Selected resolves the selection against the live collection; nil when nothing is
// selected or the selected tile is gone.
func (c *Canvas) Selected() *domain.Tile {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[c.selected]
	if !ok {
		return nil
	}
	t := c.tiles[i].Clone()
	return &t
}

func (c *Canvas) CurrentPrompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt
}

// History returns the prompt history, most recent first.
func (c *Canvas) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.history...)
}

// Generating reports whether a prompt submission is in flight.
func (c *Canvas) Generating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// InputEnabled reports whether SubmitPrompt currently accepts prompts.
func (c *Canvas) InputEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputEnabled
}

func (c *Canvas) CanvasSize() domain.CanvasSize {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Snapshot returns the persisted form of the canvas.
func (c *Canvas) Snapshot() domain.CanvasSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Canvas) snapshotLocked() domain.CanvasSnapshot {
	return domain.CanvasSnapshot{
		Tiles:          c.tilesLocked(),
		SelectedTileID: c.selected,
		CurrentPrompt:  c.prompt,
		Timestamp:      c.clock.Now().UTC(),
	}
}

// Drain waits until no background generation or favorite call is running, including calls
// started by commands issued while it waits.
func (c *Canvas) Drain(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.busy == 0 {
			c.mu.Unlock()
			return nil
		}
		idle := c.idle
		c.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// beginLocked registers n background calls before the lock that started them is released.
func (c *Canvas) beginLocked(n int) {
	if c.busy == 0 {
		c.idle = make(chan struct{})
	}
	c.busy += n
}

// end marks one background call as finished.
func (c *Canvas) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy--
	if c.busy == 0 {
		close(c.idle)
	}
}

// --- internal helpers, c.mu held ---

func (c *Canvas) saveLocked() {
	c.layoutSaved = false
	if c.persist != nil {
		c.persist.SaveState(c.snapshotLocked())
	}
}

// saveLayoutLocked persists a move. The first move after any other save is a full save, so
// the state before a drag keeps its backup; the following moves go through SaveLayout.
func (c *Canvas) saveLayoutLocked() {
	lp, ok := c.persist.(LayoutPersister)
	if !ok || !c.layoutSaved {
		c.saveLocked()
		c.layoutSaved = true
		return
	}
	lp.SaveLayout(c.snapshotLocked())
}

func (c *Canvas) reindexLocked() {
	c.index = make(map[string]int, len(c.tiles))
	for i, t := range c.tiles {
		c.index[t.ID] = i
	}
}

func (c *Canvas) appendLocked(t domain.Tile) {
	c.index[t.ID] = len(c.tiles)
	c.tiles = append(c.tiles, t)
}

func (c *Canvas) prependLocked(t domain.Tile) {
	c.tiles = append([]domain.Tile{t}, c.tiles...)
	c.reindexLocked()
}

func (c *Canvas) removeLocked(id string) bool {
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.tiles = append(c.tiles[:i], c.tiles[i+1:]...)
	c.reindexLocked()
	return true
}

// newIDLocked returns an id not present in the collection.
func (c *Canvas) newIDLocked() string {
	for {
		id := c.ids.Next()
		if _, taken := c.index[id]; !taken {
			return id
		}
	}
}

func (c *Canvas) recordHistoryLocked(text string) {
	if utf8.RuneCountInString(text) < MinHistoryLen {
		return
	}
	next := make([]string, 0, HistoryLimit)
	next = append(next, text)
	for _, h := range c.history {
		if h != text && len(next) < HistoryLimit {
			next = append(next, h)
		}
	}
	c.history = next
	if c.persist != nil {
		c.persist.SaveHistory(append([]string(nil), c.history...))
	}
}

// --- commands ---

// SubmitPrompt generates an image for text. The selected tile is regenerated in place when
// the selection still resolves; otherwise a generating tile is prepended at the default
// position and selected. On failure an inserted tile is removed again.
func (c *Canvas) SubmitPrompt(ctx context.Context, text string) (*Op, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyPrompt
	}
	c.mu.Lock()
	if !c.inputEnabled {
		c.mu.Unlock()
		return nil, ErrInputDisabled
	}
	if c.inflight > 0 {
		c.mu.Unlock()
		return nil, ErrGenerationInFlight
	}
	if c.gen == nil {
		c.mu.Unlock()
		return nil, errors.New("canvas has no generator")
	}
	c.recordHistoryLocked(text)
	c.prompt = text

	var target domain.Tile
	inserted := false
	if i, ok := c.index[c.selected]; ok {
		target = c.tiles[i].Clone()
	} else {
		target = domain.Tile{
			ID:       c.newIDLocked(),
			Prompt:   text,
			Position: layout.DefaultPosition,
			State:    domain.StateGenerating,
		}
		c.prependLocked(target)
		c.selected = target.ID
		inserted = true
	}
	c.inflight++
	op := newOp("submit", target.ID, target)
	c.saveLocked()
	c.beginLocked(1)
	c.mu.Unlock()

	c.log.Debug("submit prompt", slog.String("tile", target.ID), slog.Bool("new_tile", inserted))
	go func() {
		defer c.end()
		res, err := c.gen.Generate(ctx, text)
		c.finish(op, text, inserted, true, res, err)
	}()
	return op, nil
}

// finish applies a generation result to op's tile or rolls it back.
func (c *Canvas) finish(op *Op, prompt string, inserted, submit bool, res domain.GenerationResult, err error) {
	if err == nil && res.ImageURL == "" {
		err = ErrEmptyImage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if submit {
		c.inflight--
	}
	l := c.log.With(slog.String("tile", op.TileID), slog.String("op", op.Kind))

	if err != nil {
		failed := op.Tile()
		failed.State = domain.StateFailed
		if inserted && c.removeLocked(op.TileID) {
			if c.selected == op.TileID {
				c.selected = ""
			}
			c.saveLocked()
		}
		l.Error("generation failed", slog.Any("err", err))
		op.settle(RolledBack, failed, fmt.Errorf("generate %q: %w", prompt, err))
		return
	}

	i, ok := c.index[op.TileID]
	if !ok {
		l.Info("generation result discarded", slog.String("reason", "tile removed"))
		op.settle(RolledBack, op.Tile(), ErrTileRemoved)
		return
	}
	t := &c.tiles[i]
	if res.Prompt != "" {
		t.Prompt = res.Prompt
	} else {
		t.Prompt = prompt
	}
	t.ImageURL = res.ImageURL
	t.Variations = append([]string{}, res.Variations...)
	t.State = domain.StateReady
	t.IsFavorite = false
	c.saveLocked()
	l.Info("generation applied")
	op.settle(Committed, t.Clone(), nil)
}

// Duplicate appends a copy of id with a fresh id, offset by DuplicateOffset. It returns the
// new id, or false when id is not on the canvas. A copy of a generating tile stays generating.
func (c *Canvas) Duplicate(id string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return "", false
	}
	cp := c.tiles[i].Clone()
	cp.ID = c.newIDLocked()
	cp.Position = cp.Position.Offset(DuplicateOffset, DuplicateOffset)
	c.appendLocked(cp)
	c.saveLocked()
	return cp.ID, true
}

// Remove deletes id from the canvas. Favorites are not touched.
func (c *Canvas) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.removeLocked(id) {
		return false
	}
	c.saveLocked()
	return true
}

// Reposition moves id to pos without reordering the collection.
func (c *Canvas) Reposition(id string, pos domain.Position) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.tiles[i].Position = pos
	c.saveLayoutLocked()
	return true
}

// SnapToGrid moves id to the nearest grid cell.
func (c *Canvas) SnapToGrid(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.tiles[i].Position = layout.NearestGridPosition(c.tiles[i].Position, c.size)
	c.saveLocked()
	return true
}

// Expand spawns one generating tile per variation of id around it and generates them
// concurrently. Each tile commits or rolls back on its own; the batch settles once all have.
// An unknown id or a tile without variations yields an empty, settled batch.
func (c *Canvas) Expand(ctx context.Context, id string) *Batch {
	c.mu.Lock()
	i, ok := c.index[id]
	if !ok || len(c.tiles[i].Variations) == 0 || c.gen == nil {
		c.mu.Unlock()
		b := newBatch(nil)
		close(b.done)
		return b
	}
	src := c.tiles[i]
	positions := layout.ExpandPositions(src.Position, len(src.Variations))
	ops := make([]*Op, len(src.Variations))
	for k, v := range src.Variations {
		t := domain.Tile{
			ID:       c.newIDLocked(),
			Prompt:   v,
			Position: positions[k],
			State:    domain.StateGenerating,
		}
		c.appendLocked(t)
		ops[k] = newOp("expand", t.ID, t)
	}
	c.saveLocked()
	c.beginLocked(len(ops))
	c.mu.Unlock()

	c.log.Info("expand", slog.String("tile", id), slog.Int("variations", len(ops)))
	b := newBatch(ops)
	var g errgroup.Group
	for _, op := range ops {
		prompt := op.Tile().Prompt
		g.Go(func() error {
			defer c.end()
			res, err := c.gen.Generate(ctx, prompt)
			c.finish(op, prompt, true, false, res, err)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(b.done)
	}()
	return b
}

// ArrangeToGrid lays every tile out on the grid for the current canvas size.
func (c *Canvas) ArrangeToGrid() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiles = layout.ArrangeToGrid(c.tiles, c.size)
	c.saveLocked()
}

// SetCanvasSize records the size used by ArrangeToGrid and SnapToGrid.
func (c *Canvas) SetCanvasSize(size domain.CanvasSize) {
	c.mu.Lock()
	c.size = size
	c.mu.Unlock()
}

// Clear removes every tile and the selection.
func (c *Canvas) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiles = nil
	c.index = map[string]int{}
	c.selected = ""
	c.saveLocked()
}

// Select makes id the selection, copies its prompt into the prompt field and disables
// submissions until the prompt is edited again.
func (c *Canvas) Select(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i, ok := c.index[id]
	if !ok {
		return false
	}
	c.selected = id
	c.prompt = c.tiles[i].Prompt
	c.inputEnabled = false
	c.saveLocked()
	return true
}

// Deselect clears the selection; the next prompt creates a new tile.
func (c *Canvas) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected == "" {
		return
	}
	c.selected = ""
	c.saveLocked()
}

// EditPrompt replaces the prompt field and re-enables submissions.
func (c *Canvas) EditPrompt(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputEnabled = true
	if c.prompt == text {
		return
	}
	c.prompt = text
	c.saveLocked()
}

// ToggleFavorite adds a ready tile to the favorites store, or removes it when it is already
// a favorite. The local flag changes only after the store confirmed.
func (c *Canvas) ToggleFavorite(ctx context.Context, id string) *Op {
	c.mu.Lock()
	i, ok := c.index[id]
	switch {
	case !ok:
		c.mu.Unlock()
		return settledOp("favorite", id, ErrTileNotFound)
	case c.tiles[i].State != domain.StateReady || c.tiles[i].ImageURL == "":
		c.mu.Unlock()
		return settledOp("favorite", id, ErrTileNotReady)
	case c.favPending[id]:
		c.mu.Unlock()
		return settledOp("favorite", id, ErrFavoritePending)
	case c.favs == nil:
		c.mu.Unlock()
		return settledOp("favorite", id, errors.New("canvas has no favorites store"))
	}
	tile := c.tiles[i].Clone()
	c.favPending[id] = true
	c.beginLocked(1)
	c.mu.Unlock()

	op := newOp("favorite", id, tile)
	add := !tile.IsFavorite
	go func() {
		defer c.end()
		var err error
		if add {
			err = c.favs.AddFavorite(ctx, tile.Favorite())
		} else {
			err = c.favs.RemoveFavorite(ctx, id)
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.favPending, id)
		l := c.log.With(slog.String("tile", id), slog.Bool("add", add))
		if err != nil {
			l.Error("favorite update failed", slog.Any("err", err))
			op.settle(RolledBack, tile, err)
			return
		}
		final := tile
		final.IsFavorite = add
		if j, ok := c.index[id]; ok {
			c.tiles[j].IsFavorite = add
			final = c.tiles[j].Clone()
			c.saveLocked()
		}
		l.Info("favorite updated")
		op.settle(Committed, final, nil)
	}()
	return op
}

// OpenFavorites replaces the collection with favs placed at the canvas center and clears
// the selection.
func (c *Canvas) OpenFavorites(favs []domain.Favorite) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tiles = nil
	c.index = map[string]int{}
	for _, f := range favs {
		if _, dup := c.index[f.ID]; dup || f.ID == "" {
			continue
		}
		c.appendLocked(f.Tile(layout.CenterPosition))
	}
	c.selected = ""
	c.saveLocked()
}
