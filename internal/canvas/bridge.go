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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"livecanvas/internal/domain"
	"livecanvas/internal/layout"
	applog "livecanvas/internal/log"
	"livecanvas/internal/storage"
)

// Storage keys owned by the bridge.
const (
	StateKey   = "imagegen-canvas-state"
	HistoryKey = "imagegen-previous-prompts"
)

// Bridge persists canvas state and prompt history into a storage.Store. It implements
// Persister; read and write failures are logged and never surface to the canvas.
type Bridge struct {
	store storage.Store
	log   *slog.Logger
}

func NewBridge(store storage.Store, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = applog.WithComponent("bridge")
	}
	return &Bridge{store: store, log: logger}
}

// StartOptions carries externally supplied start content, such as a favorite being opened.
type StartOptions struct {
	InitialTiles     []domain.Tile
	InitialPrompt    string
	InitialSelection string
}

func (o StartOptions) fresh() bool {
	return len(o.InitialTiles) == 0 && o.InitialPrompt == "" && o.InitialSelection == ""
}

// SaveState writes the snapshot under StateKey.
func (b *Bridge) SaveState(snap domain.CanvasSnapshot) { b.saveSnapshot(snap, b.store.Set) }

// replacer is a store that can overwrite a value without keeping a backup of it.
type replacer interface {
	Replace(key string, value []byte) error
}

// SaveLayout writes a snapshot that differs from the last saved one only in tile positions.
// Stores that can replace a value skip the backup, so the steps of a drag do not rotate
// older states out of the backups.
func (b *Bridge) SaveLayout(snap domain.CanvasSnapshot) {
	write := b.store.Set
	if r, ok := b.store.(replacer); ok {
		write = r.Replace
	}
	b.saveSnapshot(snap, write)
}

func (b *Bridge) saveSnapshot(snap domain.CanvasSnapshot, write func(string, []byte) error) {
	if snap.Tiles == nil {
		snap.Tiles = []domain.Tile{}
	}
	data, err := json.Marshal(snap)
	if err != nil {
		b.log.Error("encode canvas state failed", slog.Any("err", err))
		return
	}
	if err := write(StateKey, data); err != nil {
		b.log.Error("save canvas state failed", slog.Any("err", err))
	}
}

// SaveHistory writes a non-empty history under HistoryKey.
func (b *Bridge) SaveHistory(history []string) {
	if len(history) == 0 {
		return
	}
	data, err := json.Marshal(history)
	if err != nil {
		b.log.Error("encode prompt history failed", slog.Any("err", err))
		return
	}
	if err := b.store.Set(HistoryKey, data); err != nil {
		b.log.Error("save prompt history failed", slog.Any("err", err))
	}
}

// Restore builds the initial canvas state. Supplied tiles win over the saved ones and are
// moved to the canvas center. The saved selection and prompt are used only on a fresh start,
// and a selection that does not resolve is dropped. Saved tiles come back as they were
// saved, generating ones included; only repeated ids and tiles failing Tile.Check are dropped.
func (b *Bridge) Restore(opts StartOptions) State {
	var st State
	snap, ok := b.loadSnapshot()
	if len(opts.InitialTiles) > 0 {
		for _, t := range opts.InitialTiles {
			c := t.Clone()
			c.Position = layout.CenterPosition
			st.Tiles = append(st.Tiles, c)
		}
	} else if ok {
		st.Tiles = restorable(snap.Tiles, b.log)
	}

	if opts.fresh() {
		if ok {
			st.SelectedTileID = snap.SelectedTileID
			st.CurrentPrompt = snap.CurrentPrompt
		}
	} else {
		st.SelectedTileID = opts.InitialSelection
		st.CurrentPrompt = opts.InitialPrompt
	}
	if st.SelectedTileID != "" && !containsID(st.Tiles, st.SelectedTileID) {
		st.SelectedTileID = ""
	}
	st.History = b.loadHistory()
	return st
}

func restorable(tiles []domain.Tile, l *slog.Logger) []domain.Tile {
	out := make([]domain.Tile, 0, len(tiles))
	seen := make(map[string]bool, len(tiles))
	dropped := 0
	for _, t := range tiles {
		if seen[t.ID] || t.Check() != nil {
			dropped++
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	if dropped > 0 {
		l.Info("dropped tiles on restore", slog.Int("count", dropped))
	}
	return out
}

func containsID(tiles []domain.Tile, id string) bool {
	for _, t := range tiles {
		if t.ID == id {
			return true
		}
	}
	return false
}

// read fetches key and validates it against schema. ok is false on absence or any failure.
func (b *Bridge) read(key, schema string) ([]byte, bool) {
	data, err := b.store.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		b.log.Warn("read failed", slog.String("key", key), slog.Any("err", err))
		return nil, false
	}
	if err := storage.ValidateJSON(schema, data); err != nil {
		b.log.Warn("stored data rejected", slog.String("key", key), slog.Any("err", err))
		return nil, false
	}
	return data, true
}

func (b *Bridge) loadSnapshot() (domain.CanvasSnapshot, bool) {
	var snap domain.CanvasSnapshot
	data, ok := b.read(StateKey, storage.SchemaCanvasState)
	if !ok {
		return snap, false
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		b.log.Warn("decode canvas state failed", slog.Any("err", err))
		return domain.CanvasSnapshot{}, false
	}
	return snap, true
}

func (b *Bridge) loadHistory() []string {
	data, ok := b.read(HistoryKey, storage.SchemaPromptHistory)
	if !ok {
		return nil
	}
	var h []string
	if err := json.Unmarshal(data, &h); err != nil {
		b.log.Warn("decode prompt history failed", slog.Any("err", err))
		return nil
	}
	return h
}

// BackupSource is a store that keeps previous values.
type BackupSource interface {
	LatestBackup(key string) ([]byte, error)
}

// RecoverState replaces the saved canvas state with the newest valid backup.
func (b *Bridge) RecoverState() error {
	bs, ok := b.store.(BackupSource)
	if !ok {
		return errors.New("store keeps no backups")
	}
	data, err := bs.LatestBackup(StateKey)
	if err != nil {
		return fmt.Errorf("latest backup: %w", err)
	}
	if err := storage.ValidateJSON(storage.SchemaCanvasState, data); err != nil {
		return fmt.Errorf("backup rejected: %w", err)
	}
	if err := b.store.Set(StateKey, data); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	return nil
}
