/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package crash

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"livecanvas/internal/domain"
	"livecanvas/internal/storage"
)

type fixedCanvas struct{}

func (fixedCanvas) Snapshot() domain.CanvasSnapshot {
	return domain.CanvasSnapshot{Tiles: []domain.Tile{{
		ID: "img_1", Prompt: "harbor", ImageURL: "https://img.test/1.png",
		Position: domain.Position{X: 50, Y: 50}, State: domain.StateReady, Variations: []string{},
	}}}
}

// TestRecover_PanickingGoroutine ensures Recover handles a panic, writes a report,
// autosaves the canvas, and does not terminate the test process due to injected exitFn.
func TestRecover_PanickingGoroutine(t *testing.T) {
	oldStderr := os.Stderr
	r, w, _ := os.Pipe()
	os.Stderr = w
	defer func() {
		_ = w.Close()
		os.Stderr = oldStderr
		_, _ = io.Copy(io.Discard, r)
	}()

	called := 0
	oldExit := exitFn
	exitFn = func(code int) { called = code }
	defer func() { exitFn = oldExit }()

	root := t.TempDir()
	store, err := storage.OpenFileStore(root)
	if err != nil {
		t.Fatal(err)
	}
	target := &Target{Dir: root, Canvas: fixedCanvas{}, Store: store, Key: "imagegen-canvas-state"}

	func() {
		defer Recover(target)
		panic("boom")
	}()

	var report string
	bdir := filepath.Join(root, storage.BackupsDirName)
	files, _ := os.ReadDir(bdir)
	for _, f := range files {
		if strings.HasPrefix(f.Name(), "crash-") && strings.HasSuffix(f.Name(), ".log") {
			report = filepath.Join(bdir, f.Name())
			break
		}
	}
	if report == "" {
		t.Fatalf("expected crash report under backups dir")
	}
	b, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.Contains(b, []byte("Panic: boom")) {
		t.Fatalf("report does not contain panic: %s", string(b))
	}

	// the autosave is the newest backup of the canvas state
	data, err := store.LatestBackup("imagegen-canvas-state")
	if err != nil {
		t.Fatalf("no autosave backup: %v", err)
	}
	var snap domain.CanvasSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("autosave is not a snapshot: %v", err)
	}
	if len(snap.Tiles) != 1 || snap.Tiles[0].ID != "img_1" {
		t.Fatalf("unexpected autosave %+v", snap)
	}
	if err := storage.ValidateJSON(storage.SchemaCanvasState, data); err != nil {
		t.Fatalf("autosave fails schema: %v", err)
	}

	if called != 2 {
		t.Fatalf("expected exit code 2, got %d", called)
	}
}
