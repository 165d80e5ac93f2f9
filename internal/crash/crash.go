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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"livecanvas/internal/domain"
	applog "livecanvas/internal/log"
	"livecanvas/internal/storage"
	"livecanvas/internal/telemetry"
	"livecanvas/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Snapshotter is the live canvas.
type Snapshotter interface {
	Snapshot() domain.CanvasSnapshot
}

// BackupWriter stores an extra backup next to a key's live value.
type BackupWriter interface {
	WriteBackup(key string, value []byte) (string, error)
}

// Target tells Recover where the canvas lives. Any field may be empty.
type Target struct {
	// Dir is the state directory; reports go to Dir/backups.
	Dir    string
	Canvas Snapshotter
	Store  BackupWriter
	// Key is the storage key the canvas state is saved under.
	Key string
}

// Recover captures a panic, logs an error with stacktrace,
// writes an error report file, and attempts a crash-safe autosave
// of the canvas (if provided).
//
// Usage: defer crash.Recover(t)
func Recover(t *Target) {
	if r := recover(); r != nil {
		l := applog.WithComponent("crash")
		stack := debug.Stack()
		l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

		reportPath, _ := writeReport(t, r, stack)
		if path, err := Autosave(t); err != nil {
			l.Error("autosave crash snapshot failed", slog.Any("err", err))
		} else if path != "" {
			l.Info("autosave crash snapshot written", slog.String("path", path))
		}

		if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
			l.Error("failed to write crash message to stderr", slog.Any("err", err))
		}
		if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
			l.Error("failed to write version info to stderr", slog.Any("err", err))
		}
		exitFn(2)
	}
}

// Autosave writes the canvas snapshot as the newest backup of the state key, so
// "livecanvas canvas recover" restores it. It returns "" when there is nothing to save.
func Autosave(t *Target) (string, error) {
	if t == nil || t.Canvas == nil || t.Store == nil || t.Key == "" {
		return "", nil
	}
	snap := t.Canvas.Snapshot()
	if snap.Tiles == nil {
		snap.Tiles = []domain.Tile{}
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return "", err
	}
	return t.Store.WriteBackup(t.Key, b)
}

func writeReport(t *Target, panicVal any, stack []byte) (string, error) {
	dir := os.TempDir()
	if t != nil && t.Dir != "" {
		dir = filepath.Join(t.Dir, storage.BackupsDirName)
		_ = os.MkdirAll(dir, 0o755)
	}
	stamp := time.Now().Format("20060102-150405")
	fname := fmt.Sprintf("crash-%s.log", stamp)
	path := filepath.Join(dir, fname)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "LiveCanvas Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if t != nil {
		_, _ = fmt.Fprintf(&buf, "StateDir: %s\n", t.Dir)
		if t.Canvas != nil {
			snap := t.Canvas.Snapshot()
			_, _ = fmt.Fprintf(&buf, "Tiles: %d\n", len(snap.Tiles))
		}
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	// prompts stay local; only the report text is uploaded, and only with opt-in
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
