/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStoreSetGetDelete(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenFileStore: %v", err)
	}
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set("imagegen-canvas-state", []byte(`{"tiles":[]}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get("imagegen-canvas-state")
	if err != nil || string(got) != `{"tiles":[]}` {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if err := s.Delete("imagegen-canvas-state"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete("imagegen-canvas-state"); err != nil {
		t.Fatalf("Delete of missing key should be nil, got %v", err)
	}
	if _, err := s.Get("imagegen-canvas-state"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStoreRejectsBadKeys(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"", "  ", "../x", "a/b", ".."} {
		if err := s.Set(k, []byte("1")); err == nil {
			t.Fatalf("expected error for key %q", k)
		}
	}
	if _, err := OpenFileStore(" "); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}

func TestFileStoreBackupsAndPrune(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.KeepBackups = 2
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	s.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }

	for _, v := range []string{"v1", "v2", "v3", "v4"} {
		if err := s.Set("k", []byte(v)); err != nil {
			t.Fatalf("Set %s: %v", v, err)
		}
	}
	list, err := s.Backups("k")
	if err != nil {
		t.Fatalf("Backups: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 backups after prune, got %d: %v", len(list), list)
	}
	latest, err := s.LatestBackup("k")
	if err != nil || string(latest) != "v3" {
		t.Fatalf("LatestBackup = %q, %v", latest, err)
	}
	cur, _ := s.Get("k")
	if string(cur) != "v4" {
		t.Fatalf("current = %q", cur)
	}
	// no temp files left behind
	ents, _ := os.ReadDir(dir)
	for _, e := range ents {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left: %s", e.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "k.json")); err != nil {
		t.Fatalf("value file missing: %v", err)
	}
}

func TestLatestBackupWithoutBackups(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.LatestBackup("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreCopies(t *testing.T) {
	s := NewMemoryStore()
	in := []byte("abc")
	if err := s.Set("k", in); err != nil {
		t.Fatal(err)
	}
	in[0] = 'X'
	got, err := s.Get("k")
	if err != nil || string(got) != "abc" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	got[1] = 'Y'
	again, _ := s.Get("k")
	if string(again) != "abc" {
		t.Fatalf("store aliased returned slice: %q", again)
	}
	_ = s.Delete("k")
	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteBackupBecomesLatest(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	s.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }

	if err := s.Set("k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if err := s.Set("k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	path, err := s.WriteBackup("k", []byte("autosave"))
	if err != nil {
		t.Fatalf("WriteBackup: %v", err)
	}
	if !strings.HasSuffix(path, ".bak") {
		t.Fatalf("unexpected backup path %s", path)
	}
	got, err := s.LatestBackup("k")
	if err != nil || string(got) != "autosave" {
		t.Fatalf("LatestBackup = %q, %v", got, err)
	}
	live, _ := s.Get("k")
	if string(live) != "v2" {
		t.Fatalf("live value changed: %q", live)
	}
	if _, err := s.WriteBackup("a/b", nil); err == nil {
		t.Fatalf("expected bad key error")
	}
}

func TestReplaceKeepsBackupsUntouched(t *testing.T) {
	s, err := OpenFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	s.now = func() time.Time { n++; return base.Add(time.Duration(n) * time.Second) }

	for _, v := range []string{"v1", "v2"} {
		if err := s.Set("k", []byte(v)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2*DefaultKeepBackups; i++ {
		if err := s.Replace("k", []byte("drag")); err != nil {
			t.Fatalf("Replace: %v", err)
		}
	}
	live, err := s.Get("k")
	if err != nil || string(live) != "drag" {
		t.Fatalf("Get = %q, %v", live, err)
	}
	list, err := s.Backups("k")
	if err != nil || len(list) != 1 {
		t.Fatalf("Backups = %v, %v", list, err)
	}
	if got, _ := s.LatestBackup("k"); string(got) != "v1" {
		t.Fatalf("LatestBackup = %q", got)
	}
	if err := s.Replace("../x", nil); err == nil {
		t.Fatal("expected bad key error")
	}

	m := NewMemoryStore()
	if err := m.Replace("k", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Get("k"); string(v) != "x" {
		t.Fatalf("memory Replace = %q", v)
	}
}
