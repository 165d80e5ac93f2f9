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
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	applog "livecanvas/internal/log"
)

const (
	BackupsDirName = "backups"
	// DefaultKeepBackups is how many backups per key survive pruning.
	DefaultKeepBackups = 5
	fileExt            = ".json"
	backupStamp        = "20060102-150405.000000000"
)

// ErrNotFound is returned by Get when the key holds no value.
var ErrNotFound = errors.New("storage: key not found")

// Store is a durable key-value slot set.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// FileStore keeps one file per key below Dir.
type FileStore struct {
	Dir         string
	KeepBackups int

	mu  sync.Mutex
	now func() time.Time
}

// OpenFileStore creates dir (and its backups folder) if needed.
func OpenFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("storage dir is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, BackupsDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{Dir: dir, KeepBackups: DefaultKeepBackups, now: time.Now}, nil
}

// keyFile maps a key to a safe file name.
func keyFile(key string) (string, error) {
	k := strings.TrimSpace(key)
	if k == "" {
		return "", errors.New("empty key")
	}
	if strings.ContainsAny(k, "/\\\x00") || k == "." || k == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return k + fileExt, nil
}

func (s *FileStore) Get(key string) ([]byte, error) {
	name, err := keyFile(key)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(filepath.Join(s.Dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return b, nil
}

// Set writes value with transactional semantics and a timestamped backup of the previous value.
func (s *FileStore) Set(key string, value []byte) error { return s.write(key, value, true) }

// Replace writes value with the same transactional semantics as Set but keeps no backup of
// the previous value. Backups are left untouched.
func (s *FileStore) Replace(key string, value []byte) error { return s.write(key, value, false) }

func (s *FileStore) write(key string, value []byte, backup bool) error {
	name, err := keyFile(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	target := filepath.Join(s.Dir, name)
	bdir := filepath.Join(s.Dir, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return fmt.Errorf("ensure backups dir: %w", err)
	}
	if _, statErr := os.Stat(target); backup && statErr == nil {
		bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", name, s.clock().Format(backupStamp)))
		if cerr := copyFile(target, bpath); cerr != nil {
			return fmt.Errorf("backup %s: %w", key, cerr)
		}
		s.prune(name)
	}

	temp := filepath.Join(s.Dir, fmt.Sprintf(".%s.tmp-%d-%d", name, os.Getpid(), rand.Int()))
	if werr := writeFileSync(temp, value); werr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("write temp %s: %w", key, werr)
	}
	if rerr := os.Rename(temp, target); rerr != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("replace %s: %w", key, rerr)
	}
	return nil
}

// Delete removes the key. Backups stay so the value can be recovered.
func (s *FileStore) Delete(key string) error {
	name, err := keyFile(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(filepath.Join(s.Dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// WriteBackup stores value as the newest backup of key without touching the live value.
// Crash autosaves use it so a later recovery picks them up.
func (s *FileStore) WriteBackup(key string, value []byte) (string, error) {
	name, err := keyFile(key)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bdir := filepath.Join(s.Dir, BackupsDirName)
	if err := os.MkdirAll(bdir, 0o755); err != nil {
		return "", fmt.Errorf("ensure backups dir: %w", err)
	}
	bpath := filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", name, s.clock().Format(backupStamp)))
	if err := writeFileSync(bpath, value); err != nil {
		return "", fmt.Errorf("write backup %s: %w", key, err)
	}
	s.prune(name)
	return bpath, nil
}

// Backups lists backup files for key, oldest first.
func (s *FileStore) Backups(key string) ([]string, error) {
	name, err := keyFile(key)
	if err != nil {
		return nil, err
	}
	return s.backupsFor(name)
}

func (s *FileStore) backupsFor(name string) ([]string, error) {
	bdir := filepath.Join(s.Dir, BackupsDirName)
	ents, err := os.ReadDir(bdir)
	if err != nil {
		return nil, fmt.Errorf("read backups dir: %w", err)
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if strings.HasPrefix(n, name+".") && strings.HasSuffix(n, ".bak") {
			out = append(out, filepath.Join(bdir, n))
		}
	}
	sort.Strings(out) // timestamp in name yields lexicographic order
	return out, nil
}

// LatestBackup returns the newest backup content for key.
func (s *FileStore) LatestBackup(key string) ([]byte, error) {
	list, err := s.Backups(key)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	b, err := os.ReadFile(list[len(list)-1])
	if err != nil {
		return nil, fmt.Errorf("read latest backup: %w", err)
	}
	return b, nil
}

func (s *FileStore) prune(name string) {
	keep := s.KeepBackups
	if keep <= 0 {
		return
	}
	list, err := s.backupsFor(name)
	if err != nil || len(list) <= keep {
		return
	}
	for _, p := range list[:len(list)-keep] {
		if err := os.Remove(p); err != nil {
			applog.WithComponent("storage").Warn("prune backup failed", slog.String("path", p), slog.Any("err", err))
		}
	}
}

func (s *FileStore) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

// writeFileSync writes data to a file, ensures it is flushed to disk.
func writeFileSync(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// copyFile copies a file from src to dst (overwrites dst if exists).
func copyFile(src, dst string) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sf.Close(); err == nil {
			err = cerr
		}
	}()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(df, sf); err != nil {
		return err
	}
	return df.Sync()
}

// MemoryStore is a Store kept in memory, for tests and ephemeral sessions.
type MemoryStore struct {
	mu sync.RWMutex
	m  map[string][]byte
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{m: map[string][]byte{}} }

func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) Set(key string, value []byte) error {
	s.mu.Lock()
	s.m[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

// Replace is Set; a MemoryStore keeps no backups.
func (s *MemoryStore) Replace(key string, value []byte) error { return s.Set(key, value) }

func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}
