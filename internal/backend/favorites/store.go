/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package favorites stores the images a user marked as favorite. The backend serves them
// from PostgreSQL in production, SQLite for local use and memory in tests.
package favorites

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"livecanvas/internal/config"
	"livecanvas/internal/domain"
)

// DefaultUser is the single user every favorite belongs to.
const DefaultUser = "default-user"

var ErrUnknownDriver = errors.New("favorites: unknown driver")

// Store is the favorites persistence used by the HTTP handlers.
type Store interface {
	// List returns favorites newest first.
	List(ctx context.Context) ([]domain.Favorite, error)
	// Add inserts a favorite. Adding an id that already exists is a no-op.
	Add(ctx context.Context, f domain.Favorite) error
	// Remove deletes a favorite by image id and reports whether a row was deleted.
	Remove(ctx context.Context, id string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns the store selected by cfg.Driver. SQL stores are migrated before they are
// returned.
func Open(ctx context.Context, cfg config.FavoritesConfig) (Store, error) {
	switch driverName(cfg.Driver) {
	case "memory":
		return NewMemory(), nil
	case "postgres", "sqlite":
		s, err := OpenSQL(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if _, err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
}

// OpenSQL connects to the SQL database named by cfg without migrating it.
func OpenSQL(ctx context.Context, cfg config.FavoritesConfig) (*SQLStore, error) {
	switch driverName(cfg.Driver) {
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("favorites: postgres driver needs a dsn")
		}
		return OpenPostgres(ctx, cfg.DSN)
	case "sqlite":
		if cfg.SQLitePath == "" {
			return nil, errors.New("favorites: sqlite driver needs a path")
		}
		return OpenSQLite(ctx, cfg.SQLitePath)
	case "memory":
		return nil, errors.New("favorites: the memory driver has no schema")
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownDriver, cfg.Driver)
}

func driverName(d string) string {
	switch strings.ToLower(strings.TrimSpace(d)) {
	case "memory", "mem":
		return "memory"
	case "postgres", "postgresql", "pg":
		return "postgres"
	case "sqlite", "sqlite3", "":
		return "sqlite"
	}
	return d
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLStore)(nil)
)
