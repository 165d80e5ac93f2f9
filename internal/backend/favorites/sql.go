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
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"livecanvas/internal/domain"
	applog "livecanvas/internal/log"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// dialect captures the SQL differences between the supported databases.
type dialect struct {
	name          string
	migrationsDir string
	ensureTable   string
	// bind rewrites "?" placeholders into the dialect's form.
	bind func(q string) string
}

var postgres = dialect{
	name:          "postgres",
	migrationsDir: "migrations/postgres",
	ensureTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	bind: numbered,
}

var sqlite = dialect{
	name:          "sqlite",
	migrationsDir: "migrations/sqlite",
	ensureTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	bind: func(q string) string { return q },
}

// numbered turns "?" into "$1", "$2", ...
func numbered(q string) string {
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore is a Store on database/sql, backed by pgx or modernc sqlite.
type SQLStore struct {
	db   *sql.DB
	d    dialect
	user string
	log  *slog.Logger
}

// OpenPostgres connects through the pgx stdlib driver and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return newSQLStore(db, postgres), nil
}

// OpenSQLite opens (or creates) the database file at p.
func OpenSQLite(ctx context.Context, p string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(p))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection avoids SQLITE_BUSY between writers
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite wal: %w", err)
	}
	return newSQLStore(db, sqlite), nil
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	l := applog.WithComponent("favorites").With(slog.String("driver", d.name))
	return &SQLStore{db: db, d: d, user: DefaultUser, log: l}
}

// Driver names the database behind the store.
func (s *SQLStore) Driver() string { return s.d.name }

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) List(ctx context.Context) ([]domain.Favorite, error) {
	q := s.d.bind(`SELECT image_id, prompt, image_url, variations FROM favorites
		WHERE user_id = ? ORDER BY created_at DESC, id DESC`)
	rows, err := s.db.QueryContext(ctx, q, s.user)
	if err != nil {
		return nil, fmt.Errorf("select favorites: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			s.log.Warn("rows close", slog.Any("err", err))
		}
	}()
	list := []domain.Favorite{}
	for rows.Next() {
		var f domain.Favorite
		var vars sql.NullString
		if err := rows.Scan(&f.ID, &f.Prompt, &f.ImageURL, &vars); err != nil {
			return nil, fmt.Errorf("scan favorite: %w", err)
		}
		if vars.Valid && vars.String != "" {
			if err := json.Unmarshal([]byte(vars.String), &f.Variations); err != nil {
				s.log.Warn("bad variations column", slog.String("id", f.ID), slog.Any("err", err))
			}
		}
		list = append(list, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *SQLStore) Add(ctx context.Context, f domain.Favorite) error {
	vars := f.Variations
	if vars == nil {
		vars = []string{}
	}
	b, err := json.Marshal(vars)
	if err != nil {
		return err
	}
	q := s.d.bind(`INSERT INTO favorites (user_id, image_id, prompt, image_url, variations)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT (user_id, image_id) DO NOTHING`)
	if _, err := s.db.ExecContext(ctx, q, s.user, f.ID, f.Prompt, f.ImageURL, string(b)); err != nil {
		return fmt.Errorf("insert favorite: %w", err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, id string) (bool, error) {
	q := s.d.bind(`DELETE FROM favorites WHERE user_id = ? AND image_id = ?`)
	res, err := s.db.ExecContext(ctx, q, s.user, id)
	if err != nil {
		return false, fmt.Errorf("delete favorite: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Migration is one embedded schema file.
type Migration struct {
	Version int64  `json:"version"`
	Name    string `json:"name"`
}

// Migrate applies embedded migrations in filename order and records each in
// schema_migrations. It returns the migrations applied by this call.
func (s *SQLStore) Migrate(ctx context.Context) ([]Migration, error) {
	l := applog.WithOperation(s.log, "migrate")
	all, err := s.migrations()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, s.d.ensureTable); err != nil {
		return nil, fmt.Errorf("ensure schema_migrations: %w", err)
	}
	done, err := s.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var applied []Migration
	for _, m := range all {
		if done[m.Version] {
			continue
		}
		b, err := migrationsFS.ReadFile(path.Join(s.d.migrationsDir, m.Name))
		if err != nil {
			return applied, err
		}
		if strings.TrimSpace(string(b)) == "" {
			continue
		}
		l.Info("applying migration", slog.String("file", m.Name))
		if err := s.apply(ctx, m, string(b)); err != nil {
			return applied, fmt.Errorf("apply %s: %w", m.Name, err)
		}
		applied = append(applied, m)
	}
	return applied, nil
}

func (s *SQLStore) apply(ctx context.Context, m Migration, text string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, text); err != nil {
		_ = tx.Rollback()
		return err
	}
	q := s.d.bind(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`)
	if _, err := tx.ExecContext(ctx, q, m.Version, m.Name); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) appliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("select schema_migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := map[int64]bool{}
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *SQLStore) migrations() ([]Migration, error) {
	entries, err := migrationsFS.ReadDir(s.d.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".sql") {
			continue
		}
		v, err := parseVersion(e.Name())
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: v, Name: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func parseVersion(name string) (int64, error) {
	base := path.Base(name)
	prefix, _, ok := strings.Cut(base, "_")
	if !ok {
		return 0, errors.New("invalid migration filename: " + name)
	}
	v, err := strconv.ParseInt(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse version from %s: %w", name, err)
	}
	return v, nil
}

// Column describes one column of the favorites table.
type Column struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Columns reports the structure of the favorites table as the database sees it.
func (s *SQLStore) Columns(ctx context.Context) ([]Column, error) {
	if s.d.name == sqlite.name {
		return s.sqliteColumns(ctx)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT column_name, data_type, is_nullable
		FROM information_schema.columns WHERE table_name = 'favorites' ORDER BY ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("describe favorites: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var cols []Column
	for rows.Next() {
		var c Column
		var nullable string
		if err := rows.Scan(&c.Name, &c.Type, &nullable); err != nil {
			return nil, err
		}
		c.Nullable = strings.EqualFold(nullable, "YES")
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *SQLStore) sqliteColumns(ctx context.Context) ([]Column, error) {
	rows, err := s.db.QueryContext(ctx, `PRAGMA table_info(favorites)`)
	if err != nil {
		return nil, fmt.Errorf("describe favorites: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var cols []Column
	for rows.Next() {
		var (
			cid, notNull, pk int
			c                Column
			dflt             sql.NullString
		)
		if err := rows.Scan(&cid, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		c.Nullable = notNull == 0 && pk == 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
