/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"livecanvas/internal/backend"
	"livecanvas/internal/backend/favorites"
	"livecanvas/internal/backend/providers"
	"livecanvas/internal/config"
	"livecanvas/internal/domain"
	applog "livecanvas/internal/log"
)

func init() { gin.SetMode(gin.TestMode) }

// isolate points config, state and the sqlite file at a temp dir and keeps the keyring out
// of the way by providing every provider key through the environment.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("LC_CONFIG", filepath.Join(dir, "config.yaml"))
	t.Setenv("LC_STATE_DIR", filepath.Join(dir, "state"))
	t.Setenv("LC_LOG_LEVEL", "error")
	t.Setenv("LC_TELEMETRY_OPT_IN", "false")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("LC_FAVORITES_DRIVER", "")
	t.Setenv("OPENAI_API_KEY", "test")
	t.Setenv("FAL_KEY", "test")
	t.Setenv("GEMINI_API_KEY", "test")
	return dir
}

// withBackend starts an in-process backend with placeholder providers and memory favorites.
func withBackend(t *testing.T) {
	t.Helper()
	gen := backend.NewGenerationService(providers.Placeholder{}, providers.Placeholder{}, applog.Discard())
	srv := httptest.NewServer(backend.New(backend.Options{
		Generator: gen,
		Favorites: favorites.NewMemory(),
		Logger:    applog.Discard(),
	}).Handler())
	t.Cleanup(srv.Close)
	t.Setenv("LC_BACKEND_URL", srv.URL)
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(nil)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func runJSON(t *testing.T, dest any, args ...string) {
	t.Helper()
	out, err := run(t, append(args, "--format", "json")...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), dest), out)
}

func TestRootCommandStructure(t *testing.T) {
	cmd := NewRootCommand(nil)
	assert.Equal(t, "livecanvas", cmd.Use)
	assert.True(t, cmd.SilenceUsage)
	assert.True(t, cmd.SilenceErrors)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("format"))

	for _, path := range [][]string{
		{"version"}, {"serve"}, {"migrate"},
		{"canvas", "show"}, {"canvas", "prompt"}, {"canvas", "type"}, {"canvas", "expand"},
		{"canvas", "duplicate"}, {"canvas", "remove"}, {"canvas", "move"}, {"canvas", "snap"},
		{"canvas", "arrange"}, {"canvas", "clear"}, {"canvas", "select"}, {"canvas", "deselect"},
		{"canvas", "favorite"}, {"canvas", "history"}, {"canvas", "recover"},
		{"favorites", "list"}, {"favorites", "remove"}, {"favorites", "open"},
		{"config", "show"}, {"config", "path"}, {"config", "set-secret"}, {"config", "delete-secret"},
	} {
		found, _, err := cmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], found.Name(), path)
	}
}

func TestInvalidFormatIsCommandError(t *testing.T) {
	isolate(t)
	_, err := run(t, "version", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestVersionJSON(t *testing.T) {
	isolate(t)
	var v map[string]string
	runJSON(t, &v, "version")
	assert.NotEmpty(t, v["version"])
	assert.NotEmpty(t, v["full"])
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad")))
	wrapped := WrapExitError(ExitFailure, "outer", errors.New("inner"))
	assert.Equal(t, "outer: inner", wrapped.Error())
	assert.Equal(t, "inner", errors.Unwrap(wrapped).Error())
}

func TestCanvasPromptExpandAndFavorite(t *testing.T) {
	isolate(t)
	withBackend(t)

	var tile domain.Tile
	runJSON(t, &tile, "canvas", "prompt", "a", "red", "fox")
	assert.Equal(t, domain.StateReady, tile.State)
	assert.Equal(t, "a red fox", tile.Prompt)
	assert.True(t, strings.HasPrefix(tile.ImageURL, "https://picsum.photos/seed/"))
	assert.Len(t, tile.Variations, 4)

	var view canvasView
	runJSON(t, &view, "canvas", "show")
	require.Len(t, view.Tiles, 1)
	assert.Equal(t, tile.ID, view.SelectedTileID)
	assert.Equal(t, "a red fox", view.CurrentPrompt)
	assert.Equal(t, []string{"a red fox"}, view.History)

	var fav domain.Tile
	runJSON(t, &fav, "canvas", "favorite", tile.ID)
	assert.True(t, fav.IsFavorite)

	var favs []domain.Favorite
	runJSON(t, &favs, "favorites", "list")
	require.Len(t, favs, 1)
	assert.Equal(t, tile.ID, favs[0].ID)

	var expanded []domain.Tile
	runJSON(t, &expanded, "canvas", "expand", tile.ID)
	require.Len(t, expanded, 4)
	for _, e := range expanded {
		assert.Equal(t, domain.StateReady, e.State)
		assert.NotEqual(t, tile.ID, e.ID)
	}
	runJSON(t, &view, "canvas", "show")
	assert.Len(t, view.Tiles, 5)

	// toggling again removes it from the store
	runJSON(t, &fav, "canvas", "favorite", tile.ID)
	assert.False(t, fav.IsFavorite)
	runJSON(t, &favs, "favorites", "list")
	assert.Empty(t, favs)
}

func TestCanvasEditCommands(t *testing.T) {
	isolate(t)
	withBackend(t)

	var tile domain.Tile
	runJSON(t, &tile, "canvas", "prompt", "lighthouse at dusk")

	var dup domain.Tile
	runJSON(t, &dup, "canvas", "duplicate", tile.ID)
	assert.NotEqual(t, tile.ID, dup.ID)
	assert.Equal(t, tile.Position.X+20, dup.Position.X)

	var moved domain.Tile
	runJSON(t, &moved, "canvas", "move", dup.ID, "333", "444")
	assert.Equal(t, domain.Position{X: 333, Y: 444}, moved.Position)

	var view canvasView
	runJSON(t, &view, "canvas", "deselect")
	assert.Empty(t, view.SelectedTileID)
	runJSON(t, &view, "canvas", "select", dup.ID)
	assert.Equal(t, dup.ID, view.SelectedTileID)

	runJSON(t, &view, "canvas", "remove", tile.ID)
	require.Len(t, view.Tiles, 1)
	assert.Equal(t, dup.ID, view.Tiles[0].ID)

	runJSON(t, &view, "canvas", "arrange", "--width", "1000", "--height", "800")
	require.Len(t, view.Tiles, 1)

	runJSON(t, &view, "canvas", "clear")
	assert.Empty(t, view.Tiles)
}

func TestCanvasMissingTileIsCommandError(t *testing.T) {
	isolate(t)
	withBackend(t)
	for _, args := range [][]string{
		{"canvas", "remove", "nope"},
		{"canvas", "duplicate", "nope"},
		{"canvas", "snap", "nope"},
		{"canvas", "select", "nope"},
		{"canvas", "expand", "nope"},
		{"canvas", "favorite", "nope"},
		{"canvas", "move", "nope", "1", "2"},
	} {
		_, err := run(t, args...)
		require.Error(t, err, args)
		assert.Equal(t, ExitCommandError, GetExitCode(err), args)
	}
	_, err := run(t, "canvas", "move", "x", "left", "2")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCanvasPromptBackendDown(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(nil)
	srv.Close()
	t.Setenv("LC_BACKEND_URL", srv.URL)

	_, err := run(t, "canvas", "prompt", "a red fox")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var view canvasView
	runJSON(t, &view, "canvas", "show")
	assert.Empty(t, view.Tiles, "inserted tile is rolled back")
}

func TestCanvasTypeDebounces(t *testing.T) {
	isolate(t)
	withBackend(t)
	var tile domain.Tile
	runJSON(t, &tile, "canvas", "type", "--quiet", "20ms", "snowy", "owl")
	assert.Equal(t, "snowy owl", tile.Prompt)
	assert.Equal(t, domain.StateReady, tile.State)

	var view canvasView
	runJSON(t, &view, "canvas", "show")
	assert.Len(t, view.Tiles, 1)
	assert.Equal(t, []string{"snowy owl"}, view.History)
}

func TestCanvasHistoryUse(t *testing.T) {
	isolate(t)
	withBackend(t)
	var first, second domain.Tile
	runJSON(t, &first, "canvas", "prompt", "a red fox")
	runJSON(t, &second, "canvas", "prompt", "a blue whale")
	assert.Equal(t, first.ID, second.ID, "selected tile is regenerated in place")

	var h []string
	runJSON(t, &h, "canvas", "history")
	assert.Equal(t, []string{"a blue whale", "a red fox"}, h)

	var picked domain.Tile
	runJSON(t, &picked, "canvas", "history", "--use", "2")
	assert.Equal(t, "a red fox", picked.Prompt)

	_, err := run(t, "canvas", "history", "--use", "9")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestCanvasRecover(t *testing.T) {
	isolate(t)
	withBackend(t)

	_, err := run(t, "canvas", "recover")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var tile domain.Tile
	runJSON(t, &tile, "canvas", "prompt", "a red fox")
	var view canvasView
	runJSON(t, &view, "canvas", "clear")
	require.Empty(t, view.Tiles)

	runJSON(t, &view, "canvas", "recover")
	require.Len(t, view.Tiles, 1)
	assert.Equal(t, tile.ID, view.Tiles[0].ID)
}

func TestFavoritesOpen(t *testing.T) {
	isolate(t)
	withBackend(t)

	var a, b domain.Tile
	runJSON(t, &a, "canvas", "prompt", "a red fox")
	runJSON(t, &a, "canvas", "favorite", a.ID)
	runJSON(t, &b, "canvas", "duplicate", a.ID)
	var view canvasView
	runJSON(t, &view, "canvas", "select", b.ID)
	runJSON(t, &b, "canvas", "prompt", "a blue whale")
	runJSON(t, &b, "canvas", "favorite", b.ID)

	runJSON(t, &view, "favorites", "open", a.ID)
	require.Len(t, view.Tiles, 1)
	assert.Equal(t, a.ID, view.SelectedTileID)
	assert.Equal(t, "a red fox", view.CurrentPrompt)
	assert.True(t, view.Tiles[0].IsFavorite)

	var all canvasView
	runJSON(t, &all, "favorites", "open", "--all")
	assert.Len(t, all.Tiles, 2)
	assert.Empty(t, all.SelectedTileID)

	_, err := run(t, "favorites", "open")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	_, err = run(t, "favorites", "open", "missing")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	var removed map[string]string
	runJSON(t, &removed, "favorites", "remove", a.ID)
	assert.Equal(t, a.ID, removed["removed"])
	var favs []domain.Favorite
	runJSON(t, &favs, "favorites", "list")
	require.Len(t, favs, 1)
	assert.Equal(t, b.ID, favs[0].ID)
}

func TestMigrateSQLite(t *testing.T) {
	isolate(t)
	t.Setenv("LC_FAVORITES_DRIVER", "sqlite")

	var res migrateResult
	runJSON(t, &res, "migrate")
	assert.Equal(t, "sqlite", res.Driver)
	assert.Len(t, res.Applied, 2)
	names := make([]string, 0, len(res.Columns))
	for _, c := range res.Columns {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "image_id")
	assert.Contains(t, names, "variations")
	cfgDir, err := config.ConfigDir()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(cfgDir, "favorites.db"))

	runJSON(t, &res, "migrate")
	assert.Empty(t, res.Applied)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema is up to date")
	assert.Contains(t, out, "COLUMN")
}

func TestMigrateRejectsMemoryDriver(t *testing.T) {
	isolate(t)
	t.Setenv("LC_FAVORITES_DRIVER", "memory")
	_, err := run(t, "migrate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigShowAndPath(t *testing.T) {
	dir := isolate(t)
	t.Setenv("DATABASE_URL", "postgres://lc:hunter2@db:5432/livecanvas")

	var v configView
	runJSON(t, &v, "config", "show")
	assert.Equal(t, "postgres", v.Config.Favorites.Driver)
	assert.NotContains(t, v.Config.Favorites.DSN, "hunter2")
	assert.Equal(t, map[string]bool{"openai_api_key": true, "fal_key": true, "gemini_api_key": true}, v.Secrets)
	assert.Equal(t, "DATABASE_URL", v.Overrides["favorites.dsn"])
	assert.Equal(t, "LC_STATE_DIR", v.Overrides["canvas.state_dir"])

	out, err := run(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "base_url:")
	assert.Contains(t, out, "#   fal_key: set")

	out, err = run(t, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.yaml"), strings.TrimSpace(out))
}

func TestConfigSetSecretValidation(t *testing.T) {
	isolate(t)
	_, err := run(t, "config", "set-secret", "nope", "value")
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	cmd := NewRootCommand(nil)
	cmd.SetOut(io.Discard)
	cmd.SetIn(strings.NewReader("   \n"))
	cmd.SetArgs([]string{"config", "set-secret", "fal_key"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
