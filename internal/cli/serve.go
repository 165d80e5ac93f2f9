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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"livecanvas/internal/backend"
	"livecanvas/internal/backend/favorites"
	"livecanvas/internal/backend/providers"
	applog "livecanvas/internal/log"
	"livecanvas/internal/telemetry"
)

func NewServeCommand(opts *RootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the backend REST server",
		Long: `Run the backend that generates images and stores favorites.

Providers and the favorites database come from the config file and the environment
(PORT, DATABASE_URL, FAL_KEY, OPENAI_API_KEY, GEMINI_API_KEY).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = opts.Config.Server.Addr
			}
			return runServe(cmd.Context(), opts, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, e.g. :3001)")
	return cmd
}

func runServe(ctx context.Context, opts *RootOptions, addr string) error {
	l := applog.WithOperation(applog.WithComponent("cli"), "serve")
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	img, vars, err := providers.New(ctx, opts.Config.Providers, opts.Secrets)
	if err != nil {
		return WrapExitError(ExitCommandError, "providers", err)
	}
	store, err := favorites.Open(ctx, opts.Config.Favorites)
	if err != nil {
		return WrapExitError(ExitCommandError, "favorites store", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			l.Warn("favorites store close", slog.Any("err", err))
		}
	}()

	srv := backend.New(backend.Options{
		Generator: backend.NewGenerationService(img, vars, nil),
		Favorites: store,
	})
	l.Info("starting backend",
		slog.String("addr", addr),
		slog.String("image_provider", opts.Config.Providers.Image),
		slog.String("variations_provider", opts.Config.Providers.Variations),
		slog.String("favorites", opts.Config.Favorites.Driver))
	telemetry.Event("server.start", map[string]any{
		"image_provider":      opts.Config.Providers.Image,
		"variations_provider": opts.Config.Providers.Variations,
		"favorites_driver":    opts.Config.Favorites.Driver,
	})
	return srv.Run(ctx, addr)
}

func NewMigrateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply favorites database migrations and show the table structure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

type migrateResult struct {
	Driver  string                `json:"driver"`
	Applied []favorites.Migration `json:"applied"`
	Columns []favorites.Column    `json:"columns"`
}

func runMigrate(ctx context.Context, opts *RootOptions, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := favorites.OpenSQL(ctx, opts.Config.Favorites)
	if err != nil {
		return WrapExitError(ExitCommandError, "open favorites database", err)
	}
	defer func() { _ = store.Close() }()

	applied, err := store.Migrate(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "migrate", err)
	}
	cols, err := store.Columns(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "describe favorites table", err)
	}
	res := migrateResult{Driver: store.Driver(), Applied: applied, Columns: cols}
	if res.Applied == nil {
		res.Applied = []favorites.Migration{}
	}
	return opts.emit(w, res, func(w io.Writer) {
		if len(applied) == 0 {
			_, _ = fmt.Fprintf(w, "%s: schema is up to date\n", res.Driver)
		}
		for _, m := range applied {
			_, _ = fmt.Fprintf(w, "%s: applied %s\n", res.Driver, m.Name)
		}
		_, _ = fmt.Fprintln(w)
		table := newTable(w, "COLUMN", "TYPE", "NULLABLE")
		for _, c := range cols {
			table.Append([]string{c.Name, c.Type, strconv.FormatBool(c.Nullable)})
		}
		table.Render()
	})
}
