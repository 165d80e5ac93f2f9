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
	"time"

	"github.com/spf13/cobra"

	"livecanvas/internal/canvas"
	"livecanvas/internal/client"
	"livecanvas/internal/domain"
)

func NewFavoritesCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Browse the favorites store",
	}
	cmd.AddCommand(
		newFavoritesListCommand(opts),
		newFavoritesRemoveCommand(opts),
		newFavoritesOpenCommand(opts),
	)
	return cmd
}

func (o *RootOptions) favoritesClient() *client.Client {
	return client.New(o.Config.Backend.BaseURL, client.WithTimeout(o.Config.Backend.Timeout()))
}

func (o *RootOptions) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.Config.Backend.Timeout()+time.Second)
}

func findFavorite(favs []domain.Favorite, id string) (domain.Favorite, bool) {
	for _, f := range favs {
		if f.ID == id {
			return f, true
		}
	}
	return domain.Favorite{}, false
}

func newFavoritesListCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored favorites, newest first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			favs := opts.favoritesClient().ListFavorites(ctx)
			return opts.emit(cmd.OutOrStdout(), favs, func(w io.Writer) {
				if len(favs) == 0 {
					_, _ = fmt.Fprintln(w, "no favorites")
					return
				}
				table := newTable(w, "ID", "PROMPT", "IMAGE")
				for _, f := range favs {
					table.Append([]string{f.ID, truncate(f.Prompt, 40), truncate(f.ImageURL, 60)})
				}
				table.Render()
			})
		},
	}
}

func newFavoritesRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a favorite from the store",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			if err := opts.favoritesClient().RemoveFavorite(ctx, args[0]); err != nil {
				return WrapExitError(ExitFailure, "remove favorite", err)
			}
			return opts.emit(cmd.OutOrStdout(), map[string]string{"removed": args[0]}, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "removed %s\n", args[0])
			})
		},
	}
}

// open replaces the canvas with one favorite (selected, its prompt in the prompt field) or
// with every favorite when --all is given.
func newFavoritesOpenCommand(opts *RootOptions) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "open [id]",
		Short: "Open favorites on the canvas",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return NewExitError(ExitCommandError, "give a favorite id or --all")
			}
			ctx, cancel := opts.requestContext(cmd)
			defer cancel()
			favs := opts.favoritesClient().ListFavorites(ctx)

			if all {
				s, err := opts.openSession(canvas.StartOptions{})
				if err != nil {
					return err
				}
				s.canvas.OpenFavorites(favs)
				track("favorites.open", s.canvas)
				return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
			}

			fav, ok := findFavorite(favs, args[0])
			if !ok {
				return NewExitError(ExitCommandError, fmt.Sprintf("favorite %q not found", args[0]))
			}
			s, err := opts.openSession(canvas.StartOptions{
				InitialTiles:     []domain.Tile{fav.Tile(domain.Position{})},
				InitialPrompt:    fav.Prompt,
				InitialSelection: fav.ID,
			})
			if err != nil {
				return err
			}
			s.bridge.SaveState(s.canvas.Snapshot())
			track("favorites.open", s.canvas)
			return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "open every favorite")
	return cmd
}
