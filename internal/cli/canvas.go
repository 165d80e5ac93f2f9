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
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"livecanvas/internal/canvas"
	"livecanvas/internal/client"
	"livecanvas/internal/domain"
	"livecanvas/internal/storage"
	"livecanvas/internal/telemetry"
)

// session is one restored canvas, wired to the backend and the state store.
type session struct {
	store  *storage.FileStore
	bridge *canvas.Bridge
	client *client.Client
	canvas *canvas.Canvas
}

func (o *RootOptions) openSession(start canvas.StartOptions) (*session, error) {
	store, err := storage.OpenFileStore(o.Config.Canvas.StateDir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open state dir", err)
	}
	bridge := canvas.NewBridge(store, nil)
	st := bridge.Restore(start)
	cl := client.New(o.Config.Backend.BaseURL, client.WithTimeout(o.Config.Backend.Timeout()))
	c := canvas.New(canvas.Options{
		Generator:  cl,
		Favorites:  cl,
		Persister:  bridge,
		CanvasSize: domain.CanvasSize{Width: o.Config.Canvas.Width, Height: o.Config.Canvas.Height},
		Restored:   &st,
	})
	o.crash.Canvas, o.crash.Store, o.crash.Key = c, store, canvas.StateKey
	return &session{store: store, bridge: bridge, client: cl, canvas: c}, nil
}

// waitContext bounds how long a command waits for the backend.
func (o *RootOptions) waitContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, o.Config.Backend.Timeout()+5*time.Second)
}

func track(command string, c *canvas.Canvas) {
	telemetry.Event("canvas.command", map[string]any{"command": command, "tiles": len(c.Tiles())})
}

// settle waits for op and turns a rollback into an exit error.
func settle(ctx context.Context, op *canvas.Op) error {
	if err := op.Wait(ctx); err != nil {
		return WrapExitError(ExitFailure, "waiting for "+op.Kind, err)
	}
	if op.Status() == canvas.RolledBack {
		return WrapExitError(ExitFailure, op.Kind+" failed", op.Err())
	}
	return nil
}

func notFound(id string) error {
	return NewExitError(ExitCommandError, fmt.Sprintf("tile %q not found", id))
}

func NewCanvasCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canvas",
		Short: "Inspect and edit the saved canvas",
	}
	cmd.AddCommand(
		newCanvasShowCommand(opts),
		newCanvasPromptCommand(opts),
		newCanvasTypeCommand(opts),
		newCanvasExpandCommand(opts),
		newCanvasDuplicateCommand(opts),
		newCanvasRemoveCommand(opts),
		newCanvasMoveCommand(opts),
		newCanvasSnapCommand(opts),
		newCanvasArrangeCommand(opts),
		newCanvasClearCommand(opts),
		newCanvasSelectCommand(opts),
		newCanvasDeselectCommand(opts),
		newCanvasFavoriteCommand(opts),
		newCanvasHistoryCommand(opts),
		newCanvasRecoverCommand(opts),
	)
	return cmd
}

type canvasView struct {
	Tiles          []domain.Tile `json:"tiles"`
	SelectedTileID string        `json:"selectedTileId,omitempty"`
	CurrentPrompt  string        `json:"currentPrompt,omitempty"`
	History        []string      `json:"history"`
}

func viewOf(c *canvas.Canvas) canvasView {
	v := canvasView{Tiles: c.Tiles(), CurrentPrompt: c.CurrentPrompt(), History: c.History()}
	if sel := c.Selected(); sel != nil {
		v.SelectedTileID = sel.ID
	}
	if v.History == nil {
		v.History = []string{}
	}
	return v
}

func writeTiles(w io.Writer, tiles []domain.Tile, selected string) {
	table := newTable(w, "ID", "STATE", "X", "Y", "FAV", "VARS", "PROMPT")
	for _, t := range tiles {
		id := t.ID
		if id == selected {
			id = "*" + id
		}
		fav := ""
		if t.IsFavorite {
			fav = "yes"
		}
		table.Append([]string{
			id,
			string(t.State),
			strconv.FormatFloat(t.Position.X, 'f', -1, 64),
			strconv.FormatFloat(t.Position.Y, 'f', -1, 64),
			fav,
			strconv.Itoa(len(t.Variations)),
			truncate(t.Prompt, 48),
		})
	}
	table.Render()
}

func (o *RootOptions) emitCanvas(w io.Writer, c *canvas.Canvas) error {
	v := viewOf(c)
	return o.emit(w, v, func(w io.Writer) {
		if v.CurrentPrompt != "" {
			_, _ = fmt.Fprintf(w, "prompt: %s\n", v.CurrentPrompt)
		}
		if len(v.Tiles) == 0 {
			_, _ = fmt.Fprintln(w, "canvas is empty")
			return
		}
		writeTiles(w, v.Tiles, v.SelectedTileID)
	})
}

func (o *RootOptions) emitTile(w io.Writer, t domain.Tile) error {
	return o.emit(w, t, func(w io.Writer) {
		_, _ = fmt.Fprintf(w, "%s  %s\n  %s\n", t.ID, t.State, t.ImageURL)
		for _, v := range t.Variations {
			_, _ = fmt.Fprintf(w, "  - %s\n", v)
		}
	})
}

func newCanvasShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List the tiles on the canvas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
		},
	}
}

func newCanvasPromptCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prompt <text>",
		Short: "Generate an image for a prompt (regenerates the selected tile, if any)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			ctx, cancel := opts.waitContext(cmd)
			defer cancel()
			op, err := s.canvas.SubmitPrompt(ctx, strings.Join(args, " "))
			if err != nil {
				return WrapExitError(ExitCommandError, "prompt", err)
			}
			track("prompt", s.canvas)
			if err := settle(ctx, op); err != nil {
				return err
			}
			return opts.emitTile(cmd.OutOrStdout(), op.Tile())
		},
	}
}

// type feeds the text through the debouncer one keystroke at a time, the way an editor
// would, and waits for the single submission that follows the quiet period.
func newCanvasTypeCommand(opts *RootOptions) *cobra.Command {
	var quiet time.Duration
	var keyDelay time.Duration
	cmd := &cobra.Command{
		Use:   "type <text>",
		Short: "Type a prompt with live debounced generation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			if quiet <= 0 {
				quiet = opts.Config.Canvas.Debounce()
			}
			ctx, cancel := opts.waitContext(cmd)
			defer cancel()

			type submission struct {
				op  *canvas.Op
				err error
			}
			submitted := make(chan submission, 1)
			k := canvas.NewCoordinator(s.canvas, canvas.CoordinatorOptions{
				QuietPeriod: quiet,
				Context:     ctx,
				OnSubmit: func(_ string, op *canvas.Op, err error) {
					select {
					case submitted <- submission{op, err}:
					default:
					}
				},
			})
			text := strings.Join(args, " ")
			runes := []rune(text)
			for i := 1; i <= len(runes); i++ {
				if !k.Input(string(runes[:i])) {
					return NewExitError(ExitFailure, "input dropped: a generation is in flight")
				}
				if keyDelay > 0 {
					time.Sleep(keyDelay)
				}
			}
			track("type", s.canvas)

			var sub submission
			select {
			case sub = <-submitted:
			case <-ctx.Done():
				k.Cancel()
				return WrapExitError(ExitFailure, "waiting for debounce", ctx.Err())
			}
			if sub.err != nil {
				return WrapExitError(ExitCommandError, "prompt", sub.err)
			}
			if err := settle(ctx, sub.op); err != nil {
				return err
			}
			return opts.emitTile(cmd.OutOrStdout(), sub.op.Tile())
		},
	}
	cmd.Flags().DurationVar(&quiet, "quiet", 0, "quiet period before submitting (default from config)")
	cmd.Flags().DurationVar(&keyDelay, "key-delay", 0, "pause between simulated keystrokes")
	return cmd
}

func newCanvasExpandCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "expand <id>",
		Short: "Generate every variation of a tile around it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			if _, ok := s.canvas.Tile(args[0]); !ok {
				return notFound(args[0])
			}
			ctx, cancel := opts.waitContext(cmd)
			defer cancel()
			b := s.canvas.Expand(ctx, args[0])
			track("expand", s.canvas)
			if err := b.Wait(ctx); err != nil {
				return WrapExitError(ExitFailure, "waiting for expand", err)
			}
			committed, rolledBack := b.Counts()
			tiles := make([]domain.Tile, 0, committed)
			for _, op := range b.Ops {
				if op.Status() == canvas.Committed {
					tiles = append(tiles, op.Tile())
				}
			}
			if err := opts.emit(cmd.OutOrStdout(), tiles, func(w io.Writer) {
				_, _ = fmt.Fprintf(w, "expanded %s: %d generated, %d failed\n", args[0], committed, rolledBack)
				if len(tiles) > 0 {
					writeTiles(w, tiles, "")
				}
			}); err != nil {
				return err
			}
			if rolledBack > 0 {
				return WrapExitError(ExitFailure, fmt.Sprintf("%d variation(s) failed", rolledBack), b.Errors())
			}
			return nil
		},
	}
}

func newCanvasDuplicateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "duplicate <id>",
		Short: "Copy a tile next to itself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			id, ok := s.canvas.Duplicate(args[0])
			if !ok {
				return notFound(args[0])
			}
			track("duplicate", s.canvas)
			t, _ := s.canvas.Tile(id)
			return opts.emitTile(cmd.OutOrStdout(), t)
		},
	}
}

func newCanvasRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a tile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			if !s.canvas.Remove(args[0]) {
				return notFound(args[0])
			}
			track("remove", s.canvas)
			return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
		},
	}
}

func newCanvasMoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "move <id> <x> <y>",
		Short: "Move a tile to a position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			x, errX := strconv.ParseFloat(args[1], 64)
			y, errY := strconv.ParseFloat(args[2], 64)
			if err := errors.Join(errX, errY); err != nil {
				return WrapExitError(ExitCommandError, "position", err)
			}
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			if !s.canvas.Reposition(args[0], domain.Position{X: x, Y: y}) {
				return notFound(args[0])
			}
			track("move", s.canvas)
			t, _ := s.canvas.Tile(args[0])
			return opts.emitTile(cmd.OutOrStdout(), t)
		},
	}
}

func newCanvasSnapCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snap <id>",
		Short: "Snap a tile to the nearest grid cell",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			if !s.canvas.SnapToGrid(args[0]) {
				return notFound(args[0])
			}
			track("snap", s.canvas)
			t, _ := s.canvas.Tile(args[0])
			return opts.emitTile(cmd.OutOrStdout(), t)
		},
	}
}

func newCanvasArrangeCommand(opts *RootOptions) *cobra.Command {
	var width, height float64
	cmd := &cobra.Command{
		Use:   "arrange",
		Short: "Lay all tiles out on the grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			size := s.canvas.CanvasSize()
			if width > 0 {
				size.Width = width
			}
			if height > 0 {
				size.Height = height
			}
			s.canvas.SetCanvasSize(size)
			s.canvas.ArrangeToGrid()
			track("arrange", s.canvas)
			return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
		},
	}
	cmd.Flags().Float64Var(&width, "width", 0, "canvas width (default from config)")
	cmd.Flags().Float64Var(&height, "height", 0, "canvas height (default from config)")
	return cmd
}

func newCanvasClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every tile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			s.canvas.Clear()
			track("clear", s.canvas)
			return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
		},
	}
}

func newCanvasSelectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "select <id>",
		Short: "Select a tile; the next prompt regenerates it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			if !s.canvas.Select(args[0]) {
				return notFound(args[0])
			}
			track("select", s.canvas)
			return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
		},
	}
}

func newCanvasDeselectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "deselect",
		Short: "Clear the selection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			s.canvas.Deselect()
			return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
		},
	}
}

func newCanvasFavoriteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "favorite <id>",
		Aliases: []string{"fav"},
		Short:   "Toggle a tile's favorite flag in the favorites store",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			ctx, cancel := opts.waitContext(cmd)
			defer cancel()
			op := s.canvas.ToggleFavorite(ctx, args[0])
			track("favorite", s.canvas)
			if err := settle(ctx, op); err != nil {
				if errors.Is(op.Err(), canvas.ErrTileNotFound) {
					return notFound(args[0])
				}
				return err
			}
			return opts.emitTile(cmd.OutOrStdout(), op.Tile())
		},
	}
}

func newCanvasHistoryCommand(opts *RootOptions) *cobra.Command {
	var use int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent prompts, or submit one of them with --use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			h := s.canvas.History()
			if use <= 0 {
				if h == nil {
					h = []string{}
				}
				return opts.emit(cmd.OutOrStdout(), h, func(w io.Writer) {
					for i, p := range h {
						_, _ = fmt.Fprintf(w, "%2d  %s\n", i+1, p)
					}
				})
			}
			if use > len(h) {
				return NewExitError(ExitCommandError, fmt.Sprintf("history has %d entries", len(h)))
			}
			ctx, cancel := opts.waitContext(cmd)
			defer cancel()
			k := canvas.NewCoordinator(s.canvas, canvas.CoordinatorOptions{Context: ctx})
			op, err := k.PickHistory(h[use-1])
			if err != nil {
				return WrapExitError(ExitCommandError, "prompt", err)
			}
			track("history", s.canvas)
			if err := settle(ctx, op); err != nil {
				return err
			}
			return opts.emitTile(cmd.OutOrStdout(), op.Tile())
		},
	}
	cmd.Flags().IntVar(&use, "use", 0, "submit the Nth prompt (1 is the most recent)")
	return cmd
}

func newCanvasRecoverCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Restore the canvas from its newest backup or crash autosave",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := storage.OpenFileStore(opts.Config.Canvas.StateDir)
			if err != nil {
				return WrapExitError(ExitCommandError, "open state dir", err)
			}
			if err := canvas.NewBridge(store, nil).RecoverState(); err != nil {
				return WrapExitError(ExitFailure, "recover", err)
			}
			s, err := opts.openSession(canvas.StartOptions{})
			if err != nil {
				return err
			}
			return opts.emitCanvas(cmd.OutOrStdout(), s.canvas)
		},
	}
}
