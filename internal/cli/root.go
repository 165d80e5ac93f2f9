/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package cli implements the livecanvas command line.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"livecanvas/internal/config"
	"livecanvas/internal/crash"
	applog "livecanvas/internal/log"
	"livecanvas/internal/telemetry"
)

// RootOptions holds global flags and the configuration loaded before any subcommand runs.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	Config  config.AppConfig
	Secrets config.Secrets

	// crash is filled by canvas commands so a panic can autosave the live canvas.
	crash *crash.Target
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command. target may be nil; when set, canvas commands
// register their canvas on it for crash autosaves.
func NewRootCommand(target *crash.Target) *cobra.Command {
	opts := &RootOptions{crash: target}
	if opts.crash == nil {
		opts.crash = &crash.Target{}
	}

	cmd := &cobra.Command{
		Use:   "livecanvas",
		Short: "LiveCanvas - generate images as you type",
		Long: `LiveCanvas turns prompts into image tiles on a freeform canvas.

The canvas is saved in the state directory between runs. Image generation and favorites go
through the backend started with "livecanvas serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewVersionCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCanvasCommand(opts))
	cmd.AddCommand(NewFavoritesCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// load reads the config, sets up logging and telemetry.
func (o *RootOptions) load() error {
	cfg, secrets, err := config.Load()
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	o.Config, o.Secrets = cfg, secrets

	lo := applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	}
	if o.Verbose {
		lo.Level = "debug"
	}
	applog.Init(lo)
	telemetry.Configure(cfg.General.TelemetryOptIn)
	o.crash.Dir = cfg.Canvas.StateDir
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == strings.ToLower(format) {
			return true
		}
	}
	return false
}
