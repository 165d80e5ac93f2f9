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
	"bufio"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"livecanvas/internal/config"
)

func NewConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration and manage provider secrets",
	}
	cmd.AddCommand(
		newConfigShowCommand(opts),
		newConfigPathCommand(opts),
		newConfigSetSecretCommand(opts),
		newConfigDeleteSecretCommand(opts),
	)
	return cmd
}

// redactDSN hides the password of a URL style DSN.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	return u.Redacted()
}

type configView struct {
	Config    config.AppConfig  `json:"config" yaml:"config"`
	Secrets   map[string]bool   `json:"secrets" yaml:"secrets"`
	Overrides map[string]string `json:"overrides,omitempty" yaml:"overrides,omitempty"`
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v := configView{Config: opts.Config, Secrets: opts.Secrets.Has(), Overrides: map[string]string{}}
			v.Config.Favorites.DSN = redactDSN(v.Config.Favorites.DSN)
			for _, k := range config.OverridableKeys() {
				if env, ok := config.EnvOverrideFor(k); ok {
					v.Overrides[k] = env
				}
			}
			return opts.emit(cmd.OutOrStdout(), v, func(w io.Writer) {
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				_ = enc.Encode(v.Config)
				_ = enc.Close()

				names := make([]string, 0, len(v.Secrets))
				for n := range v.Secrets {
					names = append(names, n)
				}
				sort.Strings(names)
				_, _ = fmt.Fprintln(w, "# secrets")
				for _, n := range names {
					state := "unset"
					if v.Secrets[n] {
						state = "set"
					}
					_, _ = fmt.Fprintf(w, "#   %s: %s\n", n, state)
				}
				for _, k := range config.OverridableKeys() {
					if env, ok := v.Overrides[k]; ok {
						_, _ = fmt.Fprintf(w, "# %s overridden by %s\n", k, env)
					}
				}
			})
		},
	}
}

func newConfigPathCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.ConfigPath()
			if err != nil {
				return WrapExitError(ExitCommandError, "config path", err)
			}
			return opts.emit(cmd.OutOrStdout(), map[string]string{"path": p}, func(w io.Writer) {
				_, _ = fmt.Fprintln(w, p)
			})
		},
	}
}

func secretNames() string {
	return strings.Join([]string{config.SecretFal, config.SecretGemini, config.SecretOpenAI}, ", ")
}

func newConfigSetSecretCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-secret <name> [value]",
		Short: "Store a provider key in the OS keychain (reads stdin without a value)",
		Long:  "Store a provider key in the OS keychain. Known names: " + secretNames() + ".",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value := ""
			if len(args) == 2 {
				value = args[1]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && err != io.EOF {
					return WrapExitError(ExitCommandError, "read secret", err)
				}
				value = line
			}
			value = strings.TrimSpace(value)
			if value == "" {
				return NewExitError(ExitCommandError, "secret value is empty")
			}
			if err := config.SetSecret(args[0], value); err != nil {
				return WrapExitError(ExitCommandError, "set secret "+args[0], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
			return nil
		},
	}
}

func newConfigDeleteSecretCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-secret <name>",
		Short: "Remove a provider key from the OS keychain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.DeleteSecret(args[0]); err != nil {
				return WrapExitError(ExitCommandError, "delete secret "+args[0], err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}
