/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
// Provider secrets never live in this file: they come from the environment or the OS keychain.
//
// config_version: bump when the structure changes in a backward-incompatible way.

type GeneralConfig struct {
	TelemetryOptIn bool `yaml:"telemetry_opt_in"`
}

// ServerConfig configures the REST backend started by "livecanvas serve".
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// BackendConfig is the client side view of the server: where the canvas sends its requests.
type BackendConfig struct {
	BaseURL   string `yaml:"base_url"`
	TimeoutMs int    `yaml:"timeout_ms"`
}

type ProvidersConfig struct {
	Image            string `yaml:"image"`      // "fal" | "gemini" | "placeholder"
	Variations       string `yaml:"variations"` // "openai" | "gemini" | "placeholder"
	FalModel         string `yaml:"fal_model"`
	OpenAIModel      string `yaml:"openai_model"`
	GeminiModel      string `yaml:"gemini_model"`
	GeminiImageModel string `yaml:"gemini_image_model"`
}

type FavoritesConfig struct {
	Driver     string `yaml:"driver"` // "postgres" | "sqlite" | "memory"
	DSN        string `yaml:"dsn"`
	SQLitePath string `yaml:"sqlite_path"`
}

type CanvasConfig struct {
	StateDir   string  `yaml:"state_dir"`
	Width      float64 `yaml:"width"`
	Height     float64 `yaml:"height"`
	DebounceMs int     `yaml:"debounce_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int             `yaml:"config_version"`
	General       GeneralConfig   `yaml:"general"`
	Server        ServerConfig    `yaml:"server"`
	Backend       BackendConfig   `yaml:"backend"`
	Providers     ProvidersConfig `yaml:"providers"`
	Favorites     FavoritesConfig `yaml:"favorites"`
	Canvas        CanvasConfig    `yaml:"canvas"`
	Logging       LoggingConfig   `yaml:"logging"`
}

// Secrets holds provider credentials resolved from env or keyring.
type Secrets struct {
	OpenAIKey string
	FalKey    string
	GeminiKey string
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Server:        ServerConfig{Addr: ":3001"},
		Backend:       BackendConfig{BaseURL: "http://localhost:3001", TimeoutMs: 60000},
		Providers: ProvidersConfig{
			Image:            "placeholder",
			Variations:       "placeholder",
			FalModel:         "fal-ai/flux/schnell",
			OpenAIModel:      "gpt-4o-mini",
			GeminiModel:      "gemini-2.5-flash",
			GeminiImageModel: "gemini-2.5-flash-image",
		},
		Favorites: FavoritesConfig{Driver: "sqlite"},
		Canvas:    CanvasConfig{Width: 1200, Height: 800, DebounceMs: 500},
		Logging:   LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath       = "LC_CONFIG"
	EnvBackendURL       = "LC_BACKEND_URL"
	EnvBackendTimeoutMs = "LC_BACKEND_TIMEOUT_MS"
	EnvTelemetryOptIn   = "LC_TELEMETRY_OPT_IN"
	EnvServerAddr       = "LC_SERVER_ADDR"
	EnvImageProvider    = "LC_IMAGE_PROVIDER"
	EnvVariationsProv   = "LC_VARIATIONS_PROVIDER"
	EnvFavoritesDriver  = "LC_FAVORITES_DRIVER"
	EnvStateDir         = "LC_STATE_DIR"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "LC_LOG_LEVEL"
	EnvLogFormat = "LC_LOG_FORMAT"
	EnvLogSource = "LC_LOG_SOURCE"
	EnvLogFile   = "LC_LOG_FILE"

	// Names used by hosting platforms and provider SDKs.
	EnvPort        = "PORT"
	EnvDatabaseURL = "DATABASE_URL"
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvFalKey      = "FAL_KEY"
	EnvGeminiKey   = "GEMINI_API_KEY"

	// Discrete PostgreSQL settings, used when DATABASE_URL is unset.
	EnvDBHost     = "DB_HOST"
	EnvDBPort     = "DB_PORT"
	EnvDBUser     = "DB_USER"
	EnvDBPassword = "DB_PASSWORD"
	EnvDBName     = "DB_NAME"
)

// ConfigDir returns the per-user application directory.
func ConfigDir() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "LiveCanvas")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "LiveCanvas")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "livecanvas")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "livecanvas")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return base, nil
}

// ConfigPath returns the per-user config file path. LC_CONFIG wins when set.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads user config file (if present), applies defaults, and merges environment overrides.
// Provider secrets are resolved separately and returned next to the config.
func Load() (AppConfig, Secrets, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		return cfg, Secrets{}, err
	}
	if data, err := os.ReadFile(path); err == nil {
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, Secrets{}, fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	}
	applyEnvOverrides(&cfg)
	if dir, err := ConfigDir(); err == nil {
		if cfg.Canvas.StateDir == "" {
			cfg.Canvas.StateDir = filepath.Join(dir, "state")
		}
		if cfg.Favorites.SQLitePath == "" {
			cfg.Favorites.SQLitePath = filepath.Join(dir, "favorites.db")
		}
	}
	return cfg, loadSecrets(), nil
}

// Save writes the user config YAML. Secrets are stored through SetSecret.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn
	setStr(&dst.Server.Addr, src.Server.Addr)
	setStr(&dst.Backend.BaseURL, src.Backend.BaseURL)
	if src.Backend.TimeoutMs != 0 {
		dst.Backend.TimeoutMs = src.Backend.TimeoutMs
	}
	setLower(&dst.Providers.Image, src.Providers.Image)
	setLower(&dst.Providers.Variations, src.Providers.Variations)
	setStr(&dst.Providers.FalModel, src.Providers.FalModel)
	setStr(&dst.Providers.OpenAIModel, src.Providers.OpenAIModel)
	setStr(&dst.Providers.GeminiModel, src.Providers.GeminiModel)
	setStr(&dst.Providers.GeminiImageModel, src.Providers.GeminiImageModel)
	setLower(&dst.Favorites.Driver, src.Favorites.Driver)
	setStr(&dst.Favorites.DSN, src.Favorites.DSN)
	setStr(&dst.Favorites.SQLitePath, src.Favorites.SQLitePath)
	setStr(&dst.Canvas.StateDir, src.Canvas.StateDir)
	if src.Canvas.Width > 0 {
		dst.Canvas.Width = src.Canvas.Width
	}
	if src.Canvas.Height > 0 {
		dst.Canvas.Height = src.Canvas.Height
	}
	if src.Canvas.DebounceMs > 0 {
		dst.Canvas.DebounceMs = src.Canvas.DebounceMs
	}
	// logging
	setLower(&dst.Logging.Level, src.Logging.Level)
	setLower(&dst.Logging.Format, src.Logging.Format)
	dst.Logging.Source = src.Logging.Source
	setStr(&dst.Logging.File, src.Logging.File)
}

func setStr(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setLower(dst *string, v string) { setStr(dst, strings.ToLower(v)) }

func truthy(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvBackendURL)); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBackendTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.TimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvPort)); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv(EnvServerAddr)); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDatabaseURL)); v != "" {
		cfg.Favorites.Driver = "postgres"
		cfg.Favorites.DSN = v
	} else if dsn := dsnFromParts(); dsn != "" {
		cfg.Favorites.Driver = "postgres"
		cfg.Favorites.DSN = dsn
	}
	if v := strings.TrimSpace(os.Getenv(EnvFavoritesDriver)); v != "" {
		cfg.Favorites.Driver = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvImageProvider)); v != "" {
		cfg.Providers.Image = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvVariationsProv)); v != "" {
		cfg.Providers.Variations = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvStateDir)); v != "" {
		cfg.Canvas.StateDir = v
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = truthy(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

// dsnFromParts builds a PostgreSQL URL from DB_HOST and friends. Host and database name are required.
func dsnFromParts() string {
	host := strings.TrimSpace(os.Getenv(EnvDBHost))
	name := strings.TrimSpace(os.Getenv(EnvDBName))
	if host == "" || name == "" {
		return ""
	}
	if port := strings.TrimSpace(os.Getenv(EnvDBPort)); port != "" {
		host = net.JoinHostPort(host, port)
	}
	u := url.URL{Scheme: "postgres", Host: host, Path: "/" + name}
	if user := os.Getenv(EnvDBUser); user != "" {
		if pw := os.Getenv(EnvDBPassword); pw != "" {
			u.User = url.UserPassword(user, pw)
		} else {
			u.User = url.User(user)
		}
	}
	return u.String()
}

var envByKey = map[string][]string{
	"backend.base_url":         {EnvBackendURL},
	"backend.timeout_ms":       {EnvBackendTimeoutMs},
	"general.telemetry_opt_in": {EnvTelemetryOptIn},
	"server.addr":              {EnvServerAddr, EnvPort},
	"providers.image":          {EnvImageProvider},
	"providers.variations":     {EnvVariationsProv},
	"favorites.driver":         {EnvFavoritesDriver, EnvDatabaseURL, EnvDBHost},
	"favorites.dsn":            {EnvDatabaseURL, EnvDBHost},
	"canvas.state_dir":         {EnvStateDir},
	"logging.level":            {EnvLogLevel},
	"logging.format":           {EnvLogFormat},
	"logging.source":           {EnvLogSource},
	"logging.file":             {EnvLogFile},
}

// OverridableKeys lists the config keys that environment variables can override, sorted.
func OverridableKeys() []string {
	keys := make([]string, 0, len(envByKey))
	for k := range envByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	for _, name := range envByKey[key] {
		if os.Getenv(name) != "" {
			return name, true
		}
	}
	return "", false
}

// Timeout returns the client request timeout, falling back to the default.
func (b BackendConfig) Timeout() time.Duration {
	if b.TimeoutMs <= 0 {
		return time.Duration(Defaults().Backend.TimeoutMs) * time.Millisecond
	}
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// Debounce returns the quiet period for prompt input.
func (c CanvasConfig) Debounce() time.Duration {
	if c.DebounceMs <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.DebounceMs) * time.Millisecond
}
