/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFromEnvAndGetenv(t *testing.T) {
	t.Setenv("LC_LOG_LEVEL", "warn")
	t.Setenv("LC_LOG_FORMAT", "json")
	t.Setenv("LC_LOG_SOURCE", "true")
	t.Setenv("LC_LOG_FILE", "")

	opts := FromEnv()
	if opts.Level != "warn" || opts.Format != "json" || !opts.AddSource || opts.File != "" {
		t.Fatalf("FromEnv mismatch: %+v", opts)
	}

	if err := os.Unsetenv("LC_SOME_UNSET_VAR"); err != nil {
		t.Fatalf("Unsetenv error: %v", err)
	}
	if v := getenv("LC_SOME_UNSET_VAR", "fallback"); v != "fallback" {
		t.Fatalf("getenv fallback failed: %q", v)
	}
}

func TestPrettyTextHandler_Source(t *testing.T) {
	var buf bytes.Buffer
	h := &prettyTextHandler{opts: prettyOpts{Level: slog.LevelInfo, AddSource: true}, w: &buf}
	slog.New(h).Info("with caller")
	if out := buf.String(); !strings.Contains(out, "src=") || !strings.Contains(out, "logger_test.go:") {
		t.Fatalf("expected caller location: %q", out)
	}

	buf.Reset()
	r := slog.Record{Time: time.Now(), Level: slog.LevelInfo, Message: "no caller"}
	if err := h.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle error: %v", err)
	}
	if out := buf.String(); strings.Contains(out, "src=") {
		t.Fatalf("record without PC must not print a source: %q", out)
	}

	buf.Reset()
	quiet := &prettyTextHandler{opts: prettyOpts{Level: slog.LevelInfo}, w: &buf}
	slog.New(quiet).Info("source off")
	if strings.Contains(buf.String(), "src=") {
		t.Fatalf("source printed although disabled: %q", buf.String())
	}
}

func TestPrettyTextHandler_Behavior(t *testing.T) {
	var buf bytes.Buffer
	h := &prettyTextHandler{opts: prettyOpts{Level: slog.LevelWarn, AddSource: true}, w: &buf}

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should not be enabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Fatalf("error should be enabled at warn level")
	}

	h2 := h.WithAttrs([]slog.Attr{slog.String("k", "v")})
	h2 = h2.WithGroup("grp")

	r := slog.Record{Time: time.Now(), Level: slog.LevelError, Message: "boom"}
	r.AddAttrs(slog.Int("n", 42), slog.Float64("pi", 3.14), slog.Bool("ok", true), slog.String("prompt", "a red fox"))
	if err := h2.Handle(context.Background(), r); err != nil {
		t.Fatalf("handle error: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"boom", "k=v", "grp.n=42", "ERR", "pi=3.14", "grp.ok=true", "\"a red fox\""} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in).Level(); got != want {
			t.Fatalf("parseLevel(%q)=%v want %v", in, got, want)
		}
	}
}

func TestInitJSONWritesContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := Init(Options{Level: "debug", Format: "json", Output: &buf})
	ctx := ContextWith(context.Background(), slog.String("request_id", "r-1"))
	ctx = ContextWith(ctx, slog.String("tile", "t-9"))
	l.InfoContext(ctx, "generated")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("decode json log: %v (%q)", err, buf.String())
	}
	if rec["app"] != "livecanvas" || rec["msg"] != "generated" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if rec["request_id"] != "r-1" || rec["tile"] != "t-9" {
		t.Fatalf("context attrs missing: %v", rec)
	}
	if L() != l {
		t.Fatalf("L should return the initialized logger")
	}
}

func TestInitWithFileFansOut(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "lc.log")
	l := Init(Options{Level: "info", Output: &buf, File: path})
	WithOperation(l.With("component", "test"), "fanout").Info("hello")
	l.Debug("hidden")

	if !strings.Contains(buf.String(), "op=fanout") {
		t.Fatalf("console output missing op: %q", buf.String())
	}
	if strings.Contains(buf.String(), "hidden") {
		t.Fatalf("debug record should be filtered: %q", buf.String())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "\"op\":\"fanout\"") {
		t.Fatalf("file output missing op: %q", string(data))
	}
}

func TestDiscardAndContextWithNoAttrs(t *testing.T) {
	Discard().Error("nothing")
	ctx := context.Background()
	if ContextWith(ctx) != ctx {
		t.Fatalf("ContextWith without attrs should return ctx unchanged")
	}
	if attrsFrom(ctx) != nil {
		t.Fatalf("expected no attrs")
	}
}
