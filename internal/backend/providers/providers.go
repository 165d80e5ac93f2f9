/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package providers talks to the services that turn a prompt into an image URL and into
// style variations of itself.
package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"livecanvas/internal/config"
)

// VariationsSystemPrompt asks a chat model for style variations of a prompt.
const VariationsSystemPrompt = "You are a creative prompt engineer for text-to-image models. " +
	"Return 4 short variations of the prompt given with no explanation or other text. " +
	"Each variation should intend to produce an image in a different style than the original prompt. " +
	"Separate each variation with a new line."

// VariationsTemperature is the sampling temperature used for variation requests.
const VariationsTemperature = 1.4

var (
	ErrNoImage     = errors.New("provider returned no image")
	ErrMissingKey  = errors.New("provider api key is not configured")
	ErrUnknownKind = errors.New("unknown provider")
)

// ImageProvider renders a prompt and returns a URL for the image.
type ImageProvider interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// VariationProvider suggests alternative prompts.
type VariationProvider interface {
	Variations(ctx context.Context, prompt string) ([]string, error)
}

// ParseVariations splits a model reply into one variation per line. Lines are trimmed and
// blank lines dropped.
func ParseVariations(text string) []string {
	out := []string{}
	for _, line := range strings.Split(text, "\n") {
		if v := strings.TrimSpace(line); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// New builds the providers selected in cfg. Keys come from secrets.
func New(ctx context.Context, cfg config.ProvidersConfig, secrets config.Secrets) (ImageProvider, VariationProvider, error) {
	img, err := newImage(ctx, cfg, secrets)
	if err != nil {
		return nil, nil, err
	}
	vars, err := newVariations(ctx, cfg, secrets)
	if err != nil {
		return nil, nil, err
	}
	return img, vars, nil
}

func newImage(ctx context.Context, cfg config.ProvidersConfig, secrets config.Secrets) (ImageProvider, error) {
	switch kind := strings.ToLower(cfg.Image); kind {
	case "", "placeholder":
		return Placeholder{}, nil
	case "fal":
		if secrets.FalKey == "" {
			return nil, fmt.Errorf("fal: %w", ErrMissingKey)
		}
		return NewFal(secrets.FalKey, cfg.FalModel), nil
	case "gemini":
		if secrets.GeminiKey == "" {
			return nil, fmt.Errorf("gemini: %w", ErrMissingKey)
		}
		return NewGeminiImages(ctx, secrets.GeminiKey, cfg.GeminiImageModel)
	default:
		return nil, fmt.Errorf("%w: image %q", ErrUnknownKind, kind)
	}
}

func newVariations(ctx context.Context, cfg config.ProvidersConfig, secrets config.Secrets) (VariationProvider, error) {
	switch kind := strings.ToLower(cfg.Variations); kind {
	case "", "placeholder":
		return Placeholder{}, nil
	case "openai":
		if secrets.OpenAIKey == "" {
			return nil, fmt.Errorf("openai: %w", ErrMissingKey)
		}
		return NewOpenAI(secrets.OpenAIKey, cfg.OpenAIModel), nil
	case "gemini":
		if secrets.GeminiKey == "" {
			return nil, fmt.Errorf("gemini: %w", ErrMissingKey)
		}
		return NewGeminiVariations(ctx, secrets.GeminiKey, cfg.GeminiModel)
	default:
		return nil, fmt.Errorf("%w: variations %q", ErrUnknownKind, kind)
	}
}
