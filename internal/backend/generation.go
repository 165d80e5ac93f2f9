/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"livecanvas/internal/backend/providers"
	"livecanvas/internal/domain"
	applog "livecanvas/internal/log"
)

// GenerationService renders a prompt and asks for its variations at the same time.
// Either failure fails the whole request.
type GenerationService struct {
	Images     providers.ImageProvider
	Variations providers.VariationProvider
	log        *slog.Logger
}

func NewGenerationService(img providers.ImageProvider, vars providers.VariationProvider, logger *slog.Logger) *GenerationService {
	if logger == nil {
		logger = applog.WithComponent("generation")
	}
	return &GenerationService{Images: img, Variations: vars, log: logger}
}

func (g *GenerationService) Generate(ctx context.Context, prompt string) (domain.GenerationResult, error) {
	l := applog.WithOperation(g.log, "generate")
	start := time.Now()

	var (
		url  string
		vars []string
	)
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		u, err := g.Images.GenerateImage(gctx, prompt)
		if err != nil {
			return fmt.Errorf("image: %w", err)
		}
		url = u
		return nil
	})
	grp.Go(func() error {
		v, err := g.Variations.Variations(gctx, prompt)
		if err != nil {
			return fmt.Errorf("variations: %w", err)
		}
		vars = v
		return nil
	})
	if err := grp.Wait(); err != nil {
		l.ErrorContext(ctx, "generation failed", slog.String("prompt", prompt), slog.Any("err", err))
		return domain.GenerationResult{}, err
	}
	if url == "" {
		return domain.GenerationResult{}, providers.ErrNoImage
	}
	if vars == nil {
		vars = []string{}
	}
	l.InfoContext(ctx, "generated", slog.Int("variations", len(vars)), slog.Duration("took", time.Since(start)))
	return domain.GenerationResult{Prompt: prompt, ImageURL: url, Variations: vars}, nil
}
