/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"livecanvas/internal/domain"
)

// ErrNoImage is returned when the backend answers without an image url.
var ErrNoImage = errors.New("response without imageUrl")

// Generate issues one POST /api/image call. There are no retries.
func (c *Client) Generate(ctx context.Context, prompt string) (domain.GenerationResult, error) {
	var res domain.GenerationResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/image", map[string]string{"prompt": prompt}, &res); err != nil {
		return domain.GenerationResult{}, fmt.Errorf("generate: %w", err)
	}
	if res.ImageURL == "" {
		return domain.GenerationResult{}, fmt.Errorf("generate: %w", ErrNoImage)
	}
	if res.Variations == nil {
		res.Variations = []string{}
	}
	return res, nil
}
