/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultFalBaseURL = "https://fal.run"
	DefaultFalModel   = "fal-ai/flux/schnell"
)

// Fal renders images through fal.ai's synchronous run endpoint.
type Fal struct {
	BaseURL string
	Model   string
	key     string
	http    *http.Client
}

func NewFal(key, model string) *Fal {
	if model == "" {
		model = DefaultFalModel
	}
	return &Fal{
		BaseURL: DefaultFalBaseURL,
		Model:   model,
		key:     key,
		http:    &http.Client{Timeout: 2 * time.Minute},
	}
}

type falRequest struct {
	Prompt string `json:"prompt"`
}

type falResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
	Detail any `json:"detail"`
}

func (f *Fal) GenerateImage(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(falRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	u := strings.TrimRight(f.BaseURL, "/") + "/" + strings.TrimLeft(f.Model, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Key "+f.key)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fal: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("fal %s: %s: %s", f.Model, resp.Status, strings.TrimSpace(string(b)))
	}
	var out falResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("fal: decode: %w", err)
	}
	if len(out.Images) == 0 || out.Images[0].URL == "" {
		return "", fmt.Errorf("fal %s: %w", f.Model, ErrNoImage)
	}
	return out.Images[0].URL, nil
}
