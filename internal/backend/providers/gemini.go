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
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel      = "gemini-2.5-flash"
	DefaultGeminiImageModel = "gemini-2.5-flash-image"
)

// generativeModels is the slice of *genai.Models the Gemini providers call.
type generativeModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func newGeminiModels(ctx context.Context, key string) (generativeModels, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return client.Models, nil
}

// GeminiVariations asks a Gemini text model for prompt variations.
type GeminiVariations struct {
	models generativeModels
	model  string
}

func NewGeminiVariations(ctx context.Context, key, model string) (*GeminiVariations, error) {
	m, err := newGeminiModels(ctx, key)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiVariations{models: m, model: model}, nil
}

func (g *GeminiVariations) Variations(ctx context.Context, prompt string) ([]string, error) {
	contents := []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(VariationsSystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](VariationsTemperature),
	}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini %s: %w", g.model, err)
	}
	if resp == nil {
		return []string{}, nil
	}
	return ParseVariations(resp.Text()), nil
}

// GeminiImages renders prompts with a Gemini image model. The image comes back inline and is
// returned as a data URL.
type GeminiImages struct {
	models generativeModels
	model  string
}

func NewGeminiImages(ctx context.Context, key, model string) (*GeminiImages, error) {
	m, err := newGeminiModels(ctx, key)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = DefaultGeminiImageModel
	}
	return &GeminiImages{models: m, model: model}, nil
}

func (g *GeminiImages) GenerateImage(ctx context.Context, prompt string) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", g.model, err)
	}
	url, err := inlineImageURL(resp)
	if err != nil {
		return "", fmt.Errorf("gemini %s: %w", g.model, err)
	}
	return url, nil
}

func inlineImageURL(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("invalid response")
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
			continue
		}
		mime := part.InlineData.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(part.InlineData.Data), nil
	}
	return "", ErrNoImage
}
