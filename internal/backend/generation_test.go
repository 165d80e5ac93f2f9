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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applog "livecanvas/internal/log"
)

// rendezvous providers only return once both have been called.
type rendezvous struct{ started chan struct{} }

func (r rendezvous) GenerateImage(ctx context.Context, _ string) (string, error) {
	select {
	case <-r.started:
		return "https://cdn.test/x.png", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r rendezvous) Variations(context.Context, string) ([]string, error) {
	close(r.started)
	return []string{"one"}, nil
}

func TestGenerateRunsProvidersConcurrently(t *testing.T) {
	r := rendezvous{started: make(chan struct{})}
	g := NewGenerationService(r, r, applog.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := g.Generate(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/x.png", res.ImageURL)
	assert.Equal(t, []string{"one"}, res.Variations)
	assert.Equal(t, "p", res.Prompt)
}

func TestGenerateEmptyURLIsAnError(t *testing.T) {
	g := NewGenerationService(&stubImages{}, &stubVariations{}, applog.Discard())
	_, err := g.Generate(context.Background(), "p")
	assert.Error(t, err)
}
