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
	"fmt"
	"hash/fnv"
	"strings"
)

var placeholderStyles = []string{
	"as a watercolor painting",
	"in the style of a vintage photograph",
	"as pixel art",
	"as a charcoal sketch",
}

// Placeholder needs no credentials. Images are deterministic picsum.photos URLs seeded by
// the prompt; variations append fixed style suffixes.
type Placeholder struct{}

func (Placeholder) GenerateImage(_ context.Context, prompt string) (string, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	return fmt.Sprintf("https://picsum.photos/seed/%08x/512/512", h.Sum32()), nil
}

func (Placeholder) Variations(_ context.Context, prompt string) ([]string, error) {
	p := strings.TrimSpace(prompt)
	out := make([]string, 0, len(placeholderStyles))
	for _, s := range placeholderStyles {
		out = append(out, p+" "+s)
	}
	return out, nil
}
