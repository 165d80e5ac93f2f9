/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package storage

import (
	"errors"
	"testing"
)

func TestCanvasStateSchema(t *testing.T) {
	valid := `{"tiles":[{"id":"img_1_abc","prompt":"fox","imageUrl":"https://x/y.png","position":{"x":1,"y":2},"state":"ready","variations":["a","b"],"isFavorite":false}],"selectedTileId":"img_1_abc","timestamp":"2025-01-01T00:00:00Z"}`
	if err := ValidateJSON(SchemaCanvasState, []byte(valid)); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}
	nullVariations := `{"tiles":[{"id":"a","prompt":"","imageUrl":"","position":{"x":0,"y":0},"state":"generating","variations":null}]}`
	if err := ValidateJSON(SchemaCanvasState, []byte(nullVariations)); err != nil {
		t.Fatalf("null variations rejected: %v", err)
	}

	bad := []string{
		`{}`,
		`{"tiles":null}`,
		`{"tiles":[{"id":"","prompt":"","imageUrl":"","position":{"x":0,"y":0},"state":"ready"}]}`,
		`{"tiles":[{"id":"a","prompt":"","imageUrl":"","position":{"x":"1","y":0},"state":"ready"}]}`,
		`{"tiles":[{"id":"a","prompt":"","imageUrl":"","position":{"x":0,"y":0},"state":"exploded"}]}`,
	}
	for _, doc := range bad {
		err := ValidateJSON(SchemaCanvasState, []byte(doc))
		var se *SchemaError
		if !errors.As(err, &se) || len(se.Violations) == 0 {
			t.Fatalf("expected schema violations for %s, got %v", doc, err)
		}
	}
	if err := ValidateJSON(SchemaCanvasState, []byte("{not json")); err == nil {
		t.Fatalf("malformed json accepted")
	}
}

func TestPromptHistorySchema(t *testing.T) {
	if err := ValidateJSON(SchemaPromptHistory, []byte(`["a red fox","blue whale"]`)); err != nil {
		t.Fatalf("valid history rejected: %v", err)
	}
	if err := ValidateJSON(SchemaPromptHistory, []byte(`["dup","dup"]`)); err == nil {
		t.Fatalf("duplicate entries accepted")
	}
	if err := ValidateJSON(SchemaPromptHistory, []byte(`["1","2","3","4","5","6","7","8","9","10","11"]`)); err == nil {
		t.Fatalf("more than 10 entries accepted")
	}
	if err := ValidateJSON("nope", []byte(`[]`)); err == nil {
		t.Fatalf("unknown schema accepted")
	}
}
