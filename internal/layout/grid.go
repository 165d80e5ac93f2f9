/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package layout computes tile positions on the canvas grid. All functions are pure.
package layout

import (
	"math"

	"livecanvas/internal/domain"
)

const (
	// TileSize is the edge length of a tile footprint.
	TileSize = 128.0
	// TileMargin is the gap between tiles and around the grid.
	TileMargin = 16.0
	// Cell is the pitch of one grid cell.
	Cell = TileSize + TileMargin
	// ExpandSpacing is the distance between a tile and the variations spawned around it.
	ExpandSpacing = 144.0
)

// DefaultPosition is where a tile created from a fresh prompt lands.
var DefaultPosition = domain.Position{X: 50, Y: 50}

// CenterPosition is where externally supplied tiles (opened favorites) are placed.
var CenterPosition = domain.Position{X: 300, Y: 200}

// Columns returns the number of grid columns that fit the canvas width, at least one.
func Columns(size domain.CanvasSize) int {
	cols := int(math.Floor(size.Width / Cell))
	if cols < 1 {
		return 1
	}
	return cols
}

// CellPosition returns the top-left corner of the cell at col,row.
func CellPosition(col, row int) domain.Position {
	return domain.Position{
		X: float64(col)*Cell + TileMargin,
		Y: float64(row)*Cell + TileMargin,
	}
}

// ArrangeToGrid returns copies of tiles placed row-major on the grid in input order.
// The input slice is not modified.
func ArrangeToGrid(tiles []domain.Tile, size domain.CanvasSize) []domain.Tile {
	out := make([]domain.Tile, len(tiles))
	if len(tiles) == 0 {
		return out
	}
	cols := Columns(size)
	for i, t := range tiles {
		c := t.Clone()
		c.Position = CellPosition(i%cols, i/cols)
		out[i] = c
	}
	return out
}

// NearestGridPosition snaps p to the closest cell, clamping the column to the grid width
// and the row to non-negative values.
func NearestGridPosition(p domain.Position, size domain.CanvasSize) domain.Position {
	cols := Columns(size)
	col := int(math.Round((p.X - TileMargin) / Cell))
	row := int(math.Round((p.Y - TileMargin) / Cell))
	col = max(0, min(col, cols-1))
	row = max(0, row)
	return CellPosition(col, row)
}

// ExpandPositions returns the positions for n variation tiles spawned from a tile at origin:
// above, right, below and left, then (x+ExpandSpacing, y) for anything beyond four.
func ExpandPositions(origin domain.Position, n int) []domain.Position {
	cross := []domain.Position{
		origin.Offset(0, -ExpandSpacing),
		origin.Offset(ExpandSpacing, 0),
		origin.Offset(0, ExpandSpacing),
		origin.Offset(-ExpandSpacing, 0),
	}
	out := make([]domain.Position, n)
	for i := range out {
		if i < len(cross) {
			out[i] = cross[i]
		} else {
			out[i] = origin.Offset(ExpandSpacing, 0)
		}
	}
	return out
}
