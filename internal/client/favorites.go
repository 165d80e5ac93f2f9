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
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"livecanvas/internal/domain"
)

// ListFavorites returns the stored favorites. Any failure is logged and degrades to an empty list.
func (c *Client) ListFavorites(ctx context.Context) []domain.Favorite {
	var env struct {
		Favorites []domain.Favorite `json:"favorites"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/favorites", nil, &env); err != nil {
		c.log.Warn("list favorites failed", slog.Any("err", err))
		return []domain.Favorite{}
	}
	if env.Favorites == nil {
		return []domain.Favorite{}
	}
	return env.Favorites
}

// AddFavorite stores fav. Failures propagate so the caller can keep its local state.
func (c *Client) AddFavorite(ctx context.Context, fav domain.Favorite) error {
	if err := c.doJSON(ctx, http.MethodPost, "/api/favorites", fav, nil); err != nil {
		return fmt.Errorf("add favorite %s: %w", fav.ID, err)
	}
	return nil
}

// RemoveFavorite deletes the favorite with the given id.
func (c *Client) RemoveFavorite(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/favorites/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("remove favorite %s: %w", id, err)
	}
	return nil
}
