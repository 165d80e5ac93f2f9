/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package backend is the REST facade in front of the image providers and the favorites
// store. The canvas talks to it through internal/client.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"livecanvas/internal/backend/favorites"
	"livecanvas/internal/domain"
	applog "livecanvas/internal/log"
	"livecanvas/internal/version"
)

// Routes listed by the health endpoint and the 404 handler.
var (
	apiEndpoints    = []string{"/api/image", "/api/favorites"}
	availableRoutes = []string{"/", "/api/image", "/api/favorites"}
)

const requestIDHeader = "X-Request-ID"

// isoMillis matches JavaScript's Date.toISOString.
const isoMillis = "2006-01-02T15:04:05.000Z"

type Options struct {
	Generator *GenerationService
	Favorites favorites.Store
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Server wires the gin engine to the generation service and the favorites store.
type Server struct {
	gen    *GenerationService
	favs   favorites.Store
	log    *slog.Logger
	now    func() time.Time
	engine *gin.Engine
}

func New(opts Options) *Server {
	s := &Server{
		gen:  opts.Generator,
		favs: opts.Favorites,
		log:  opts.Logger,
		now:  opts.Now,
	}
	if s.log == nil {
		s.log = applog.WithComponent("server")
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.favs == nil {
		s.favs = favorites.NewMemory()
	}
	s.engine = s.routes()
	return s
}

// Handler exposes the router, mostly for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(requestLogger(s.log))
	r.Use(gin.CustomRecoveryWithWriter(io.Discard, s.recovered))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Authorization", requestIDHeader},
		ExposeHeaders:   []string{requestIDHeader},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/", s.handleRoot)
	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/readyz", s.handleReady)
	r.GET("/version", func(c *gin.Context) { c.String(http.StatusOK, version.String()) })

	api := r.Group("/api")
	api.POST("/image", s.handleGenerate)
	api.GET("/favorites", s.handleListFavorites)
	api.POST("/favorites", s.handleAddFavorite)
	api.DELETE("/favorites/:id", s.handleRemoveFavorite)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found", "availableRoutes": availableRoutes})
	})
	return r
}

func (s *Server) recovered(c *gin.Context, rec any) {
	s.log.ErrorContext(c.Request.Context(), "panic in handler",
		slog.String("path", c.Request.URL.Path), slog.Any("panic", rec))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error":   "Something went wrong!",
		"message": fmt.Sprint(rec),
	})
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "ImageGen Backend Server is running",
		"endpoints": apiEndpoints,
	})
}

func (s *Server) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := s.favs.Ping(ctx); err != nil {
		c.String(http.StatusServiceUnavailable, "db not ready")
		return
	}
	c.String(http.StatusOK, "ready")
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "prompt is required"})
		return
	}
	if s.gen == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error generating image", "error": "no generation service configured"})
		return
	}
	res, err := s.gen.Generate(c.Request.Context(), req.Prompt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error generating image", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleListFavorites(c *gin.Context) {
	list, err := s.favs.List(c.Request.Context())
	if err != nil {
		s.log.ErrorContext(c.Request.Context(), "list favorites", slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error fetching favorites", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"favorites": list})
}

func (s *Server) handleAddFavorite(c *gin.Context) {
	var f domain.Favorite
	if err := c.ShouldBindJSON(&f); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid favorite", "error": err.Error()})
		return
	}
	if err := s.favs.Add(c.Request.Context(), f); err != nil {
		s.log.ErrorContext(c.Request.Context(), "add favorite", slog.String("id", f.ID), slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error adding to favorites", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Added to favorites"})
}

func (s *Server) handleRemoveFavorite(c *gin.Context) {
	id := c.Param("id")
	removed, err := s.favs.Remove(c.Request.Context(), id)
	if err != nil {
		s.log.ErrorContext(c.Request.Context(), "remove favorite", slog.String("id", id), slog.Any("err", err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Error removing from favorites", "error": err.Error()})
		return
	}
	if !removed {
		s.log.DebugContext(c.Request.Context(), "remove favorite: not found", slog.String("id", id))
	}
	c.JSON(http.StatusOK, gin.H{
		"message":   "Removed from favorites",
		"deletedId": id,
		"timestamp": s.now().UTC().Format(isoMillis),
	})
}

// requestLogger tags every request with an id, puts it on the context for downstream logs
// and writes one line per request.
func requestLogger(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		ctx := applog.ContextWith(c.Request.Context(), slog.String("request_id", id))
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		l.LogAttrs(ctx, level, "request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("took", time.Since(start)),
		)
	}
}

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", slog.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("server stopped")
	return nil
}
