// Package server - model and backend handlers
// Contains: ListHandler, PullHandler, BackendsHandler, NDJSON streaming
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tuziyo/tuziyo/api"
	"github.com/tuziyo/tuziyo/cache"
	"github.com/tuziyo/tuziyo/provision"
	"github.com/tuziyo/tuziyo/registry"
)

// modelType returns the requested model type, defaulting to inpainting.
func modelType(name string) registry.Type {
	if name == "" {
		return registry.Inpainting
	}
	return registry.Type(name)
}

// ListHandler handles GET /api/models
func (s *Server) ListHandler(c *gin.Context) {
	descriptors := s.service.Registry().Descriptors()
	models := make([]api.ModelResponse, 0, len(descriptors))
	for _, d := range descriptors {
		m := api.ModelResponse{
			Type:     string(d.Type),
			Name:     d.DisplayName(),
			URL:      d.URL,
			CacheKey: d.CacheKey,
			Digest:   d.Digest,
		}

		if s.store != nil {
			entry, err := s.store.Stat(c.Request.Context(), d.CacheKey)
			switch {
			case err == nil:
				m.Cached = true
				m.Size = entry.Size
				m.Digest = entry.Digest
				m.ModifiedAt = entry.Time
			case !errors.Is(err, cache.ErrNotFound):
				slog.Warn("model cache unavailable", "key", d.CacheKey, "error", err)
			}
		}

		models = append(models, m)
	}

	c.JSON(http.StatusOK, api.ListResponse{Models: models})
}

// PullHandler handles POST /api/pull. Progress is streamed as NDJSON.
func (s *Server) PullHandler(c *gin.Context) {
	var req api.PullRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := modelType(req.Model)
	if _, err := s.service.Registry().Lookup(t); err != nil {
		abortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	ch := make(chan any)
	go func() {
		defer close(ch)
		send := func(v any) {
			select {
			case ch <- v:
			case <-ctx.Done():
			}
		}

		fn := func(p provision.Progress) {
			send(api.ProgressResponse{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
				Percent:   p.Percent,
			})
		}

		if _, _, err := s.service.Fetch(ctx, t, fn); err != nil {
			send(gin.H{"error": err.Error(), "status": statusFor(err)})
		}
	}()

	streamResponse(c, ch)
}

// BackendsHandler handles GET /api/backends
func (s *Server) BackendsHandler(c *gin.Context) {
	var resp api.BackendsResponse
	for _, b := range s.backends() {
		resp.Backends = append(resp.Backends, string(b))
	}

	for _, d := range s.devices() {
		resp.Devices = append(resp.Devices, api.DeviceResponse{
			Backend:  string(d.Backend),
			ID:       fmt.Sprint(d.ID),
			Name:     d.Name,
			Features: d.Features,
			Default:  d.Default,
		})
	}

	c.JSON(http.StatusOK, resp)
}

func streamResponse(c *gin.Context, ch chan any) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Stream(func(w io.Writer) bool {
		val, ok := <-ch
		if !ok {
			return false
		}

		if h, ok := val.(gin.H); ok {
			if e, ok := h["error"].(string); ok {
				status, ok := h["status"].(int)
				if !ok {
					status = http.StatusInternalServerError
				}

				if !c.Writer.Written() {
					c.Header("Content-Type", "application/json")
					c.JSON(status, gin.H{"error": e})
				} else {
					if err := json.NewEncoder(c.Writer).Encode(gin.H{"error": e}); err != nil {
						slog.Error("streamResponse failed to encode json error", "error", err)
					}
				}

				return false
			}
		}

		bts, err := json.Marshal(val)
		if err != nil {
			slog.Info(fmt.Sprintf("streamResponse: json.Marshal failed with %s", err))
			return false
		}

		bts = append(bts, '\n')
		if _, err := w.Write(bts); err != nil {
			slog.Info(fmt.Sprintf("streamResponse: w.Write failed with %s", err))
			return false
		}

		return true
	})
}
