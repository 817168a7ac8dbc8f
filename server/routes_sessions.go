// Package server - editing session handlers
// Contains: session lifecycle, image and mask editing, inpainting, history
package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tuziyo/tuziyo/api"
	"github.com/tuziyo/tuziyo/editor"
	"github.com/tuziyo/tuziyo/imageproc"
)

type sessionHandler func(c *gin.Context, ms *managedSession)

// withSession resolves the :id parameter before calling fn.
func (s *Server) withSession(fn sessionHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		ms, err := s.sessions.get(c.Param("id"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		fn(c, ms)
	}
}

func sessionResponse(ms *managedSession) api.SessionResponse {
	resp := api.SessionResponse{
		ID:        ms.id,
		State:     ms.State().String(),
		Model:     string(ms.model),
		Backend:   string(ms.Backend()),
		BrushSize: ms.BrushSize(),
		History:   len(ms.History()),
		Cursor:    ms.Cursor(),
	}

	if d, ok := ms.Model(); ok {
		resp.Model = d.DisplayName()
	}

	if img := ms.Image(); img != nil {
		resp.Width = img.Bounds().Dx()
		resp.Height = img.Bounds().Dy()
	}

	if r, ok := ms.MaskBounds(); ok {
		resp.MaskBounds = api.NewRect(r)
	}

	if err := ms.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func bindImage(c *gin.Context) (*api.ImageRequest, bool) {
	var req api.ImageRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return nil, false
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return &req, true
}

// CreateSessionHandler handles POST /api/sessions. The model loads in the
// background; poll the session until it leaves model_loading.
func (s *Server) CreateSessionHandler(c *gin.Context) {
	var req api.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t := modelType(req.Model)
	if _, err := s.service.Registry().Lookup(t); err != nil {
		abortWithError(c, err)
		return
	}

	opts := []editor.Option{editor.WithMaxImageSize(s.maxImageSize)}
	ms, err := s.sessions.create(s.service, t, opts...)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if req.BrushSize != 0 {
		if err := ms.SetBrushSize(req.BrushSize); err != nil {
			if err := s.sessions.remove(ms.id); err != nil {
				slog.Warn("failed to close session", "session", ms.id, "error", err)
			}
			abortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusCreated, sessionResponse(ms))
}

// SessionHandler handles GET /api/sessions/:id
func (s *Server) SessionHandler(c *gin.Context, ms *managedSession) {
	c.JSON(http.StatusOK, sessionResponse(ms))
}

// DeleteSessionHandler handles DELETE /api/sessions/:id
func (s *Server) DeleteSessionHandler(c *gin.Context) {
	if err := s.sessions.remove(c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// SetImageHandler handles PUT /api/sessions/:id/image
func (s *Server) SetImageHandler(c *gin.Context, ms *managedSession) {
	req, ok := bindImage(c)
	if !ok {
		return
	}

	img, err := decodeImage("image", req.Image)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if err := ms.LoadImage(img); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(ms))
}

// ImageHandler handles GET /api/sessions/:id/image.png
func (s *Server) ImageHandler(c *gin.Context, ms *managedSession) {
	img := ms.Image()
	if img == nil {
		abortWithError(c, editor.ErrNoImage)
		return
	}

	png, err := imageproc.PNG(img)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

// StrokeHandler handles POST /api/sessions/:id/strokes
func (s *Server) StrokeHandler(c *gin.Context, ms *managedSession) {
	var req api.StrokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if len(req.Points) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "points are required"})
		return
	}

	if req.BrushSize != 0 {
		if err := ms.SetBrushSize(req.BrushSize); err != nil {
			abortWithError(c, err)
			return
		}
	}

	first := req.Points[0]
	if err := ms.BeginStroke(first.X, first.Y); err != nil {
		abortWithError(c, err)
		return
	}
	defer ms.EndStroke()

	for _, p := range req.Points[1:] {
		if err := ms.MoveStroke(p.X, p.Y); err != nil {
			abortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, sessionResponse(ms))
}

// ApplyMaskHandler handles PUT /api/sessions/:id/mask. Any non-black pixel
// of the uploaded image marks an area to fill.
func (s *Server) ApplyMaskHandler(c *gin.Context, ms *managedSession) {
	req, ok := bindImage(c)
	if !ok {
		return
	}

	maskImg, err := decodeImage("mask", req.Image)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if img := ms.Image(); img != nil {
		// masks drawn against the upload follow it when it was downscaled
		if size := img.Bounds().Size(); size != maskImg.Bounds().Size() && s.maxImageSize > 0 {
			maskImg = imageproc.Resize(maskImg, size.X, size.Y)
		}
	}

	if err := ms.ApplyMask(maskImg); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(ms))
}

// ClearMaskHandler handles DELETE /api/sessions/:id/mask
func (s *Server) ClearMaskHandler(c *gin.Context, ms *managedSession) {
	if err := ms.ClearMask(); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(ms))
}

// SessionInpaintHandler handles POST /api/sessions/:id/inpaint
func (s *Server) SessionInpaintHandler(c *gin.Context, ms *managedSession) {
	if _, err := ms.Inpaint(c.Request.Context(), nil); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(ms))
}

// HistoryHandler handles GET /api/sessions/:id/history
func (s *Server) HistoryHandler(c *gin.Context, ms *managedSession) {
	entries := ms.History()
	resp := api.HistoryResponse{
		Cursor:  ms.Cursor(),
		Entries: make([]api.ImageData, len(entries)),
	}
	for i, e := range entries {
		resp.Entries[i] = e
	}
	c.JSON(http.StatusOK, resp)
}

// NavigateHandler handles POST /api/sessions/:id/history/:index
func (s *Server) NavigateHandler(c *gin.Context, ms *managedSession) {
	i, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "index must be an integer"})
		return
	}

	if err := ms.Navigate(i); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionResponse(ms))
}
