// Package server - one-shot inpainting
// Contains: InpaintHandler, shared model for requests without a session
package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tuziyo/tuziyo/api"
	"github.com/tuziyo/tuziyo/editor"
	"github.com/tuziyo/tuziyo/imageproc"
	"github.com/tuziyo/tuziyo/inpaint"
	"github.com/tuziyo/tuziyo/provision"
	"github.com/tuziyo/tuziyo/registry"
)

// decodeImage decodes an uploaded image, reporting failures as bad requests.
func decodeImage(name string, data api.ImageData) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s is required", errBadImage, name)
	}

	img, err := imageproc.DecodeBytes(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errBadImage, name, err)
	}
	return img, nil
}

// sharedModel returns the one-shot model of type t, resolving it on first
// use. The caller holds s.oneShot.mu.
func (s *Server) sharedModel(ctx context.Context, t registry.Type) (*provision.Resolved, error) {
	if m, ok := s.oneShot.models[t]; ok {
		return m, nil
	}

	m, err := s.service.Resolve(ctx, t, nil)
	if err != nil {
		return nil, err
	}

	if s.oneShot.models == nil {
		s.oneShot.models = make(map[registry.Type]*provision.Resolved)
	}
	s.oneShot.models[t] = m
	return m, nil
}

// InpaintHandler handles POST /api/inpaint
func (s *Server) InpaintHandler(c *gin.Context) {
	checkpointStart := time.Now()

	var req api.InpaintRequest
	if err := c.ShouldBindJSON(&req); errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return
	} else if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	img, err := decodeImage("image", req.Image)
	if err != nil {
		abortWithError(c, err)
		return
	}

	maskImg, err := decodeImage("mask", req.Mask)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if img.Bounds().Size() != maskImg.Bounds().Size() {
		abortWithError(c, fmt.Errorf("%w: image %v, mask %v", imageproc.ErrSizeMismatch, img.Bounds().Size(), maskImg.Bounds().Size()))
		return
	}

	if s.maxImageSize > 0 {
		img = imageproc.ResizeToFit(img, s.maxImageSize, s.maxImageSize)
		if size := img.Bounds().Size(); size != maskImg.Bounds().Size() {
			maskImg = imageproc.Resize(maskImg, size.X, size.Y)
		}
	}
	mask := editor.MaskFromImage(maskImg)

	var opts []inpaint.Option
	if req.Strength > 0 {
		opts = append(opts, inpaint.WithStrength(req.Strength))
	}
	if req.Feather > 0 {
		opts = append(opts, inpaint.WithFeather(req.Feather))
	}
	if req.TileSize > 0 {
		opts = append(opts, inpaint.WithTileSize(req.TileSize, req.TileOverlap))
	}

	ctx := c.Request.Context()
	t := modelType(req.Model)

	s.oneShot.mu.Lock()
	model, err := s.sharedModel(ctx, t)
	if err != nil {
		s.oneShot.mu.Unlock()
		abortWithError(c, err)
		return
	}
	out, err := inpaint.New(model.Session, opts...).Run(ctx, img, mask)
	s.oneShot.mu.Unlock()
	if err != nil {
		slog.Warn("inpainting failed", "model", t, "error", err)
		abortWithError(c, err)
		return
	}

	png, err := imageproc.PNG(out)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := api.InpaintResponse{
		Image:     png,
		Width:     out.Bounds().Dx(),
		Height:    out.Bounds().Dy(),
		Backend:   string(model.Backend),
		Sharpness: imageproc.Sharpness(out),
	}

	if painted, err := imageproc.MaskImage(imageproc.EncodeMask(mask)); err == nil {
		if r, ok := imageproc.BoundingBox(painted); ok {
			resp.MaskBounds = api.NewRect(r)
		}
	}

	if diff, err := imageproc.Difference(img, out); err == nil {
		resp.Difference = diff
	}

	resp.TotalDuration = time.Since(checkpointStart)
	c.JSON(http.StatusOK, resp)
}
