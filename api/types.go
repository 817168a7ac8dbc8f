// types.go - request and response types of the tuziyo HTTP API
package api

import (
	"fmt"
	"image"
	"time"
)

// StatusError is an error with an HTTP status code and message.
type StatusError struct {
	StatusCode   int
	Status       string
	ErrorMessage string `json:"error"`
}

func (e StatusError) Error() string {
	switch {
	case e.Status != "" && e.ErrorMessage != "":
		return fmt.Sprintf("%s: %s", e.Status, e.ErrorMessage)
	case e.Status != "":
		return e.Status
	case e.ErrorMessage != "":
		return e.ErrorMessage
	default:
		// this should not happen
		return "something went wrong, please see the tuziyo server logs for details"
	}
}

// ImageData represents the raw binary data of an image file.
type ImageData []byte

// PullRequest is the request passed to [Client.Pull].
type PullRequest struct {
	// Model is a model type such as "inpainting".
	Model string `json:"model"`
}

// ProgressResponse is the response passed to [PullProgressFunc].
type ProgressResponse struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`

	// Percent is -1 while the download size is unknown.
	Percent int `json:"percent"`
}

// ModelResponse describes one registered model and its cache entry.
type ModelResponse struct {
	Type       string    `json:"type"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	CacheKey   string    `json:"cache_key"`
	Digest     string    `json:"digest,omitempty"`
	Cached     bool      `json:"cached"`
	Size       int64     `json:"size,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// ListResponse is the response from [Client.List].
type ListResponse struct {
	Models []ModelResponse `json:"models"`
}

// DeviceResponse describes a device a backend can run on.
type DeviceResponse struct {
	Backend  string   `json:"backend"`
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Features []string `json:"features,omitempty"`
	Default  bool     `json:"default,omitempty"`
}

// BackendsResponse is the response from [Client.Backends].
type BackendsResponse struct {
	// Backends lists the backends in the order sessions are attempted.
	Backends []string         `json:"backends"`
	Devices  []DeviceResponse `json:"devices"`
}

// Rect is a pixel rectangle.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// NewRect converts r, or returns nil for an empty rectangle.
func NewRect(r image.Rectangle) *Rect {
	if r.Empty() {
		return nil
	}
	return &Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// InpaintRequest is the request passed to [Client.Inpaint]. The mask marks
// areas to fill with any non-black pixel.
type InpaintRequest struct {
	Model string    `json:"model,omitempty"`
	Image ImageData `json:"image"`
	Mask  ImageData `json:"mask"`

	Feather     int `json:"feather,omitempty"`
	TileSize    int `json:"tile_size,omitempty"`
	TileOverlap int `json:"tile_overlap,omitempty"`

	// Strength mixes the result with the original, from 0 to 1. Zero means 1.
	Strength float64 `json:"strength,omitempty"`
}

// InpaintResponse is the response from [Client.Inpaint]. Image is PNG.
type InpaintResponse struct {
	Image   ImageData `json:"image"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Backend string    `json:"backend"`

	// MaskBounds is nil for an empty mask.
	MaskBounds *Rect `json:"mask_bounds,omitempty"`

	// Sharpness is the mean absolute Laplacian of the result.
	Sharpness float64 `json:"sharpness"`

	// Difference is the mean absolute RGB change, from 0 to 1.
	Difference float64 `json:"difference"`

	TotalDuration time.Duration `json:"total_duration"`
}

// CreateSessionRequest is the request passed to [Client.CreateSession].
type CreateSessionRequest struct {
	Model     string `json:"model,omitempty"`
	BrushSize int    `json:"brush_size,omitempty"`
}

// SessionResponse describes an editing session.
type SessionResponse struct {
	ID        string `json:"id"`
	State     string `json:"state"`
	Model     string `json:"model,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	BrushSize int    `json:"brush_size"`
	History   int    `json:"history"`
	Cursor    int    `json:"cursor"`

	MaskBounds *Rect  `json:"mask_bounds,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ImageRequest carries an encoded image for [Client.SetImage] and
// [Client.ApplyMask].
type ImageRequest struct {
	Image ImageData `json:"image"`
}

// Point is a position on the image in pixels.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// StrokeRequest paints one stroke through Points. A single point paints
// one dab.
type StrokeRequest struct {
	BrushSize int     `json:"brush_size,omitempty"`
	Points    []Point `json:"points"`
}

// HistoryResponse is the response from [Client.History]. Entries are PNG.
type HistoryResponse struct {
	Cursor  int         `json:"cursor"`
	Entries []ImageData `json:"entries"`
}

// VersionResponse is the response from [Client.Version].
type VersionResponse struct {
	Version string `json:"version"`
}
