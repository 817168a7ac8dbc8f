package api

import (
	"context"
	"fmt"
	"net/http"
	"path"
)

// Heartbeat checks if the server has started and is responsive; if yes, it
// returns nil, otherwise an error.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.do(ctx, http.MethodHead, "/", nil, nil)
}

// Version returns the server version as a string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version VersionResponse
	if err := c.do(ctx, http.MethodGet, "/api/version", nil, &version); err != nil {
		return "", err
	}
	return version.Version, nil
}

// List lists the registered models and whether they are cached.
func (c *Client) List(ctx context.Context) (*ListResponse, error) {
	var lr ListResponse
	if err := c.do(ctx, http.MethodGet, "/api/models", nil, &lr); err != nil {
		return nil, err
	}
	return &lr, nil
}

// Backends lists the execution backends and devices the server found.
func (c *Client) Backends(ctx context.Context) (*BackendsResponse, error) {
	var resp BackendsResponse
	if err := c.do(ctx, http.MethodGet, "/api/backends", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Inpaint runs one inpainting pass without keeping a session.
func (c *Client) Inpaint(ctx context.Context, req *InpaintRequest) (*InpaintResponse, error) {
	var resp InpaintResponse
	if err := c.do(ctx, http.MethodPost, "/api/inpaint", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func sessionPath(id string, elem ...string) string {
	return path.Join(append([]string{"/api/sessions", id}, elem...)...)
}

// CreateSession starts an editing session and loads its model.
func (c *Client) CreateSession(ctx context.Context, req *CreateSessionRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/sessions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Session returns the state of an editing session.
func (c *Client) Session(ctx context.Context, id string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteSession ends an editing session and releases its model.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id), nil, nil)
}

// SetImage loads an encoded image into a session, restarting its history.
func (c *Client) SetImage(ctx context.Context, id string, image ImageData) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPut, sessionPath(id, "image"), &ImageRequest{Image: image}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stroke paints on a session's mask.
func (c *Client) Stroke(ctx context.Context, id string, req *StrokeRequest) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "strokes"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ApplyMask replaces a session's mask with an encoded mask image.
func (c *Client) ApplyMask(ctx context.Context, id string, mask ImageData) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPut, sessionPath(id, "mask"), &ImageRequest{Image: mask}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClearMask erases a session's mask.
func (c *Client) ClearMask(ctx context.Context, id string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodDelete, sessionPath(id, "mask"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionInpaint runs inpainting on a session's image and mask.
func (c *Client) SessionInpaint(ctx context.Context, id string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "inpaint"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns a session's history entries.
func (c *Client) History(ctx context.Context, id string) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.do(ctx, http.MethodGet, sessionPath(id, "history"), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Navigate displays history entry index.
func (c *Client) Navigate(ctx context.Context, id string, index int) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.do(ctx, http.MethodPost, sessionPath(id, "history", fmt.Sprint(index)), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SessionImage returns a session's current image as PNG.
func (c *Client) SessionImage(ctx context.Context, id string) ([]byte, error) {
	return c.raw(ctx, http.MethodGet, sessionPath(id, "image.png"))
}
