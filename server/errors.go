package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tuziyo/tuziyo/editor"
	"github.com/tuziyo/tuziyo/imageproc"
	"github.com/tuziyo/tuziyo/inpaint"
	"github.com/tuziyo/tuziyo/provision"
	"github.com/tuziyo/tuziyo/registry"
)

// errBadImage marks request images that could not be decoded.
var errBadImage = errors.New("invalid image")

// statusFor maps an error from the model, editing or inpainting layers to
// an HTTP status.
func statusFor(err error) int {
	var downloadErr *provision.DownloadError
	var procErr *inpaint.ProcessingError

	switch {
	case errors.Is(err, registry.ErrUnknownModel),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, editor.ErrClosed):
		return http.StatusNotFound
	case errors.Is(err, ErrTooManySessions):
		return http.StatusServiceUnavailable
	case errors.Is(err, editor.ErrBusy),
		errors.Is(err, editor.ErrNoImage),
		errors.Is(err, editor.ErrNoModel),
		errors.Is(err, editor.ErrModelLoadFailed):
		return http.StatusConflict
	case errors.Is(err, editor.ErrHistoryIndex),
		errors.Is(err, editor.ErrBrushSize),
		errors.Is(err, imageproc.ErrSizeMismatch),
		errors.Is(err, errBadImage):
		return http.StatusBadRequest
	case errors.As(err, &downloadErr):
		return http.StatusBadGateway
	case errors.As(err, &procErr) && procErr.Stage == inpaint.StageValidate:
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		// the client went away; nobody reads this
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}
