package server

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/zsiec/camview/internal/artifact"
	"github.com/zsiec/camview/internal/errors"
	"github.com/zsiec/camview/internal/player"
	"github.com/zsiec/camview/internal/player/capture"
	"github.com/zsiec/camview/internal/player/eventloop"
	"github.com/zsiec/camview/internal/player/mse"
	"github.com/zsiec/camview/internal/sink/timeline"
)

// classify maps player and store errors onto API error types.
func classify(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, player.ErrSnapshotInFlight):
		return errors.NewBusyError(err.Error())
	case stderrors.Is(err, player.ErrNotStarted):
		return errors.New(errors.ErrorTypeConflict, "Player has no stream URL; start it first", http.StatusConflict)
	case stderrors.Is(err, player.ErrDestroyed), stderrors.Is(err, eventloop.ErrClosed):
		return errors.NewServiceDownError("player")
	case stderrors.Is(err, player.ErrRetriesExhausted):
		return errors.WrapTransportError(err, "Stream transport retries exhausted")
	case stderrors.Is(err, capture.ErrNotActive):
		return errors.WrapCaptureError(err, "No capture is running")
	case stderrors.Is(err, player.ErrNoGrabber), stderrors.Is(err, timeline.ErrNoFrame):
		return errors.WrapMediaError(err, "No frame available for a snapshot")
	case stderrors.Is(err, mse.ErrCodecUnsupported):
		return errors.WrapMediaError(err, "Stream codec is not supported")
	case stderrors.Is(err, artifact.ErrNotFound):
		return errors.NewNotFoundError("artifact")
	case stderrors.Is(err, artifact.ErrInvalidName):
		return errors.NewValidationError(err.Error())
	case stderrors.Is(err, context.DeadlineExceeded):
		return errors.NewTimeoutError("Operation timed out")
	}
	return nil
}
