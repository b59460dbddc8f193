package handlers

import (
	"errors"
	"net/http"

	"github.com/civichain/votegate/internal/models"
	pkghttp "github.com/civichain/votegate/pkg/http"
)

// writeServiceError maps pipeline errors onto HTTP responses. Rejection
// details pass through; internal errors do not.
func (h *SessionHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *models.ValidationError
		rerr *models.RejectionError
		derr *models.DeviceError
		nerr *models.NetworkError
	)

	switch {
	case errors.As(err, &verr):
		pkghttp.WriteBadRequest(w, verr.Error())
	case errorsIsLocked(err):
		pkghttp.WriteLocked(w, "Maximum verification attempts exceeded")
	case errors.As(err, &rerr):
		pkghttp.WriteUnauthorized(w, rerr.Message)
	case errors.Is(err, models.ErrSessionExpired):
		pkghttp.WriteUnauthorized(w, "Verification session has expired")
	case errors.Is(err, models.ErrInvalidState),
		errors.Is(err, models.ErrCaptureBusy),
		errors.Is(err, models.ErrCaptureReleased),
		errors.Is(err, models.ErrAlreadyVoted):
		pkghttp.WriteConflict(w, err.Error())
	case errors.Is(err, models.ErrDetectionFailed):
		pkghttp.WriteServiceUnavailable(w, "Face detection is unavailable")
	case errors.As(err, &derr):
		pkghttp.WriteServiceUnavailable(w, "Capture device unavailable")
	case errors.As(err, &nerr):
		pkghttp.WriteBadGateway(w, "Verification backend unreachable")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

func errorsIsLocked(err error) bool {
	return errors.Is(err, models.ErrLocked)
}
