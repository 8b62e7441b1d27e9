package httpapi

import (
	"context"
	"errors"
	"math"
	"net/http"

	"model_registry/internal/apperrors"
	"model_registry/internal/utils"
)

var logger = utils.NewLogger("httpapi")

// statusForKind maps error kinds to HTTP status codes
var statusForKind = map[apperrors.Kind]int{
	apperrors.KindInvalidRequest:    http.StatusBadRequest,
	apperrors.KindAuthFailed:        http.StatusUnauthorized,
	apperrors.KindModelNotFound:     http.StatusNotFound,
	apperrors.KindRateLimited:       http.StatusTooManyRequests,
	apperrors.KindProviderError:     http.StatusBadGateway,
	apperrors.KindNetworkError:      http.StatusBadGateway,
	apperrors.KindMissingCredential: http.StatusServiceUnavailable,
	apperrors.KindBackingStore:      http.StatusServiceUnavailable,
	apperrors.KindShuttingDown:      http.StatusServiceUnavailable,
	apperrors.KindTimeout:           http.StatusGatewayTimeout,
}

// respondError writes err as a JSON error body with a status derived from
// its kind.
func respondError(w http.ResponseWriter, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		if errors.Is(err, context.DeadlineExceeded) {
			appErr = apperrors.Timeout(err)
		} else {
			logger.Error("Unclassified handler error", "error", err)
			utils.RespondWithError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}

	status, known := statusForKind[appErr.Kind]
	if !known {
		status = http.StatusInternalServerError
	}

	body := utils.ErrorResponse{
		Error: appErr.Error(),
		Kind:  string(appErr.Kind),
		Field: appErr.Field,
	}
	if appErr.RetryAfter > 0 {
		body.RetryAfter = int(math.Ceil(appErr.RetryAfter.Seconds()))
	}
	utils.RespondWithErrorBody(w, status, body)
}
