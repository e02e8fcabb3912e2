package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "edustat/internal/errors"
)

// respondError renders err as an APIError and logs server-side failures
func respondError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	apiErr := apperrors.FromError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request_failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()))
	}
	render.Render(w, r, apperrors.NewErrorResponse(apiErr))
}

// dataResponse wraps successful payloads
type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
}

func respondData(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	render.Status(r, status)
	render.JSON(w, r, dataResponse{Success: true, Data: data})
}
