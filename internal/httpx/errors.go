package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-course-trade/internal/orders"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, ErrorResponse{Error: errCode, Message: msg})
}

// statusOf maps a domain error to its HTTP status.
func statusOf(e *orders.Error) int {
	switch {
	case errors.Is(e, orders.ErrOrderNotFound), errors.Is(e, orders.ErrCourseNotFound):
		return http.StatusNotFound
	}
	switch e.Kind {
	case orders.KindValidation:
		return http.StatusBadRequest
	case orders.KindBusinessRule:
		return http.StatusUnprocessableEntity
	case orders.KindExternal:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, log *zap.Logger, err error) {
	var e *orders.Error
	if !errors.As(err, &e) {
		log.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
		return
	}
	code := statusOf(e)
	if code >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("code", e.Code), zap.Error(err))
	}
	writeError(w, code, e.Code, e.Message)
}
