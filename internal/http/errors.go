package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kjstillabower/wetdry-service/internal/fault"
	"github.com/kjstillabower/wetdry-service/internal/observability"
	"github.com/kjstillabower/wetdry-service/internal/traffic"
	"github.com/kjstillabower/wetdry-service/internal/validation"
)

// faultStatus maps each failure kind to its HTTP status and API error code.
var faultStatus = map[fault.Kind]struct {
	status int
	code   string
}{
	fault.KindInvalidInput:     {http.StatusBadRequest, "INVALID_INPUT"},
	fault.KindInvalidRange:     {http.StatusBadRequest, "INVALID_RANGE"},
	fault.KindUnclassifiedSoil: {http.StatusUnprocessableEntity, "UNCLASSIFIED_SOIL"},
	fault.KindLookupFailure:    {http.StatusUnprocessableEntity, "LOOKUP_FAILURE"},
	fault.KindZeroDivision:     {http.StatusUnprocessableEntity, "ZERO_DIVISION"},
	fault.KindDataUnavailable:  {http.StatusServiceUnavailable, "DATA_UNAVAILABLE"},
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeValidationError writes a 400 for a request rejected before reaching the procedure.
func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	code := "INVALID_REQUEST"
	if errors.Is(err, validation.ErrRangeUnavailable) {
		code = "INVALID_RANGE"
	}
	writeError(w, r, http.StatusBadRequest, code, err.Error())
}

// writeFaultError maps a classified failure onto its status. Server-side failures
// count against the error rate; client-side ones count as served.
func writeFaultError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context())
	if errors.Is(err, context.DeadlineExceeded) {
		traffic.RecordError()
		logger.Debug("request deadline exceeded", zap.Error(err))
		writeError(w, r, http.StatusGatewayTimeout, "TIMEOUT", "request timed out fetching climate data")
		return
	}
	if errors.Is(err, context.Canceled) {
		logger.Debug("request cancelled", zap.Error(err))
		writeError(w, r, 499, "CANCELLED", "request cancelled")
		return
	}
	kind := fault.KindOf(err)
	m, ok := faultStatus[kind]
	if !ok {
		writeInternalError(w, r, err)
		return
	}
	if m.status >= http.StatusInternalServerError {
		traffic.RecordError()
		logger.Debug("upstream error", zap.Error(err))
	} else {
		traffic.RecordSuccess()
	}
	writeError(w, r, m.status, m.code, err.Error())
}

// writeInternalError hides the cause from the client and logs it.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	traffic.RecordError()
	observability.LoggerFromContext(r.Context()).Error("internal error", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error")
}
