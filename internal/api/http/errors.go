package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apperrors "github.com/smoosense/smoosense/internal/errors"
)

// StatusClientClosedRequest is reported when the caller cancelled the query.
const StatusClientClosedRequest = 499

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string                 `json:"error"`
	Code      string                 `json:"code"`
	Category  string                 `json:"category,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	RequestID string                 `json:"request_id,omitempty"`
}

// StatusFor maps an error to its HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	}

	switch apperrors.GetCode(err) {
	case apperrors.CodeInvalidPath, apperrors.CodeInvalidRequest,
		apperrors.CodeInvalidCursor, apperrors.CodeReadOnly:
		return http.StatusBadRequest
	case apperrors.CodeNotFound, apperrors.CodeSessionNotFound:
		return http.StatusNotFound
	case apperrors.CodeSessionBusy, apperrors.CodeAmbiguousDataset:
		return http.StatusConflict
	case apperrors.CodeSessionExpired:
		return http.StatusGone
	case apperrors.CodeInferenceFailed, apperrors.CodeQueryFailed, apperrors.CodeUnsupportedFormat:
		return http.StatusUnprocessableEntity
	case apperrors.CodeCancelled:
		return StatusClientClosedRequest
	case apperrors.CodeExecutionTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeSessionLimit:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorResponse builds the body for err. Internal causes stay in the log.
func errorResponse(err error, status int, requestID string) ErrorResponse {
	resp := ErrorResponse{
		Error:     err.Error(),
		Code:      apperrors.GetCode(err),
		Category:  string(apperrors.GetCategory(err)),
		Details:   apperrors.GetDetails(err),
		Retryable: apperrors.IsRetryable(err),
		RequestID: requestID,
	}

	var ee *apperrors.EngineError
	if errors.As(err, &ee) {
		resp.Error = ee.Message
		if ee.Cause != nil && status < http.StatusInternalServerError {
			resp.Error += ": " + ee.Cause.Error()
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		resp.Code, resp.Retryable = apperrors.CodeExecutionTimeout, true
	case errors.Is(err, context.Canceled):
		resp.Code = apperrors.CodeCancelled
	case resp.Code == "":
		resp.Code = apperrors.CodeUnexpected
	}
	if status == http.StatusInternalServerError {
		resp.Error = "internal server error"
	}
	return resp
}

// writeError writes err with the status derived from it.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	requestID := GetRequestID(r.Context())
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout {
		slog.Error("Request failed.", "method", r.Method, "path", r.URL.Path,
			"status", status, "request_id", requestID, "error", err)
	}
	writeJSON(w, status, errorResponse(err, status, requestID))
}

// writeJSON writes data with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Failed to encode response.", "error", err)
	}
}
