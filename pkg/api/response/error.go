package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/npcforge/npcforge/pkg/engine"
	"github.com/npcforge/npcforge/pkg/model"
	"github.com/npcforge/npcforge/pkg/storage"
)

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id"`
}

// Common error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeUnknownTool        = "UNKNOWN_TOOL"
	ErrCodeRequestTooLarge    = "REQUEST_TOO_LARGE"
	ErrCodeInternalServer     = "INTERNAL_SERVER_ERROR"
	ErrCodeUpstream           = "UPSTREAM_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"
)

// Classify maps a domain error to its HTTP status, error code and optional
// details.
func Classify(err error) (int, string, map[string]interface{}) {
	var (
		notFound   *model.NotFoundError
		validation *model.ValidationError
		conflict   *model.NameConflictError
		unknown    *model.UnknownToolError
		upstream   *model.UpstreamError
		tooLarge   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound, ErrCodeNotFound, map[string]interface{}{"kind": notFound.Kind, "id": notFound.ID}
	case errors.As(err, &validation):
		var details map[string]interface{}
		if validation.Field != "" {
			details = map[string]interface{}{"field": validation.Field}
		}
		return http.StatusBadRequest, ErrCodeValidationFailed, details
	case errors.As(err, &conflict):
		return http.StatusConflict, ErrCodeConflict, map[string]interface{}{"name": conflict.Name}
	case errors.As(err, &unknown):
		return http.StatusUnprocessableEntity, ErrCodeUnknownTool, map[string]interface{}{"tool": unknown.Name, "available": unknown.Available}
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, map[string]interface{}{"limit": tooLarge.Limit}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrCodeGatewayTimeout, nil
	case errors.As(err, &upstream):
		return http.StatusBadGateway, ErrCodeUpstream, map[string]interface{}{"op": upstream.Op}
	case engine.IsNotRunning(err), storage.IsUnavailable(err):
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable, nil
	default:
		return http.StatusInternalServerError, ErrCodeInternalServer, nil
	}
}

// HandleError writes the error envelope for err. Internal errors are not
// echoed to the client.
func HandleError(w http.ResponseWriter, err error, requestID string) {
	status, code, details := Classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	ErrorWithDetails(w, status, code, message, details, requestID)
}
