package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/warp/leave-engine/generic"
	"go.uber.org/zap"
)

// =============================================================================
// ERROR RESPONSES
// =============================================================================

// Machine-readable error codes carried in ErrorResponse.Code.
const (
	CodeNotFound            = "not_found"
	CodeValidation          = "validation_failed"
	CodeInvalidBody         = "invalid_body"
	CodeInsufficientBalance = "insufficient_balance"
	CodeInvalidState        = "invalid_state"
	CodeForbidden           = "forbidden"
	CodeUnauthenticated     = "unauthenticated"
	CodeConflict            = "concurrent_modification"
	CodeDuplicate           = "duplicate"
	CodeInProgress          = "request_in_progress"
	CodeRateLimited         = "rate_limited"
	CodeInternal            = "internal_error"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details,omitempty"`
}

// statusFor maps the generic error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generic.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, generic.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, generic.ErrInsufficientBalance):
		return http.StatusConflict, CodeInsufficientBalance
	case errors.Is(err, generic.ErrInvalidState):
		return http.StatusConflict, CodeInvalidState
	case errors.Is(err, generic.ErrUnauthorized):
		return http.StatusForbidden, CodeForbidden
	case errors.Is(err, generic.ErrConcurrentModification):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, generic.ErrDuplicate):
		return http.StatusConflict, CodeDuplicate
	}
	return http.StatusInternalServerError, CodeInternal
}

// writeServiceError writes err with the status its kind maps to. Internal
// errors are logged and their text is not sent to the client.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, code, "Internal server error", "")
		return
	}
	writeError(w, status, code, err.Error(), detailsFor(err))
}

func detailsFor(err error) string {
	var ierr *generic.InsufficientBalanceError
	if errors.As(err, &ierr) {
		return "available " + ierr.Available.String() + ", requested " + ierr.Requested.String()
	}
	var verr *generic.ValidationError
	if errors.As(err, &verr) {
		return verr.Field
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: details})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// validationError turns the first failed validator rule into a
// ValidationError named after the JSON field.
func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &generic.ValidationError{Message: err.Error()}
	}
	e := errs[0]
	field := e.Field()
	switch e.Tag() {
	case "required":
		return &generic.ValidationError{Field: field, Message: "is required"}
	case "email":
		return &generic.ValidationError{Field: field, Message: "must be a valid email address"}
	case "datetime":
		return &generic.ValidationError{Field: field, Message: "must be a date (YYYY-MM-DD)"}
	case "oneof":
		return &generic.ValidationError{Field: field, Message: "must be one of " + strings.ReplaceAll(e.Param(), " ", ", ")}
	}
	return &generic.ValidationError{Field: field, Message: "is invalid"}
}
