package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// report json field names instead of Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", slog.Any("err", err))
	}
}

// decodeRequest decodes the body into dst and validates it. It writes the
// error response itself and reports whether the handler may continue.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
		"message": "validation failed",
		"errors":  out,
	})
}

// Function surface error codes.
const (
	CodeUnauthorized           = "UNAUTHORIZED"
	CodeForbidden              = "FORBIDDEN"
	CodeInvalidJSON            = "INVALID_JSON"
	CodeInvalidRequest         = "INVALID_REQUEST"
	CodeMissingSubmissionID    = "MISSING_SUBMISSION_ID"
	CodeInvalidSubmissionID    = "INVALID_SUBMISSION_ID"
	CodeSubmissionNotFound     = "SUBMISSION_NOT_FOUND"
	CodeSubmissionNotCompleted = "SUBMISSION_NOT_COMPLETED"
	CodeDeliveryFailed         = "WEBHOOK_DELIVERY_FAILED"
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodePayloadTooLarge        = "PAYLOAD_TOO_LARGE"
	CodeNotFound               = "NOT_FOUND"
	CodeInternal               = "INTERNAL_ERROR"
)

type functionError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
	Details   any    `json:"details,omitempty"`
}

func writeFunctionError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, functionError{Error: msg, ErrorCode: code})
}
