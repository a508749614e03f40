package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"cardcrm/internal/common/logging"
	"cardcrm/internal/spending/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest runs struct tag validation and reports failures as a
// domain.ValidationError so they render like business rule violations.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	violations := make([]domain.Violation, len(fieldErrs))
	for i, fe := range fieldErrs {
		violations[i] = domain.Violation{Field: fe.Field(), Message: validationMessage(fe)}
	}
	return domain.NewValidationError(violations)
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", fe.Field(), fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message,omitempty"`
	Details []domain.Violation `json:"details,omitempty"`
}

// handleServiceError maps service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		conflictErr   *domain.ConflictError
	)

	switch {
	case errors.As(err, &validationErr):
		h.writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation failed",
			Details: validationErr.Violations,
		})
	case errors.Is(err, domain.ErrInvalidID):
		h.writeError(w, http.StatusBadRequest, "invalid id", err)
	case errors.Is(err, domain.ErrCurrencyMismatch):
		h.writeError(w, http.StatusBadRequest, "currency mismatch", err)
	case errors.As(err, &notFoundErr):
		h.writeError(w, http.StatusNotFound, notFoundErr.Error(), nil)
	case errors.Is(err, domain.ErrOptimisticLock):
		h.writeError(w, http.StatusConflict, "concurrent modification detected, please retry", nil)
	case errors.As(err, &conflictErr):
		h.writeError(w, http.StatusConflict, conflictErr.Reason, nil)
	case errors.Is(err, domain.ErrConflict):
		h.writeError(w, http.StatusConflict, "conflict", err)
	default:
		logging.ErrorContext(r.Context(), "Unhandled error", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error", nil)
	}
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Message = err.Error()
	}
	h.writeJSON(w, status, resp)
}
