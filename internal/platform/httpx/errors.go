// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// Sentinel errors for the transport layer.
var (
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	status, title := Classify(err)
	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}
	var stockErr *shared.StockError
	if status != http.StatusInternalServerError && errors.As(err, &stockErr) {
		JSON(w, status, StockProblem{
			ProblemDetail: ProblemDetail{Title: title, Status: status, Detail: detail},
			ProductID:     stockErr.ProductID,
			Requested:     stockErr.Requested,
			Available:     stockErr.Available,
		})
		return
	}
	Problem(w, status, title, detail)
}

// Classify returns the status code and title for err.
func Classify(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrPersistence):
		return http.StatusInternalServerError, "Persistence Failure"
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, shared.ErrOutOfStock):
		return http.StatusConflict, "Out Of Stock"
	case errors.Is(err, shared.ErrInsufficientStock):
		return http.StatusConflict, "Insufficient Stock"
	case errors.Is(err, shared.ErrIdempotencyConflict), errors.Is(err, ErrConflict):
		return http.StatusConflict, "Conflict"
	case errors.Is(err, shared.ErrLineLocked):
		return http.StatusLocked, "Line Locked"
	case errors.Is(err, shared.ErrEmptyCart), errors.Is(err, shared.ErrInvalidOperation):
		return http.StatusUnprocessableEntity, "Invalid Operation"
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest, "Validation Failed"
	default:
		return http.StatusInternalServerError, "Internal Error"
	}
}
