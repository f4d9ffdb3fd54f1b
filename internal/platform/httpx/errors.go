package httpx

import (
	"errors"
	"net/http"

	"github.com/credinvoice/credinvoice/internal/shared"
)

// RespondError maps engine errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrInvalidActor):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, shared.ErrInvalidTransition):
		Problem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, shared.ErrOfferExpired), errors.Is(err, shared.ErrBidExpired):
		Problem(w, http.StatusConflict, "Expired", err.Error())
	case errors.Is(err, shared.ErrDuplicateDisbursement):
		Problem(w, http.StatusConflict, "Duplicate Disbursement", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Already Processed", "this transaction reference was already recorded")
	case errors.Is(err, shared.ErrConcurrentModification):
		Problem(w, http.StatusConflict, "Conflict", "the invoice changed concurrently, retry")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
