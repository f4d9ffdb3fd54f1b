package shared

import "errors"

// Engine error taxonomy. Every failure surfaced by the workflow engine wraps
// one of these sentinels so callers can branch with errors.Is.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition indicates the attempted transition is not legal
	// from the entity's current status.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrInvalidActor indicates the caller lacks permission for this action
	// on this invoice.
	ErrInvalidActor = errors.New("actor not permitted")
	// ErrValidation indicates a parameter out of bounds.
	ErrValidation = errors.New("validation failed")
	// ErrOfferExpired indicates the discount offer lapsed before the action.
	ErrOfferExpired = errors.New("offer expired")
	// ErrBidExpired indicates the bid's validity window has passed.
	ErrBidExpired = errors.New("bid expired")
	// ErrDuplicateDisbursement indicates a non-failed disbursement already
	// exists for the invoice.
	ErrDuplicateDisbursement = errors.New("disbursement already recorded")
	// ErrConcurrentModification indicates a losing optimistic-lock write.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// UserSafeMessage returns a message suitable for API consumers. Errors outside
// the taxonomy collapse to a generic message so internals never leak.
func UserSafeMessage(err error) string {
	for _, sentinel := range []error{
		ErrNotFound, ErrInvalidTransition, ErrInvalidActor, ErrValidation,
		ErrOfferExpired, ErrBidExpired, ErrDuplicateDisbursement, ErrConcurrentModification,
	} {
		if errors.Is(err, sentinel) {
			return err.Error()
		}
	}
	return "internal error"
}
