package invoice

import (
	"fmt"

	"github.com/credinvoice/credinvoice/internal/shared"
)

// transitions is the closed transition table. A status missing from the map
// has no outgoing edges.
var transitions = map[Status][]Status{
	StatusDraft:             {StatusPendingAcceptance, StatusOpenForBidding, StatusCancelled},
	StatusPendingAcceptance: {StatusAccepted, StatusRejected, StatusExpired, StatusCancelled},
	StatusAccepted:          {StatusOpenForBidding, StatusDisbursed, StatusCancelled},
	StatusOpenForBidding:    {StatusBidSelected, StatusExpired, StatusCancelled},
	StatusBidSelected:       {StatusDisbursed, StatusCancelled},
	StatusDisbursed:         {StatusSettled},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Guard validates a transition for an invoice and returns a typed error when
// it is not legal. Callers apply the write only after the guard passes.
func Guard(inv Invoice, to Status) error {
	if !CanTransition(inv.Status, to) {
		return fmt.Errorf("invoice %d: %s -> %s: %w", inv.ID, inv.Status, to, shared.ErrInvalidTransition)
	}
	return nil
}

// Terminal reports whether the status has no outgoing edges.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Cancellable reports whether a buyer or seller may still cancel. Permitted
// until money moves: any state before DISBURSED that is not already terminal.
func (s Status) Cancellable() bool {
	return CanTransition(s, StatusCancelled)
}
