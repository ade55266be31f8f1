package webhook

import "errors"

var (
	// ErrNotFound is returned by repositories when no record has the given id
	ErrNotFound = errors.New("webhook not found")
	// ErrInvalidTransition is returned when a conditional status update affects nothing
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrDuplicateDelivery is returned by Create when the delivery id was already stored
	ErrDuplicateDelivery = errors.New("duplicate delivery")
	// ErrInvalidInbound flags a delivery that cannot be persisted as given
	ErrInvalidInbound = errors.New("invalid inbound webhook")
)
