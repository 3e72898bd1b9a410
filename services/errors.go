package services

import "errors"

// Error taxonomy for the lifecycle engine. Callers branch with errors.Is;
// everything else is a wrapped transient error surfaced through alerts.
var (
	// ErrValidation marks rejected caller input. Nothing is mutated.
	ErrValidation = errors.New("validation error")

	// ErrNoExpirationsAvailable is returned when an empty expiration set
	// is offered to the expiration selector.
	ErrNoExpirationsAvailable = errors.New("no expirations available")

	// ErrNoContractsAvailable is returned when filtering leaves no
	// candidate contracts for strike selection.
	ErrNoContractsAvailable = errors.New("no contracts available")

	// ErrInvalidSpreadStructure is returned when spread legs violate the
	// strike or delta ordering invariants.
	ErrInvalidSpreadStructure = errors.New("invalid spread structure")

	// ErrSelectionRejected is returned by selection validation when the
	// chosen contract fails the quality thresholds.
	ErrSelectionRejected = errors.New("selection rejected by validation")

	// ErrPositionNotFound is returned for unknown position IDs.
	ErrPositionNotFound = errors.New("position not found")
)
