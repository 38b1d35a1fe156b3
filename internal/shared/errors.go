package shared

import "errors"

var (
	// ErrNotFound indicates the record does not exist within the caller's tenant.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition occurs when an action is not legal from the current status.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrValidation indicates the payload fails structural or business rules.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates a conditional write lost a race to a concurrent transition.
	ErrConflict = errors.New("concurrent transition conflict")
	// ErrDependency indicates deletion is blocked by dependent records.
	ErrDependency = errors.New("dependent records exist")
	// ErrNoTenant occurs when an operation is invoked without tenant context.
	ErrNoTenant = errors.New("tenant context missing")
)
