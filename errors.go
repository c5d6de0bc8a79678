package convdispatch

import "errors"

var (
	// ErrInvalidBatchSize indicates that the requested batch size is not positive.
	ErrInvalidBatchSize = errors.New("convdispatch: batch size must be positive")
	// ErrMalformedPayload indicates that an event payload failed validation.
	ErrMalformedPayload = errors.New("convdispatch: malformed event payload")
	// ErrInvalidPolicy indicates that a router policy cannot be applied.
	ErrInvalidPolicy = errors.New("convdispatch: invalid routing policy")
	// ErrBackendRequired is returned when a nil Backend is provided.
	ErrBackendRequired = errors.New("convdispatch: queue backend is required")
	// ErrStoreRequired is returned when a nil EventStore is provided.
	ErrStoreRequired = errors.New("convdispatch: event store is required")
	// ErrEnqueuerRequired is returned when a nil Enqueuer is provided.
	ErrEnqueuerRequired = errors.New("convdispatch: enqueuer is required")
	// ErrAlreadyRunning is returned when Run is called on a running dispatcher.
	ErrAlreadyRunning = errors.New("convdispatch: dispatcher is already running")
	// ErrCyclePanic indicates a recovered panic inside a dispatch cycle.
	ErrCyclePanic = errors.New("convdispatch: dispatch cycle panic")
	// ErrDependencyUnavailable indicates a failed startup health check.
	ErrDependencyUnavailable = errors.New("convdispatch: dependency unavailable")
)
