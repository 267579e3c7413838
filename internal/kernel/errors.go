package kernel

import "errors"

var (
	// ErrNotFound reports an unknown or no-longer-active transaction handle.
	ErrNotFound = errors.New("transaction not found")

	// ErrSuspendExpired reports a resume attempt on a record past its
	// expiry. Expired records are only eligible for auto-void.
	ErrSuspendExpired = errors.New("suspended transaction expired")

	// ErrClosed reports an operation on a closed kernel.
	ErrClosed = errors.New("kernel closed")

	// ErrDurabilityUnavailable is the distinguished fatal condition: the
	// write-ahead log cannot be established at startup. The kernel refuses
	// to run without provable durability; the composing application
	// decides whether that means exiting the process.
	ErrDurabilityUnavailable = errors.New("durable logging unavailable")
)
