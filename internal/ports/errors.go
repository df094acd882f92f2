package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur at the engine's boundary
// with caches and other external stores.
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = errors.New("operation timed out")

	// ErrCacheCorrupted indicates that cached data is corrupted or
	// could not be decoded.
	ErrCacheCorrupted = errors.New("cache corrupted")

	// ErrCacheUnavailable indicates that the cache backend cannot be
	// reached. Callers degrade to recomputing, never to failing.
	ErrCacheUnavailable = errors.New("cache unavailable")
)

// CacheError represents a failure in a cache backend operation.
// It carries the operation and key for diagnostics.
type CacheError struct {
	// Operation is the cache operation that failed (get, set, delete).
	Operation string

	// Key is the cache key involved in the failure.
	Key string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for CacheError.
func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s for key %q: %v", e.Operation, e.Key, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is/As chains.
func (e *CacheError) Unwrap() error { return e.Err }
