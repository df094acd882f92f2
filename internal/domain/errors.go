package domain

import (
	"errors"
	"fmt"
)

// Common domain errors that can occur during detection operations.
var (
	// ErrRateLimited indicates the client exceeded its request quota.
	// It is surfaced as a successful-but-denied verdict, never as a
	// failed call.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrInvalidInput indicates a nil or structurally empty request.
	// The engine treats it conservatively (suspicious) rather than
	// rejecting the call.
	ErrInvalidInput = errors.New("invalid detection input")

	// ErrAllLayersFailed indicates every selected layer failed, leaving
	// nothing to fuse.
	ErrAllLayersFailed = errors.New("all detection layers failed")

	// ErrInvalidPriority indicates a priority value outside the defined
	// enum. This is a programming-contract violation and fails loudly at
	// construction time.
	ErrInvalidPriority = errors.New("invalid detection priority")

	// ErrInvalidConfiguration indicates that configuration is invalid or
	// incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// LayerExecutionError records a single layer's failure. The coordinator
// recovers it locally: the layer is excluded from consensus and the
// remaining weights renormalize.
type LayerExecutionError struct {
	// LayerID identifies the failing layer.
	LayerID string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface for LayerExecutionError.
func (e *LayerExecutionError) Error() string {
	return fmt.Sprintf("layer %s: execution failed: %v", e.LayerID, e.Err)
}

// Unwrap returns the underlying error, supporting errors.Is/As chains.
func (e *LayerExecutionError) Unwrap() error { return e.Err }

// NewLayerExecutionError creates a LayerExecutionError for the given layer.
func NewLayerExecutionError(layerID string, err error) *LayerExecutionError {
	return &LayerExecutionError{LayerID: layerID, Err: err}
}
