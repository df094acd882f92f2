// Package ports defines the core interfaces that form the contract between
// the domain/application layers and the infrastructure layer.
// These interfaces enable dependency inversion and make the system testable.
package ports

import (
	"context"

	"github.com/qaforge/botshield/internal/domain"
)

// DetectionLayer is one independent bot-detection opinion source.
// Layers are CPU-bound, pure, and side-effect-free: no network or disk I/O,
// no retained per-request state. They must be safe for concurrent use.
type DetectionLayer interface {
	// ID returns the stable layer identifier used in verdict maps,
	// fusion weights, and metrics (for example domain.LayerSignature).
	ID() string

	// Analyze inspects a single request and returns this layer's verdict.
	// A returned error marks the layer as failed for this request; the
	// coordinator excludes it from consensus and the remaining layer
	// weights renormalize. Analyze must respect context cancellation on
	// any long-running work.
	Analyze(ctx context.Context, req *domain.DetectionRequest) (domain.LayerVerdict, error)

	// Validate checks that the layer is properly configured and ready
	// for execution. It is called once at engine construction.
	Validate() error
}
