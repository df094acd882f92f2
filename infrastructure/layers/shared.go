// Package layers provides the independent bot-detection layers that
// implement the ports.DetectionLayer interface for the botshield engine.
package layers

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
)

// Common errors returned by detection layers.
var (
	// ErrEmptyLayerID is returned when attempting to create a layer with
	// an empty identifier.
	ErrEmptyLayerID = errors.New("layer id cannot be empty")

	// ErrNilRequest is returned when Analyze receives a nil request.
	ErrNilRequest = errors.New("detection request cannot be nil")
)

// Package-level validator instance for configuration validation.
// Uses go-playground/validator v10 for struct tag-based validation.
var validate = validator.New()

// foldCaser is a package-level Unicode case folder shared by all layers.
// This avoids creating a new caser for every phrase comparison.
var foldCaser = cases.Fold()

// fold normalizes a string for case-insensitive matching.
func fold(s string) string { return foldCaser.String(s) }
