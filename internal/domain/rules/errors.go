package rules

import "errors"

var (
	// ErrFrameworkNotFound is returned when a framework ID is unknown.
	ErrFrameworkNotFound = errors.New("framework not found")

	// ErrInvalidCatalog is returned when a catalog fails validation.
	ErrInvalidCatalog = errors.New("invalid framework catalog")
)
