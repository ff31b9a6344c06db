// Package rules provides the compliance frameworks and the rules that
// documents are evaluated against.
package rules

import "context"

// FrameworkRepository provides read access to framework reference data.
// Implementations must be safe for concurrent use; the data never changes
// while scans are running.
type FrameworkRepository interface {
	// ListFrameworks returns every known framework ordered by ID.
	ListFrameworks(ctx context.Context) ([]Framework, error)

	// GetFramework returns a single framework or ErrFrameworkNotFound.
	GetFramework(ctx context.Context, frameworkID string) (Framework, error)

	// GetRulesForFramework returns all rules of a framework or
	// ErrFrameworkNotFound when the framework does not exist. A known
	// framework with no rules yields an empty slice.
	GetRulesForFramework(ctx context.Context, frameworkID string) ([]Rule, error)
}

// Seeder loads a catalog into a store. Stores call it during init.
type Seeder interface {
	Seed(ctx context.Context, catalog *Catalog) error
}
