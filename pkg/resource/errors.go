package resource

import "fmt"

// ListingError means a kind could not be enumerated in a region.
// The kind contributes nothing to that region's result.
type ListingError struct {
	Kind   Kind
	Region string
	Err    error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("list %s in %s: %v", e.Kind, e.Region, e.Err)
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// ActionError means a mutation or tag call failed for a single resource.
type ActionError struct {
	Kind Kind
	ID   string
	Op   string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
