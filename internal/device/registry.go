// Package device holds the fixed allow-list of devices the relay serves.
package device

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownDevice is returned for identifiers outside the allow-list.
var ErrUnknownDevice = errors.New("unknown device")

// Registry is the set of valid device identifiers. It is built once from
// configuration and never mutated, so it is safe for concurrent use.
type Registry struct {
	ids []string
	set map[string]struct{}
}

// NewRegistry builds a Registry from ids, which must be non-empty and unique.
func NewRegistry(ids []string) (*Registry, error) {
	if len(ids) == 0 {
		return nil, errors.New("device allow-list is empty")
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, errors.New("device id cannot be empty")
		}
		if _, dup := set[id]; dup {
			return nil, fmt.Errorf("duplicate device id %q", id)
		}
		set[id] = struct{}{}
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	return &Registry{ids: sorted, set: set}, nil
}

// IsValid reports whether id is in the allow-list.
func (r *Registry) IsValid(id string) bool {
	_, ok := r.set[id]
	return ok
}

// Check returns an error wrapping ErrUnknownDevice when id is not allowed.
func (r *Registry) Check(id string) error {
	if !r.IsValid(id) {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	return nil
}

// IDs returns the allow-list in sorted order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Len returns the number of devices.
func (r *Registry) Len() int {
	return len(r.ids)
}
