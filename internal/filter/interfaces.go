// Package filter provides a probabilistic negative-lookup structure sitting
// in front of the in-memory index. Cuckoo filters support deletion (unlike
// Bloom filters), which index key removal needs.
package filter

import "fmt"

// FilterStats reports basic filter health for the stats endpoint.
type FilterStats struct {
	Size              uint64  `json:"size"`
	Capacity          uint64  `json:"capacity"`
	LoadFactor        float64 `json:"load_factor"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
}

// FilterError describes a failed filter operation.
type FilterError struct {
	Operation string
	Message   string
}

func (e *FilterError) Error() string {
	return fmt.Sprintf("filter %s failed: %s", e.Operation, e.Message)
}

var (
	ErrFilterFull = &FilterError{Operation: "add", Message: "filter is full, cannot add more items"}
	ErrInvalidKey = &FilterError{Operation: "key", Message: "key cannot be empty"}
)
