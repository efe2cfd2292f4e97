package retrieval

import (
	"fmt"
	"strings"
)

// PartialFailureError is returned in strict mode when one or more
// collection queries failed during hybrid search fan-out.
type PartialFailureError struct {
	Collections []string
	Causes      []error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("hybrid search: collections failed: %s", strings.Join(e.Collections, ", "))
}

func (e *PartialFailureError) Unwrap() []error { return e.Causes }

// TimeoutError is returned when the whole fan-out exceeded its deadline.
type TimeoutError struct {
	Elapsed string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("hybrid search: fan-out timed out after %s", e.Elapsed)
}
