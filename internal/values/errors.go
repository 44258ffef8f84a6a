package values

import "fmt"

// UnknownValueError reports a lookup for an id that is neither in the
// in-memory index nor recoverable from the archive.
type UnknownValueError struct {
	ID string
}

func (e *UnknownValueError) Error() string {
	return fmt.Sprintf("unknown value %q", e.ID)
}

// SchemaValidationError reports a payload that fails its declared type's
// validation contract.
type SchemaValidationError struct {
	TypeName string
	Reason   error
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("data does not satisfy type %q: %v", e.TypeName, e.Reason)
}

func (e *SchemaValidationError) Unwrap() error { return e.Reason }

// DedupViolationError is a defensive assertion: more than one stored
// value shares a content hash while deduplication is enabled. This
// indicates a broken invariant, never an expected condition.
type DedupViolationError struct {
	ContentHash string
	IDs         []string
}

func (e *DedupViolationError) Error() string {
	return fmt.Sprintf("dedup invariant violated: content hash %s maps to %d values %v",
		e.ContentHash, len(e.IDs), e.IDs)
}
