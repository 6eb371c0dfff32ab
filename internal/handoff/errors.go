package handoff

import "errors"

// ErrMissingField is returned by IsRunHandoff when a required field is
// absent or zero-valued; wrapped with the field name via fmt.Errorf.
var ErrMissingField = errors.New("handoff: missing required field")
