package handoff

import "fmt"

// IsRunHandoff reports whether a decoded handoff carries the fields every
// consumer depends on: run, task, state.{phase,status,iteration,
// maxIterations,history}, artifacts, and notes. If Next is present it must
// carry an agent name. Used at the boundary after decoding untrusted JSON,
// since Go's json.Unmarshal happily zero-fills missing fields.
func IsRunHandoff(h Handoff) error {
	if h.Run.ID == "" {
		return fmt.Errorf("%w: run.id", ErrMissingField)
	}
	if h.Task.ID == "" && h.Task.Prompt == "" {
		return fmt.Errorf("%w: task", ErrMissingField)
	}
	if h.State.Phase == "" {
		return fmt.Errorf("%w: state.phase", ErrMissingField)
	}
	if h.State.Status == "" {
		return fmt.Errorf("%w: state.status", ErrMissingField)
	}
	if h.State.Iteration == 0 {
		return fmt.Errorf("%w: state.iteration", ErrMissingField)
	}
	if h.State.MaxIterations == 0 {
		return fmt.Errorf("%w: state.maxIterations", ErrMissingField)
	}
	if h.State.History == nil {
		return fmt.Errorf("%w: state.history", ErrMissingField)
	}
	if h.Artifacts == nil {
		return fmt.Errorf("%w: artifacts", ErrMissingField)
	}
	if h.Notes == nil {
		return fmt.Errorf("%w: notes", ErrMissingField)
	}
	if h.Next != nil && h.Next.Agent == "" {
		return fmt.Errorf("%w: next.agent", ErrMissingField)
	}
	return nil
}

// IsTerminal reports whether a status admits no further phase transitions.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
