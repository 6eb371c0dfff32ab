// Package handoff implements the engine's C3 value type: the per-run JSON
// document that tracks phase, status, history, artifact paths, the
// next-agent pointer, and run-scoped metadata. It is the engine's source of
// truth for run progress and is rewritten atomically on every transition by
// the artifact store.
package handoff

import "time"

// Phase is one stage of the five-phase pipeline.
type Phase string

const (
	PhasePlan      Phase = "plan"
	PhaseImplement Phase = "implement"
	PhaseReview    Phase = "review"
	PhaseTest      Phase = "test"
	PhasePR        Phase = "pr"
)

// Status is the run-level state attached to state.status and to each
// history entry.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Agent names a next-step executor, used in Next.Agent.
const (
	AgentPlanner     = "planner"
	AgentImplementer = "implementer"
	AgentReviewer    = "reviewer"
	AgentTester      = "tester"
)

// Repo describes a run's git workspace, populated incrementally: empty
// Root/Branch until the plan phase clones and creates the work branch.
type Repo struct {
	Root       string `json:"root"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"baseBranch"`
	URL        string `json:"url"`
}

// Run holds run-scoped metadata that does not change shape across phases.
type Run struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"createdAt"`
	Repo          Repo      `json:"repo"`
	KeepWorkspace bool      `json:"keepWorkspace"`
}

// Task describes the work item driving the run.
type Task struct {
	ID     string `json:"id"`
	Prompt string `json:"prompt"`
	Mode   string `json:"mode,omitempty"`
}

// HistoryEntry records one completed phase transition. History is
// append-only: see AppendHistory and Update.
type HistoryEntry struct {
	Phase    Phase  `json:"phase"`
	Status   Status `json:"status"`
	EndedAt  string `json:"endedAt"`
	Artifact string `json:"artifact,omitempty"`
}

// State is the engine's current position in the phase state machine.
type State struct {
	Phase         Phase          `json:"phase"`
	Status        Status         `json:"status"`
	Iteration     int            `json:"iteration"`
	MaxIterations int            `json:"maxIterations"`
	History       []HistoryEntry `json:"history"`
}

// Constraints carries cross-phase decisions, notably whether the plan
// requires a behavior-changing test run.
type Constraints struct {
	RequireTestsForBehaviorChange bool `json:"requireTestsForBehaviorChange"`
}

// Next points at the following phase's executor and its required inputs.
// Absent (nil) once a run reaches a terminal status, per I10.
type Next struct {
	Agent          string   `json:"agent"`
	InputArtifacts []string `json:"inputArtifacts"`
	Instructions   []string `json:"instructions"`
}

// Handoff is the full per-run document persisted as handoff.json.
type Handoff struct {
	Run         Run               `json:"run"`
	Task        Task              `json:"task"`
	State       State             `json:"state"`
	Artifacts   map[string]string `json:"artifacts"`
	Constraints Constraints       `json:"constraints,omitempty"`
	Next        *Next             `json:"next,omitempty"`
	Notes       []string          `json:"notes"`
}

// CreateParams supplies the fields a submitter knows when minting a run.
// MaxIterations overrides DefaultMaxIterations when non-zero, letting a
// submitter wire in the engine's configured review-retry budget.
type CreateParams struct {
	Run           Run
	Task          Task
	Next          *Next
	Artifacts     map[string]string
	MaxIterations int
}

// DefaultMaxIterations is the per-run iteration ceiling recorded in state
// at creation time (distinct from the queue store's per-job MAX_ATTEMPTS).
const DefaultMaxIterations = 3

// CreateQueued produces the initial handoff for a freshly submitted run:
// phase=plan, status=queued, iteration=1, empty history.
func CreateQueued(p CreateParams) Handoff {
	artifacts := p.Artifacts
	if artifacts == nil {
		artifacts = map[string]string{}
	}
	maxIterations := p.MaxIterations
	if maxIterations == 0 {
		maxIterations = DefaultMaxIterations
	}
	return Handoff{
		Run:  p.Run,
		Task: p.Task,
		State: State{
			Phase:         PhasePlan,
			Status:        StatusQueued,
			Iteration:     1,
			MaxIterations: maxIterations,
			History:       []HistoryEntry{},
		},
		Artifacts: artifacts,
		Next:      p.Next,
		Notes:     []string{},
	}
}

// AppendHistory returns a new handoff with one more history entry appended.
// It never mutates h; the underlying history slice is copied so earlier
// snapshots held by callers remain stable (I8).
func AppendHistory(h Handoff, entry HistoryEntry) Handoff {
	out := h
	history := make([]HistoryEntry, len(h.State.History), len(h.State.History)+1)
	copy(history, h.State.History)
	out.State.History = append(history, entry)
	return out
}

// UpdateParams describes a single state transition. Artifacts is merged only
// when non-nil, so callers can leave it untouched; Next is always assigned as
// passed, so a nil Next clears it.
type UpdateParams struct {
	Phase     Phase
	Status    Status
	Artifact  string
	EndedAt   string
	Next      *Next
	Artifacts map[string]string
	Note      string
}

// Update returns a new handoff that appends a history entry for this
// transition, sets state.{phase,status}, merges in any supplied artifacts
// (partial override, existing keys preserved), replaces Next when provided,
// and appends Note when non-empty. Per I10, callers pass Next = nil for
// terminal transitions (failed, cancelled, or pr's completed); Update does
// not second-guess that — it always assigns exactly what is passed.
func Update(h Handoff, p UpdateParams) Handoff {
	out := AppendHistory(h, HistoryEntry{
		Phase:    p.Phase,
		Status:   p.Status,
		EndedAt:  p.EndedAt,
		Artifact: p.Artifact,
	})

	out.State.Phase = p.Phase
	out.State.Status = p.Status

	if p.Artifacts != nil {
		merged := make(map[string]string, len(out.Artifacts)+len(p.Artifacts))
		for k, v := range out.Artifacts {
			merged[k] = v
		}
		for k, v := range p.Artifacts {
			merged[k] = v
		}
		out.Artifacts = merged
	}

	out.Next = p.Next

	if p.Note != "" {
		notes := make([]string, len(out.Notes), len(out.Notes)+1)
		copy(notes, out.Notes)
		out.Notes = append(notes, p.Note)
	}

	return out
}

// LastHistory returns the most recent history entry and true, or the zero
// value and false when history is empty.
func LastHistory(h Handoff) (HistoryEntry, bool) {
	if len(h.State.History) == 0 {
		return HistoryEntry{}, false
	}
	return h.State.History[len(h.State.History)-1], true
}
