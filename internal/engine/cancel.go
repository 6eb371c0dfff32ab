package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/agentops/runqueue/internal/queue"
)

// Cancel implements C7: it cancels every non-terminal job of a run and
// force-releases its lease unconditionally, then marks the handoff
// cancelled if one exists. Idempotent (spec §7 "cancel is idempotent").
func Cancel(ctx context.Context, store *queue.Store, artifacts *artifact.Store, runID string) error {
	if err := store.CancelRun(ctx, runID); err != nil {
		return fmt.Errorf("cancel %s: %w", runID, err)
	}
	if err := store.ForceReleaseLease(ctx, runID); err != nil {
		return fmt.Errorf("cancel %s: %w", runID, err)
	}

	var h handoff.Handoff
	if err := artifacts.ReadJSON(runID, artifact.KindHandoff.Filename(), &h); err != nil {
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			return nil
		}
		return fmt.Errorf("cancel %s: read handoff: %w", runID, err)
	}

	h = handoff.Update(h, handoff.UpdateParams{
		Phase:   h.State.Phase,
		Status:  handoff.StatusCancelled,
		EndedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Next:    nil,
		Note:    "Cancelled by user.",
	})
	if err := artifacts.WriteJSON(runID, artifact.KindHandoff.Filename(), h); err != nil {
		return fmt.Errorf("cancel %s: write handoff: %w", runID, err)
	}
	return nil
}
