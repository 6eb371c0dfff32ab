package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/agentops/runqueue/internal/artifact"
	"github.com/agentops/runqueue/internal/handoff"
	"github.com/agentops/runqueue/internal/queue"
)

// Default worker tunables (spec §5 "Limits").
const (
	DefaultPollInterval          = time.Second
	DefaultRequeueSleep          = 200 * time.Millisecond
	DefaultHeartbeatInterval     = 15 * time.Second
	DefaultMaxAttempts           = 3
	DefaultMaxPlanRetries        = 2
	DefaultMaxImplementorRetries = 3
	DefaultMaxReviewRetries      = 3
	DefaultBranchPrefix          = "queue"
)

// Worker repeatedly claims and executes jobs from a queue.Store until its
// context is cancelled. Concurrency across workers is mediated entirely by
// the queue store's transactions; a Worker is internally single-threaded on
// its critical path.
type Worker struct {
	Store     *queue.Store
	Artifacts *artifact.Store
	Owner     string

	Planner     Planner
	Implementor Implementor
	Reviewer    Reviewer
	Tester      Tester

	PollInterval      time.Duration
	RequeueSleep      time.Duration
	HeartbeatInterval time.Duration

	MaxAttempts           int
	MaxPlanRetries        int
	MaxImplementorRetries int
	MaxReviewRetries      int
	BranchPrefix          string
}

// NewWorker returns a Worker with spec-default tunables and the given owner id.
func NewWorker(store *queue.Store, artifacts *artifact.Store, owner string, p Planner, i Implementor, r Reviewer, t Tester) *Worker {
	return &Worker{
		Store:                 store,
		Artifacts:             artifacts,
		Owner:                 owner,
		Planner:               p,
		Implementor:           i,
		Reviewer:              r,
		Tester:                t,
		PollInterval:          DefaultPollInterval,
		RequeueSleep:          DefaultRequeueSleep,
		HeartbeatInterval:     DefaultHeartbeatInterval,
		MaxAttempts:           DefaultMaxAttempts,
		MaxPlanRetries:        DefaultMaxPlanRetries,
		MaxImplementorRetries: DefaultMaxImplementorRetries,
		MaxReviewRetries:      DefaultMaxReviewRetries,
		BranchPrefix:          DefaultBranchPrefix,
	}
}

// Run repeats the main cycle until ctx is cancelled: recover stale work,
// claim one job, acquire its run's lease, dispatch it, and ack the result.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		if result, err := w.Store.RecoverStale(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "worker %s: recover stale: %v\n", w.Owner, err)
		} else if result.RequeuedJobs > 0 || result.ReleasedLeases > 0 {
			fmt.Fprintf(os.Stderr, "worker %s: recovered %d stale job(s), released %d lease(s)\n",
				w.Owner, result.RequeuedJobs, result.ReleasedLeases)
		}

		job, err := w.Store.ClaimOne(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "worker %s: claim: %v\n", w.Owner, err)
			sleep(ctx, w.PollInterval)
			continue
		}
		if job == nil {
			sleep(ctx, w.PollInterval)
			continue
		}

		if job.Attempt > w.MaxAttempts {
			if err := w.Store.MarkFailed(ctx, job.ID, "Max attempts exceeded."); err != nil {
				fmt.Fprintf(os.Stderr, "worker %s: mark failed (max attempts): %v\n", w.Owner, err)
			}
			continue
		}

		granted, err := w.Store.AcquireLease(ctx, job.RunID, w.Owner)
		if err != nil {
			fmt.Fprintf(os.Stderr, "worker %s: acquire lease: %v\n", w.Owner, err)
			sleep(ctx, w.RequeueSleep)
			continue
		}
		if !granted {
			if err := w.Store.Requeue(ctx, job.ID); err != nil {
				fmt.Fprintf(os.Stderr, "worker %s: requeue after lease denial: %v\n", w.Owner, err)
			}
			sleep(ctx, w.RequeueSleep)
			continue
		}

		w.runJob(ctx, job)
	}
}

// runJob owns one claimed, leased job end to end: in-progress marker,
// heartbeat, dispatch, ack, lease release.
func (w *Worker) runJob(ctx context.Context, job *queue.Job) {
	defer func() {
		if err := w.Store.ReleaseLease(ctx, job.RunID, w.Owner); err != nil {
			fmt.Fprintf(os.Stderr, "worker %s: release lease for %s: %v\n", w.Owner, job.RunID, err)
		}
	}()

	var h handoff.Handoff
	if err := w.Artifacts.ReadJSON(job.RunID, artifact.KindHandoff.Filename(), &h); err != nil {
		_ = w.Store.MarkFailed(ctx, job.ID, fmt.Sprintf("read handoff: %v", err))
		return
	}
	h.State.Phase = handoff.Phase(job.Phase)
	h.State.Status = handoff.StatusInProgress
	if err := w.Artifacts.WriteJSON(job.RunID, artifact.KindHandoff.Filename(), h); err != nil {
		_ = w.Store.MarkFailed(ctx, job.ID, fmt.Sprintf("write in-progress handoff: %v", err))
		return
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go w.heartbeat(hbCtx, job, heartbeatDone)

	err := w.ProcessJob(ctx, job)

	stopHeartbeat()
	<-heartbeatDone

	if err == nil {
		if ackErr := w.Store.MarkDone(ctx, job.ID); ackErr != nil {
			fmt.Fprintf(os.Stderr, "worker %s: mark done for job %d: %v\n", w.Owner, job.ID, ackErr)
		}
		return
	}

	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		// Transient: leave the handoff untouched and put the job back for
		// another attempt (bounded by MaxAttempts) after a short pause.
		if rqErr := w.Store.Requeue(ctx, job.ID); rqErr != nil {
			fmt.Fprintf(os.Stderr, "worker %s: requeue after transport error for job %d: %v\n", w.Owner, job.ID, rqErr)
		}
		sleep(ctx, w.RequeueSleep)
		return
	}

	message := err.Error()
	if ackErr := w.Store.MarkFailed(ctx, job.ID, message); ackErr != nil {
		fmt.Fprintf(os.Stderr, "worker %s: mark failed for job %d: %v\n", w.Owner, job.ID, ackErr)
	}
	if errors.Is(err, ErrCancelled) {
		// The handoff already reads cancelled; it must not be overwritten.
		return
	}

	var current handoff.Handoff
	if readErr := w.Artifacts.ReadJSON(job.RunID, artifact.KindHandoff.Filename(), &current); readErr != nil {
		fmt.Fprintf(os.Stderr, "worker %s: re-read handoff for %s: %v\n", w.Owner, job.RunID, readErr)
		return
	}
	if current.State.Status == handoff.StatusFailed {
		// The phase handler already recorded the failure and its reason.
		return
	}
	failed := handoff.Update(current, handoff.UpdateParams{
		Phase:   handoff.Phase(job.Phase),
		Status:  handoff.StatusFailed,
		EndedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Next:    nil,
		Note:    message,
	})
	if writeErr := w.Artifacts.WriteJSON(job.RunID, artifact.KindHandoff.Filename(), failed); writeErr != nil {
		fmt.Fprintf(os.Stderr, "worker %s: write failed handoff for %s: %v\n", w.Owner, job.RunID, writeErr)
	}
}

func (w *Worker) heartbeat(ctx context.Context, job *queue.Job, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(w.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Store.Touch(context.Background(), job.ID); err != nil {
				fmt.Fprintf(os.Stderr, "worker %s: heartbeat touch job %d: %v\n", w.Owner, job.ID, err)
			}
			if err := w.Store.TouchLease(context.Background(), job.RunID, w.Owner); err != nil {
				fmt.Fprintf(os.Stderr, "worker %s: heartbeat touch lease %s: %v\n", w.Owner, job.RunID, err)
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
