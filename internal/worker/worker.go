// Package worker implements the session queue and worker C8: a single
// cooperative consumer draining a FIFO of pending sessions through the
// fourteen-step pipeline of spec.md §4.8, plus idle-time backup/retention
// triggers. Grounded on the teacher's worker/pool.go single-loop-per-worker
// shape, simplified to the spec's single-consumer requirement (ordering must
// be strict enqueue order, so no concurrent workers are spawned per queue).
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"eve.evalgo.org/memoryengine/internal/advisory"
	"eve.evalgo.org/memoryengine/internal/archive"
	"eve.evalgo.org/memoryengine/internal/contextstore"
	"eve.evalgo.org/memoryengine/internal/degradation"
	"eve.evalgo.org/memoryengine/internal/integrity"
	"eve.evalgo.org/memoryengine/internal/modelclient"
	"eve.evalgo.org/memoryengine/internal/sessionstore"
	"eve.evalgo.org/memoryengine/internal/transcripts"
)

// Alerter sends a message through the external alert channel (spec.md §6).
type Alerter interface {
	Send(ctx context.Context, message string) error
}

// IdleHooks lets C11 (internal/retention, which worker does not import)
// plug in the every-24h backup and retention routines triggered from the
// idle path.
type IdleHooks interface {
	RunBackup(ctx context.Context) error
	RunRetention(ctx context.Context) error
}

// noopIdleHooks is used when no hooks are configured.
type noopIdleHooks struct{}

func (noopIdleHooks) RunBackup(context.Context) error   { return nil }
func (noopIdleHooks) RunRetention(context.Context) error { return nil }

// noopAlerter is used when no alert channel is configured.
type noopAlerter struct{}

func (noopAlerter) Send(context.Context, string) error { return nil }

// Deps bundles every collaborator the pipeline needs.
type Deps struct {
	Log          *logrus.Logger
	Degrade      *degradation.Manager
	Model        *modelclient.Client
	Archive      *archive.Store
	Context      *contextstore.Store
	Transcripts  *transcripts.Store
	Advisory     *advisory.Store
	Sessions     *sessionstore.Store
	LearningMode bool
	KnownFacts   string // markdown ledger text, reference only (spec.md §4.7)
	IntegrityOpts integrity.Options
	Alerter      Alerter
	IdleHooks    IdleHooks
}

// Worker is the session queue & worker C8.
type Worker struct {
	deps     Deps
	queue    Queue
	limiter  *rate.Limiter
	idlePoll time.Duration
	now      func() time.Time

	processedCount int
	failureCount   int
	skippedCount   int
	lastIdleReset  time.Time
	idleSince      time.Time
	knownFacts     map[string][]string
}

// New creates a Worker. rateLimitPerMinute controls the minimum inter-task
// interval (60/rateLimitPerMinute seconds, spec.md §4.8).
func New(deps Deps, queue Queue, rateLimitPerMinute int) *Worker {
	if deps.IdleHooks == nil {
		deps.IdleHooks = noopIdleHooks{}
	}
	if deps.Alerter == nil {
		deps.Alerter = noopAlerter{}
	}
	if rateLimitPerMinute <= 0 {
		rateLimitPerMinute = 1
	}
	return &Worker{
		deps:       deps,
		queue:      queue,
		limiter:    rate.NewLimiter(rate.Limit(float64(rateLimitPerMinute)/60.0), 1),
		idlePoll:   5 * time.Second,
		now:        time.Now,
		knownFacts: integrity.LoadKnownFacts(deps.KnownFacts),
	}
}

// Stats is the externally visible counters surfaced at GET /api/worker.
type Stats struct {
	Processed int
	Failed    int
	Skipped   int
	QueueDepth int
}

// Stats returns current pipeline counters plus current queue depth.
func (w *Worker) Stats(ctx context.Context) Stats {
	depth, _ := w.queue.Depth(ctx)
	return Stats{Processed: w.processedCount, Failed: w.failureCount, Skipped: w.skippedCount, QueueDepth: depth}
}

// Enqueue pushes a new session onto the tail of the queue.
func (w *Worker) Enqueue(ctx context.Context, sessionID, sessionFilePath string) error {
	return w.queue.Enqueue(ctx, Entry{SessionID: sessionID, SessionFilePath: sessionFilePath, EnqueuedAt: w.now()})
}

// Run drains the queue until ctx is cancelled. It is the single cooperative
// consumer spec.md §4.8 requires: sessions process strictly in enqueue
// order, one at a time, with no reordering by significance.
func (w *Worker) Run(ctx context.Context) {
	w.idleSince = w.now()
	w.lastIdleReset = w.now()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, ok, err := w.queue.Dequeue(ctx, w.idlePoll)
		if err != nil {
			if w.deps.Log != nil {
				w.deps.Log.WithError(err).Warn("queue dequeue error")
			}
			continue
		}
		if !ok {
			w.handleIdleTick(ctx)
			continue
		}
		w.idleSince = w.now()

		if requeued := w.processEntry(ctx, entry); requeued {
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return
		}
	}
}

func (w *Worker) handleIdleTick(ctx context.Context) {
	if w.now().Sub(w.lastIdleReset) >= 24*time.Hour {
		w.lastIdleReset = w.now()
		if err := w.deps.IdleHooks.RunBackup(ctx); err != nil && w.deps.Log != nil {
			w.deps.Log.WithError(err).Warn("idle backup failed")
		}
		if err := w.deps.IdleHooks.RunRetention(ctx); err != nil && w.deps.Log != nil {
			w.deps.Log.WithError(err).Warn("idle retention failed")
		}
	}
}

// processEntry runs the per-session pipeline, returning true if the entry
// was re-enqueued (gate closed) rather than processed to completion.
func (w *Worker) processEntry(ctx context.Context, entry Entry) bool {
	if !w.deps.Degrade.CanCall(degradation.DepOpenRouter) {
		_ = w.queue.EnqueueTail(ctx, entry)
		select {
		case <-time.After(30 * time.Second):
		case <-ctx.Done():
		}
		return true
	}

	outcome := w.processSession(ctx, entry)
	switch outcome {
	case outcomeProcessed:
		w.processedCount++
		w.runPeriodicAnalyses(ctx)
	case outcomeSkipped:
		w.skippedCount++
	case outcomeFailed:
		w.failureCount++
	}
	return false
}

type outcome int

const (
	outcomeProcessed outcome = iota
	outcomeSkipped
	outcomeFailed
)
