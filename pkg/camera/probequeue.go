package camera

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// probeStagger enforces a minimum spacing between successive probe starts
// — spec §4.6: serial probing avoids a thundering herd against a single
// RTSP-capable NIC on startup.
const probeStagger = 500 * time.Millisecond

// probeTicket is one queued probe attempt: the function to run plus a
// buffered response channel the submitter blocks on. Grounded on camsRelay
// pkg/nest/queue.go's CommandTicket/Response shape.
type probeTicket struct {
	fn       func() error
	response chan error
}

// probeQueue is a single-worker FIFO queue gating probe starts, grounded on
// pkg/nest/queue.go's CommandQueue workerLoop/processNextCommand — with the
// priority heap dropped, since spec §4.6 has exactly one priority class
// ("probe"), in favor of a plain FIFO channel. The worker never picks up
// ticket N+1 until ticket N's fn has returned, so this serializes whole
// probe attempts, not just their start times: two cameras can never be
// mid-DESCRIBE/SETUP/PLAY at once, matching the teacher's
// executeCommand-blocks-the-worker behavior.
type probeQueue struct {
	logger  *slog.Logger
	limiter *rate.Limiter
	submit  chan *probeTicket

	startOnce sync.Once
}

func newProbeQueue(logger *slog.Logger) *probeQueue {
	return &probeQueue{
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(probeStagger), 1),
		submit:  make(chan *probeTicket),
	}
}

// ensureWorker starts the single worker goroutine on first use. Later
// callers' ctx is irrelevant to the worker's own lifetime — it exits on
// whichever ctx started it being canceled, which in practice is the
// process-lifetime ctx every caller shares.
func (q *probeQueue) ensureWorker(ctx context.Context) {
	q.startOnce.Do(func() { go q.workerLoop(ctx) })
}

func (q *probeQueue) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ticket := <-q.submit:
			q.processTicket(ctx, ticket)
		}
	}
}

// processTicket paces admission with the limiter, then runs fn to
// completion before the worker loop reads its next ticket — the step that
// turns "staggered starts" into real serialization.
func (q *probeQueue) processTicket(ctx context.Context, ticket *probeTicket) {
	if err := q.limiter.Wait(ctx); err != nil {
		ticket.response <- err
		return
	}
	ticket.response <- ticket.fn()
}

// submitAndWait enqueues fn and blocks until it has fully run (or ctx is
// canceled before the worker gets to it), returning fn's error.
func (q *probeQueue) submitAndWait(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.ensureWorker(ctx)

	ticket := &probeTicket{fn: fn, response: make(chan error, 1)}
	select {
	case q.submit <- ticket:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ticket.response:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
