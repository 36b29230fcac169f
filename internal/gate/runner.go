package gate

import (
	"context"
	"sync"

	"github.com/MJE43/zkpoh/internal/session"
)

// Emitter adapts a session's events onto a Gate. Scores are queued and
// decided one at a time on Run's goroutine; states are forwarded to Next.
type Emitter struct {
	Next session.Emitter

	scores chan session.ScoreEvent
}

// NewEmitter returns an Emitter queueing up to depth scores. The queue
// always holds at least the latest score.
func NewEmitter(depth int, next session.Emitter) *Emitter {
	if depth < 1 {
		depth = 1
	}
	return &Emitter{Next: next, scores: make(chan session.ScoreEvent, depth)}
}

// EmitState implements session.Emitter.
func (e *Emitter) EmitState(s session.Snapshot) {
	if e.Next != nil {
		e.Next.EmitState(s)
	}
}

// EmitScore implements session.Emitter. When the queue is full the oldest
// pending score is dropped; it belongs to an older epoch anyway.
func (e *Emitter) EmitScore(ev session.ScoreEvent) {
	if e.Next != nil {
		e.Next.EmitScore(ev)
	}
	for {
		select {
		case e.scores <- ev:
			return
		default:
		}
		select {
		case <-e.scores:
		default:
		}
	}
}

// Runner decides every score a session emits until its context ends.
type Runner struct {
	gate    *Gate
	emitter *Emitter

	mu        sync.Mutex
	decisions []Decision
	onDecide  func(Decision)
}

// NewRunner binds g to emitter. onDecide may be nil.
func NewRunner(g *Gate, emitter *Emitter, onDecide func(Decision)) *Runner {
	return &Runner{gate: g, emitter: emitter, onDecide: onDecide}
}

// Run blocks until ctx is done. current reports the session's live epoch.
func (r *Runner) Run(ctx context.Context, current func() uint64) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.emitter.scores:
			d, ok := r.gate.Decide(ctx, ev, current)
			if !ok {
				continue
			}
			r.mu.Lock()
			r.decisions = append(r.decisions, d)
			r.mu.Unlock()
			if r.onDecide != nil {
				r.onDecide(d)
			}
		}
	}
}

// Decisions returns every decision made so far.
func (r *Runner) Decisions() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Decision(nil), r.decisions...)
}
