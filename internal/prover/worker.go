package prover

import (
	"context"
	"errors"
	"fmt"
)

type request struct {
	id    uint64
	arts  *artifacts
	score int64
}

type response struct {
	proof   Proof
	signals []string
	err     error
}

// worker computes one proof at a time. It exits when quit is closed or when
// a computation panics; done is closed after its pending entries are failed.
type worker struct {
	reqs chan request
	quit chan struct{}
	done chan struct{}
}

// workerLocked returns the live worker, starting one if needed.
func (e *Engine) workerLocked() *worker {
	if e.worker != nil {
		return e.worker
	}
	w := &worker{
		reqs: make(chan request),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	e.worker = w
	e.starts++
	go e.run(w)
	e.log.Debug().Int("starts", e.starts).Msg("worker_started")
	return w
}

func (e *Engine) run(w *worker) {
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", errWorkerCrashed, r)
			e.mu.Lock()
			if e.worker == w {
				e.worker = nil
			}
			n := e.failPendingLocked(w, err)
			e.mu.Unlock()
			e.log.Error().Err(err).Int("pending", n).Msg("worker_crashed")
		}
	}()

	for {
		select {
		case <-w.quit:
			return
		case req := <-w.reqs:
			p, signals, err := e.prove(req.arts, req.score)
			e.complete(req.id, response{proof: p, signals: signals, err: err})
		}
	}
}

// dispatch registers a pending call, hands it to the worker and waits for
// the matching response.
func (e *Engine) dispatch(ctx context.Context, arts *artifacts, score int64) (response, error) {
	ch := make(chan response, 1)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return response{}, ErrEngineClosed
	}
	w := e.workerLocked()
	e.nextID++
	id := e.nextID
	e.pending[id] = &pendingCall{w: w, ch: ch}
	e.mu.Unlock()

	select {
	case w.reqs <- request{id: id, arts: arts, score: score}:
	case <-w.done:
		// The worker failed our entry before exiting; ch already holds it.
	case <-ctx.Done():
		e.take(id)
		return response{}, ctx.Err()
	}

	select {
	case resp := <-ch:
		if resp.err != nil && isWorkerErr(resp.err) {
			return response{}, resp.err
		}
		return resp, nil
	case <-ctx.Done():
		e.take(id)
		return response{}, ctx.Err()
	}
}

func isWorkerErr(err error) bool {
	return errors.Is(err, errWorkerCrashed) || errors.Is(err, ErrEngineClosed)
}

// complete resolves id if it is still pending. Late responses for entries
// already failed or timed out are dropped.
func (e *Engine) complete(id uint64, resp response) {
	if pc := e.take(id); pc != nil {
		pc.ch <- resp
	}
}

// take removes and returns the pending entry for id, or nil if it was
// already resolved.
func (e *Engine) take(id uint64) *pendingCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	pc, ok := e.pending[id]
	if !ok {
		return nil
	}
	delete(e.pending, id)
	return pc
}

// failPendingLocked fails every entry owned by w, or every entry when w is
// nil, and returns how many were failed.
func (e *Engine) failPendingLocked(w *worker, err error) int {
	n := 0
	for id, pc := range e.pending {
		if w != nil && pc.w != w {
			continue
		}
		delete(e.pending, id)
		pc.ch <- response{err: err}
		n++
	}
	return n
}

func (e *Engine) pendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) workerStarts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}
