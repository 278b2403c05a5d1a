package journal

import (
	"context"
	"sync"
)

// phase admits one submission at a time, in reservation order. A
// submission reserves its slot ahead of blocking on it so the ordering
// fixed at reservation time cannot be overtaken later.
type phase struct {
	mu   sync.Mutex
	busy bool
	wait []chan struct{}
}

func (p *phase) reserve() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	if !p.busy {
		p.busy = true
		close(ch)
		return ch
	}
	p.wait = append(p.wait, ch)
	return ch
}

func (p *phase) leave() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.wait) > 0 {
		ch := p.wait[0]
		p.wait = p.wait[1:]
		close(ch)
		return
	}
	p.busy = false
}

// abandon withdraws a reserved ticket. If the ticket was already
// admitted by the time the caller gave up, the slot is released so the
// next waiter proceeds.
func (p *phase) abandon(ticket chan struct{}) {
	p.mu.Lock()
	for i, ch := range p.wait {
		if ch == ticket {
			p.wait = append(p.wait[:i], p.wait[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()
	p.leave()
}

// writePipeline orders record submissions through two strictly ordered
// phases: device submission, which holds a submission until its device
// writes are durable, and finalize, under which cursors are mutated.
// Admission at each phase is FIFO.
type writePipeline struct {
	deviceSubmission phase
	finalize         phase
}

// orderingHandle tracks one submission through the pipeline. The device
// submission slot is reserved at construction, so handles created in
// reservation order are admitted in that order.
type orderingHandle struct {
	pl      *writePipeline
	ticket  chan struct{}
	current *phase
}

func (pl *writePipeline) newHandle() *orderingHandle {
	return &orderingHandle{
		pl:     pl,
		ticket: pl.deviceSubmission.reserve(),
	}
}

// enterDeviceSubmission blocks until the submission is admitted.
// Cancellation is honored here only; once admitted the submission must
// run to finalize.
func (h *orderingHandle) enterDeviceSubmission(ctx context.Context) error {
	select {
	case <-h.ticket:
		h.current = &h.pl.deviceSubmission
		return nil
	case <-ctx.Done():
		h.pl.deviceSubmission.abandon(h.ticket)
		return ctx.Err()
	}
}

// enterFinalize reserves the finalize slot before releasing device
// submission, so a later submission cannot reorder past this one.
func (h *orderingHandle) enterFinalize() {
	ticket := h.pl.finalize.reserve()
	h.pl.deviceSubmission.leave()
	h.current = nil
	<-ticket
	h.current = &h.pl.finalize
}

func (h *orderingHandle) exit() {
	if h.current != nil {
		h.current.leave()
		h.current = nil
	}
}
