package authmanager

import (
	"context"

	"github.com/aussiebroadwan/authkit/pkg/idx"
	"github.com/aussiebroadwan/authkit/pkg/refresh"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
)

// pendingOp is the single in-flight mutating operation. done closes when it
// settles. Events raised by the operation queue in events until the slot is
// released.
type pendingOp struct {
	id   idx.ID
	name string
	done chan struct{}

	events  []Event
	settled bool
}

func newPendingOp(name string) *pendingOp {
	return &pendingOp{id: idx.New(), name: name, done: make(chan struct{})}
}

type opKey struct{}

func withOp(ctx context.Context, op *pendingOp) context.Context {
	return context.WithValue(ctx, opKey{}, op)
}

func opFrom(ctx context.Context) *pendingOp {
	op, _ := ctx.Value(opKey{}).(*pendingOp)
	return op
}

func (m *Manager[P]) isPendingLocked() bool {
	return m.pending != nil || m.initial != nil
}

// emitFrom emits ev, or queues it when ctx belongs to an operation that still
// holds the pending slot.
func (m *Manager[P]) emitFrom(ctx context.Context, ev Event) {
	if op := opFrom(ctx); op != nil {
		m.mu.Lock()
		if !op.settled {
			op.events = append(op.events, ev)
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()
	}
	m.emit(ev)
}

// announcePending emits PendingStateChangedEvent when the pending state
// differs from the last one announced, and PendingActionCompleteEvent when it
// becomes false.
func (m *Manager[P]) announcePending() {
	m.mu.Lock()
	cur := m.isPendingLocked()
	if cur == m.announcedPending {
		m.mu.Unlock()
		return
	}
	m.announcedPending = cur
	m.mu.Unlock()

	m.emit(PendingStateChangedEvent{Pending: cur})
	if !cur {
		m.emit(PendingActionCompleteEvent{})
	}
}

// withPending serialises mutating operations through the pending slot.
//
// If another operation is in flight it waits for it to settle and then
// evaluates satisfied (with m.mu held); when that reports the goal is
// already met, work is skipped. Otherwise work runs as the new pending
// operation. The slot is cleared and the pending events emitted whether or
// not work fails.
//
// Events raised by work are delivered after the slot is released, so
// listeners may start new operations or send requests through Client.
// Calling back into the Manager from work itself with work's ctx fails with
// ErrReentrant.
func (m *Manager[P]) withPending(
	ctx context.Context,
	name string,
	satisfied func() bool,
	work func(ctx context.Context) error,
) error {
	waited := false
	m.mu.Lock()
	if op := opFrom(ctx); op != nil && op == m.pending {
		m.mu.Unlock()
		return ErrReentrant
	}
	for {
		if m.disposed {
			m.mu.Unlock()
			return ErrDisposed
		}
		if m.pending == nil {
			break
		}
		inflight := m.pending
		m.mu.Unlock()

		waited = true
		select {
		case <-inflight.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
	}

	if waited && satisfied() {
		m.mu.Unlock()
		return nil
	}

	op := newPendingOp(name)
	m.pending = op
	m.mu.Unlock()

	log := m.log(ctx).With("op", name, "op_id", op.id.String())
	ctx = withOp(refresh.WithoutRefresh(slogx.WithContext(ctx, log)), op)
	log.DebugContext(ctx, "auth_op_started")
	m.announcePending()

	defer func() {
		m.mu.Lock()
		m.pending = nil
		op.settled = true
		queued := op.events
		op.events = nil
		m.mu.Unlock()

		for _, ev := range queued {
			m.emit(ev)
		}
		m.announcePending()
		close(op.done)
	}()

	err := work(ctx)
	log.DebugContext(ctx, "auth_op_settled", "ok", err == nil)
	return err
}
