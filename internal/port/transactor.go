package port

import (
	"context"
	"errors"
	"sync"
)

var ErrVersionConflict = errors.New("record has been modified by another transaction")

// Transactor runs fn as one unit of work: every store call made with the ctx passed to fn
// commits together, or none does when fn returns an error.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// NopTransactor runs fn directly. Writes already made stay in place when fn fails.
type NopTransactor struct{}

func (NopTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type txMarkerKey struct{}

type txState struct {
	mu          sync.Mutex
	afterCommit []func()
}

// MarkTransaction flags ctx as running inside a unit of work.
func MarkTransaction(ctx context.Context) context.Context {
	return context.WithValue(ctx, txMarkerKey{}, &txState{})
}

// InTransaction reports whether ctx was produced by a Transactor.
func InTransaction(ctx context.Context) bool {
	_, ok := ctx.Value(txMarkerKey{}).(*txState)
	return ok
}

// AfterCommit defers fn until the unit of work carried by ctx commits. Outside a unit of work fn
// runs immediately. Hooks are dropped on rollback.
func AfterCommit(ctx context.Context, fn func()) {
	st, ok := ctx.Value(txMarkerKey{}).(*txState)
	if !ok {
		fn()
		return
	}
	st.mu.Lock()
	st.afterCommit = append(st.afterCommit, fn)
	st.mu.Unlock()
}

// Committed runs the hooks registered on ctx. Transactors call it once their commit succeeded.
func Committed(ctx context.Context) {
	st, ok := ctx.Value(txMarkerKey{}).(*txState)
	if !ok {
		return
	}
	st.mu.Lock()
	hooks := st.afterCommit
	st.afterCommit = nil
	st.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
