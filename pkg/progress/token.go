package progress

import (
	"context"
	"errors"
)

// ErrCancelRequested is the cause recorded on contexts cancelled through a
// Token.
var ErrCancelRequested = errors.New("cancellation requested")

// Token is the caller's handle for cooperative cancellation. Work is given
// Context() and polls it at bounded intervals; the holder calls Cancel.
type Token struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

// NewToken derives a cancellable context from parent. Cancelling parent
// also cancels the token.
func NewToken(parent context.Context) *Token {
	ctx, cancel := context.WithCancelCause(parent)
	return &Token{ctx: ctx, cancel: cancel}
}

func (t *Token) Context() context.Context { return t.ctx }

// Cancel requests cancellation. It is idempotent.
func (t *Token) Cancel() { t.cancel(ErrCancelRequested) }

// Cancelled reports whether cancellation has been requested.
func (t *Token) Cancelled() bool { return t.ctx.Err() != nil }

func (t *Token) Done() <-chan struct{} { return t.ctx.Done() }

// Release frees the token's resources once the work has finished.
func (t *Token) Release() { t.cancel(context.Canceled) }
