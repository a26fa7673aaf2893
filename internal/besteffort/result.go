// Package besteffort models operations whose failure is logged and then
// deliberately ignored by the caller.
package besteffort

import "go.uber.org/zap"

// Result is the outcome of a best-effort operation. Callers discard it on
// purpose; the failure has already been logged.
type Result struct {
	Op  string
	Err error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Do runs fn and logs a failure at warn level.
func Do(logger *zap.Logger, op string, fn func() error, fields ...zap.Field) Result {
	err := fn()
	if err != nil && logger != nil {
		logger.Warn(op+" failed", append(fields, zap.Error(err))...)
	}
	return Result{Op: op, Err: err}
}
