// Package ferr distinguishes fatal election errors — configuration
// mismatches, malformed chain config, exhausted ticktock attempts — from
// the retryable errors the outer backoff loop is meant to absorb (§7).
package ferr

import "errors"

// Fatal wraps an error that must abort the retry loop rather than be
// retried.
type Fatal struct {
	err error
}

// New wraps err as fatal.
func New(err error) *Fatal { return &Fatal{err: err} }

func (f *Fatal) Error() string { return f.err.Error() }
func (f *Fatal) Unwrap() error { return f.err }

// Is reports whether err is, or wraps, a Fatal error.
func Is(err error) bool {
	var f *Fatal
	return errors.As(err, &f)
}
