// Package apperrors provides chainable error values for the sync pipeline. An Error carries a
// primary message, the errors it wraps, an optional HTTP status code and a small set of
// context fields (endpoint, blueprint, identifier) that callers attach once and log later.
package apperrors

// Error extends the standard error interface with wrapping and context helpers. Every method
// returns a new Error; the receiver is never mutated, so package-level sentinels can be
// specialised freely from concurrent goroutines.
type Error interface {
	error
	Unwrap() error // support for errors.Is / errors.As

	New(msg string) Error                  // fresh error that matches the receiver with errors.Is
	Msg(msg string) Error                  // new message, wraps the receiver
	MsgErr(msg string, err ...error) Error // new message, wraps the receiver and errs
	Err(err ...error) Error                // same message, wraps the receiver and errs
	SetStatusCode(int) Error
	StatusCode() int
	WithField(key string, value any) Error
	Fields() map[string]any
	ErrorAll() string   // message followed by every wrapped error
	UnwrapAll() []error // wrapped errors in the order they were attached
}
