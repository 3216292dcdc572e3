package apperrors

import (
	"errors"
	"maps"
	"strings"
)

type appError struct {
	msg        string
	base       error
	wrapped    []error
	statusCode int
	fields     map[string]any
}

// New creates a root error with the given message.
func New(msg string) Error {
	return &appError{msg: msg}
}

func (e *appError) Error() string {
	return e.msg
}

func (e *appError) ErrorAll() string {
	var b strings.Builder
	b.WriteString(e.msg)
	for _, err := range e.wrapped {
		if err == e.base {
			continue
		}
		b.WriteString(": ")
		if ae, ok := err.(Error); ok {
			b.WriteString(ae.ErrorAll())
		} else {
			b.WriteString(err.Error())
		}
	}
	return b.String()
}

func (e *appError) Unwrap() error {
	return e.base
}

func (e *appError) UnwrapAll() []error {
	return e.wrapped
}

func (e *appError) derive(msg string, errs ...error) *appError {
	return &appError{
		msg:        msg,
		base:       e,
		wrapped:    append([]error{e}, errs...),
		statusCode: e.statusCode,
		fields:     maps.Clone(e.fields),
	}
}

func (e *appError) New(msg string) Error {
	return &appError{
		msg:        msg,
		base:       e,
		statusCode: e.statusCode,
	}
}

func (e *appError) Msg(msg string) Error {
	return e.derive(msg)
}

func (e *appError) MsgErr(msg string, errs ...error) Error {
	return e.derive(msg, errs...)
}

func (e *appError) Err(errs ...error) Error {
	return e.derive(e.msg, errs...)
}

func (e *appError) SetStatusCode(code int) Error {
	cp := *e
	cp.statusCode = code
	return &cp
}

func (e *appError) StatusCode() int {
	return e.statusCode
}

func (e *appError) WithField(key string, value any) Error {
	cp := *e
	cp.fields = maps.Clone(e.fields)
	if cp.fields == nil {
		cp.fields = make(map[string]any, 1)
	}
	cp.fields[key] = value
	return &cp
}

// Fields returns a copy of the context fields, including those attached to wrapped Errors.
// Fields set on the outermost error win.
func (e *appError) Fields() map[string]any {
	out := make(map[string]any)
	for i := len(e.wrapped) - 1; i >= 0; i-- {
		var ae Error
		if e.wrapped[i] != e.base && errors.As(e.wrapped[i], &ae) {
			maps.Copy(out, ae.Fields())
		}
	}
	maps.Copy(out, e.fields)
	return out
}

// Is reports whether target is the base error or any of the wrapped errors.
func (e *appError) Is(target error) bool {
	if target == nil {
		return false
	}
	if errors.Is(e.base, target) {
		return true
	}
	for _, err := range e.wrapped {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// As lets errors.As reach errors attached with Err or MsgErr.
func (e *appError) As(target any) bool {
	for _, err := range e.wrapped {
		if err != e.base && errors.As(err, target) {
			return true
		}
	}
	return false
}
