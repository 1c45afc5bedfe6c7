package executor

import (
	"errors"

	lua "github.com/yuin/gopher-lua"

	"github.com/caffeineduck/lam/sandbox"
)

// ErrClosed is returned by evaluations on a closed Executor or Session.
var ErrClosed = errors.New("executor closed")

// ErrBusy is returned by Session.Run while another run is in progress.
var ErrBusy = errors.New("session busy")

// RuntimeError is an uncaught fault raised while a script was running. When
// the fault came from a host function, Cause holds the host error, so
// errors.As finds a *hostfunc.FormatError or *hostfunc.IOError through it.
type RuntimeError struct {
	Message string
	Cause   error
}

func (e *RuntimeError) Error() string {
	return "runtime error: " + e.Message
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

func runtimeError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &RuntimeError{Message: err.Error(), Cause: err}
	}
	if cause := sandbox.FaultError(apiErr.Object); cause != nil {
		return &RuntimeError{Message: cause.Error(), Cause: cause}
	}
	if apiErr.Object == nil {
		return &RuntimeError{Message: apiErr.Error()}
	}
	return &RuntimeError{Message: apiErr.Object.String()}
}
