package hostfunc

import (
	"errors"
	"fmt"

	"github.com/caffeineduck/lam/value"
)

var (
	ErrKeyTooLarge   = errors.New("key too large")
	ErrValueTooLarge = errors.New("value too large")
	ErrTooManyKeys   = errors.New("too many keys")
)

// FormatError reports a read argument that is neither a known format string
// nor a non-negative integer.
type FormatError struct {
	Func  string
	Value value.Value
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("%s: unexpected format %s", e.Func, e.Value)
}

// ArgError reports a bad argument to a host function other than a read format.
type ArgError struct {
	Func string
	Arg  int
	Want string
	Got  value.Value
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("bad argument #%d to '%s' (%s expected, got %s)", e.Arg, e.Func, e.Want, e.Got.Kind())
}

// IOError wraps a failure of the underlying input stream.
type IOError struct {
	Op  string
	Err error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
