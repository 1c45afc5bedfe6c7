package hostfunc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/caffeineduck/lam/value"
)

// Input is the script's view of the evaluation's input stream. The cursor
// only moves forward. Reads never wait for more data than the stream holds:
// a short stream yields a short result.
type Input struct {
	r *bufio.Reader
}

// NewInput wraps r. A nil reader behaves as an empty stream.
func NewInput(r io.Reader) *Input {
	if r == nil {
		r = strings.NewReader("")
	}
	return &Input{r: bufio.NewReader(r)}
}

// Read is the host function behind read(format).
func (in *Input) Read(ctx context.Context, args []value.Value) (value.Value, error) {
	var format value.Value
	if len(args) > 0 {
		format = args[0]
	}
	return in.ReadFormat(format)
}

// ReadCodepointUnit is the host function behind read_codepoint_unit(n).
func (in *Input) ReadCodepointUnit(ctx context.Context, args []value.Value) (value.Value, error) {
	var arg value.Value
	if len(args) > 0 {
		arg = args[0]
	}
	n, ok := arg.AsInt()
	if !ok || n < 0 {
		return value.Absent(), &FormatError{Func: "read_codepoint_unit", Value: arg}
	}
	s, err := in.ReadCodepoints(n)
	if err != nil {
		return value.Absent(), err
	}
	return value.Text(s), nil
}

// ReadFormat dispatches on a format string ("*a", "*l", "*n" or their long
// forms) or a byte count.
func (in *Input) ReadFormat(format value.Value) (value.Value, error) {
	if s, ok := format.AsText(); ok {
		switch s {
		case "*a", "*all":
			return textOf(in.ReadAll())
		case "*l", "*line":
			return textOf(in.ReadLine())
		case "*n", "*number":
			return in.ReadNumber()
		}
	}
	if n, ok := format.AsInt(); ok && n >= 0 {
		return textOf(in.ReadBytes(n))
	}
	return value.Absent(), &FormatError{Func: "read", Value: format}
}

// ReadAll consumes the rest of the stream.
func (in *Input) ReadAll() (string, error) {
	data, err := io.ReadAll(in.r)
	if err != nil {
		return "", &IOError{Op: "read all", Err: err}
	}
	return decode(data), nil
}

// ReadLine consumes up to and including the next '\n', or to the end of the
// stream. The terminator is kept.
func (in *Input) ReadLine() (string, error) {
	data, err := in.r.ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", &IOError{Op: "read line", Err: err}
	}
	return decode(data), nil
}

// ReadNumber consumes the rest of the stream and parses it as a number.
// Input that does not parse yields Absent rather than an error.
func (in *Input) ReadNumber() (value.Value, error) {
	data, err := io.ReadAll(in.r)
	if err != nil {
		return value.Absent(), &IOError{Op: "read number", Err: err}
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return value.Absent(), nil
	}
	return value.Number(n), nil
}

// ReadBytes consumes up to n bytes.
func (in *Input) ReadBytes(n int) (string, error) {
	data, err := io.ReadAll(io.LimitReader(in.r, int64(n)))
	if err != nil {
		return "", &IOError{Op: "read bytes", Err: err}
	}
	return decode(data), nil
}

// ReadCodepoints consumes bytes until n complete UTF-8 code points have been
// collected or the stream ends. Invalid bytes are dropped and a truncated
// sequence at the end of the stream is discarded, so the result is always
// valid UTF-8.
func (in *Input) ReadCodepoints(n int) (string, error) {
	var out, pending []byte
	count := 0
	for count < n {
		b, err := in.r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", &IOError{Op: "read codepoint", Err: err}
		}
		pending = append(pending, b)

		for len(pending) > 0 && utf8.FullRune(pending) {
			r, size := utf8.DecodeRune(pending)
			if r == utf8.RuneError && size <= 1 {
				pending = pending[1:]
				continue
			}
			out = append(out, pending[:size]...)
			pending = pending[size:]
			count++
		}
	}
	return string(out), nil
}

// decode turns raw bytes into script text. Bytes that are not valid UTF-8
// decode to the empty string.
func decode(data []byte) string {
	if !utf8.Valid(data) {
		return ""
	}
	return string(data)
}

func textOf(s string, err error) (value.Value, error) {
	if err != nil {
		return value.Absent(), err
	}
	return value.Text(s), nil
}
