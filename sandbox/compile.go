package sandbox

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"
)

// CompileError reports a script that is not valid Lua.
type CompileError struct {
	Source  string
	Line    int
	Column  int
	Token   string
	Message string
}

func (e *CompileError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("%s: %s", e.Source, e.Message)
	}
	if e.Token != "" {
		return fmt.Sprintf("%s:%d:%d: %s near '%s'", e.Source, e.Line, e.Column, e.Message, e.Token)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Source, e.Line, e.Column, e.Message)
}

// Compile parses and compiles source. The returned proto holds no state and
// may be loaded into any number of contexts.
func Compile(name, source string) (*lua.FunctionProto, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			cerr := &CompileError{
				Source:  name,
				Line:    perr.Pos.Line,
				Column:  perr.Pos.Column,
				Token:   perr.Token,
				Message: perr.Message,
			}
			// The parser reports errors at end of input with a negative line.
			if cerr.Line < 0 {
				cerr.Line = strings.Count(source, "\n") + 1
				cerr.Column = 0
				cerr.Token = ""
			}
			return nil, cerr
		}
		return nil, &CompileError{Source: name, Message: err.Error()}
	}

	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, &CompileError{Source: name, Message: err.Error()}
	}
	return proto, nil
}
