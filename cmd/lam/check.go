package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/lam/sandbox"
)

func newCheckCmd(a *app) *cobra.Command {
	var code, file string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check a script for syntax errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			script, name, err := readScript(cmd, code, file)
			if err != nil {
				return err
			}

			_, err = sandbox.Compile(name, script)
			var compileErr *sandbox.CompileError
			if errors.As(err, &compileErr) {
				printDiagnostic(cmd.ErrOrStderr(), script, compileErr)
				return errors.New("syntax check failed")
			}
			if err != nil {
				return err
			}
			a.logger.Debug("syntax ok", "script", name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&code, "code", "c", "", "Script source")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Script path, - for stdin")
	return cmd
}

// printDiagnostic shows the offending line with a caret under the column.
//
//	chunk.lua:1:5: syntax error near 'true'
//	 1 | ret true
//	   |     ^
func printDiagnostic(w io.Writer, script string, e *sandbox.CompileError) {
	fmt.Fprintln(w, e.Error())

	lines := strings.Split(script, "\n")
	if e.Line < 1 || e.Line > len(lines) {
		return
	}
	src := strings.TrimRight(lines[e.Line-1], "\r")
	num := fmt.Sprint(e.Line)
	gutter := strings.Repeat(" ", len(num))

	fmt.Fprintf(w, " %s | %s\n", num, src)
	col := max(e.Column, 1)
	fmt.Fprintf(w, " %s | %s^\n", gutter, strings.Repeat(" ", col-1))
}
