package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/lam/executor"
	"github.com/caffeineduck/lam/sandbox"
)

func newReplCmd(a *app) *cobra.Command {
	var historyFile string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive REPL with persistent globals and state",
		Long: `Start an interactive Lua session.

Globals survive between lines and get/set share one state, committed to
--store after every line that ran without error. A line is first tried as an
expression, so "1 + 1" prints 2.

Features:
  - Command history (up/down arrows)
  - History search (Ctrl+R)
  - Multi-line input (end line with \)

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if historyFile == "" {
				home, _ := os.UserHomeDir()
				historyFile = filepath.Join(home, ".lam_history")
			}
			return runRepl(cmd, a, historyFile)
		},
	}
	cmd.Flags().StringVar(&historyFile, "history", "", "History file path (default: ~/.lam_history)")
	return cmd
}

func runRepl(cmd *cobra.Command, a *app, historyFile string) error {
	ctx := cmd.Context()
	st, err := a.openStore(ctx, a.storeSpec, false)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}
	shared, err := loadState(ctx, st)
	if err != nil {
		return err
	}

	exec := executor.New(nil, executor.WithLogger(a.logger))
	defer exec.Close()

	stdout := cmd.OutOrStdout()
	session, err := exec.NewSession(shared,
		executor.WithSessionName("repl"),
		executor.WithSessionOutput(stdout),
	)
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            "> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdin:             io.NopCloser(cmd.InOrStdin()),
		Stdout:            stdout,
		Stderr:            cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(cmd.ErrOrStderr(), "lam %s (type 'exit' to quit, Ctrl+D to exit)\n", sandbox.Version)

	var multiLine strings.Builder
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			multiLine.Reset()
			rl.SetPrompt("> ")
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(stdout)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		if strings.HasSuffix(line, "\\") {
			multiLine.WriteString(strings.TrimSuffix(line, "\\"))
			multiLine.WriteString("\n")
			rl.SetPrompt(">> ")
			continue
		}
		if multiLine.Len() > 0 {
			multiLine.WriteString(line)
			line = multiLine.String()
			multiLine.Reset()
			rl.SetPrompt("> ")
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}

		result := session.Run(ctx, "return "+line, nil)
		var compileErr *sandbox.CompileError
		if errors.As(result.Error, &compileErr) {
			result = session.Run(ctx, line, nil)
		}
		if result.Error != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", result.Error)
			continue
		}
		if result.Output != "" {
			fmt.Fprintln(stdout, result.Output)
		}

		if st != nil {
			if err := st.Commit(ctx, shared); err != nil {
				a.logger.Error("failed to commit state", "error", err)
			}
		}
	}
}
