package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/lam/executor"
	"github.com/caffeineduck/lam/hostfunc"
)

type evalOutput struct {
	ID         string `json:"id"`
	Result     string `json:"result"`
	Status     string `json:"status"`
	DurationMs int64  `json:"duration_ms"`
}

func newEvalCmd(a *app) *cobra.Command {
	var (
		code         string
		file         string
		timeout      time.Duration
		outputFormat string
		allow        []string
	)

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate a script file",
		Long: `Evaluate a Lua script once and print its result.

The script comes from --file, from -c, or from stdin (--file -). Standard
input is the stream behind read; when the script itself was read from stdin
that stream is already drained.

With --store the shared state is loaded before the run and committed after a
successful one.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputFormat != "text" && outputFormat != "json" {
				return fmt.Errorf("unknown output format %q: use text or json", outputFormat)
			}

			script, name, err := readScript(cmd, code, file)
			if err != nil {
				return err
			}

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

			caps, err := parseCapabilities(allow)
			if err != nil {
				return err
			}
			exec := executor.New(nil, executor.WithLogger(a.logger), executor.WithCapabilities(caps...))
			defer exec.Close()

			result := exec.Run(ctx, executor.Evaluation{
				Script: script,
				Name:   name,
				Input:  cmd.InOrStdin(),
				Budget: timeout,
				State:  shared,
			}, executor.WithOutput(cmd.ErrOrStderr()))
			if result.Error != nil {
				return result.Error
			}

			if st != nil {
				if err := st.Commit(ctx, shared); err != nil {
					return fmt.Errorf("commit state: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			if outputFormat == "json" {
				return writeJSON(out, evalOutput{
					ID:         result.ID,
					Result:     result.Output,
					Status:     result.Status.String(),
					DurationMs: result.Duration.Milliseconds(),
				})
			}
			fmt.Fprint(out, result.Output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&code, "code", "c", "", "Script source")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Script path, - for stdin")
	cmd.Flags().Var(newSecondsValue(&timeout, executor.DefaultBudget), "timeout", "Time budget in seconds, or a duration such as 1m30s")
	cmd.Flags().StringVar(&outputFormat, "output-format", "text", "Output format: text, json")
	cmd.Flags().StringSliceVar(&allow, "allow", []string{"input", "state"}, "Host capabilities the script may use: input, state")
	return cmd
}

func parseCapabilities(names []string) ([]hostfunc.Capability, error) {
	caps := make([]hostfunc.Capability, 0, len(names))
	for _, name := range names {
		c, err := hostfunc.ParseCapability(name)
		if err != nil {
			return nil, err
		}
		caps = append(caps, c)
	}
	return caps, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
