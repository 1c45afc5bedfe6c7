package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/lam/internal/logging"
	"github.com/caffeineduck/lam/state"
	"github.com/caffeineduck/lam/store"
)

// app carries the global flags and the logger built from them.
type app struct {
	logLevel      string
	logFormat     string
	noColor       bool
	debug         bool
	storeSpec     string
	runMigrations bool

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: slog.New(slog.DiscardHandler)}

	root := &cobra.Command{
		Use:   "lam",
		Short: "Run untrusted Lua scripts under a time budget",
		Long: `lam - Evaluate Lua scripts in a sandbox with a wall-clock budget.

Scripts reach the host only through require('@lam'), which provides read,
read_codepoint_unit, get and set. A script that runs out of budget is stopped
at the next instruction and its result is whatever it last yielded.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "text", "Log format: text, json")
	flags.BoolVar(&a.noColor, "no-color", false, "Disable colored log output")
	flags.BoolVarP(&a.debug, "debug", "d", false, "Shorthand for --log-level debug")
	flags.StringVar(&a.storeSpec, "store", os.Getenv("LAM_STORE"), "State store: memory, sqlite://path, path, redis://host:port/db")
	flags.BoolVar(&a.runMigrations, "run-migrations", false, "Migrate the store before use")

	root.AddCommand(
		newEvalCmd(a),
		newCheckCmd(a),
		newServeCmd(a),
		newReplCmd(a),
		newStoreCmd(a),
		newVersionCmd(),
	)
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	level := a.logLevel
	if a.debug && !strings.EqualFold(level, "trace") {
		level = "debug"
	}
	logger, err := logging.Setup(logging.Options{
		Level:   level,
		Format:  a.logFormat,
		NoColor: a.noColor,
		Writer:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// openStore opens the configured store, migrating it first when asked.
// An empty spec with required false returns nil: the state then lives only
// for the process.
func (a *app) openStore(ctx context.Context, spec string, required bool) (store.Store, error) {
	if spec == "" && !required {
		return nil, nil
	}
	s, err := store.Open(ctx, spec, a.logger)
	if err != nil {
		return nil, err
	}
	if a.runMigrations || spec == "" || spec == "memory" {
		if err := s.Migrate(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("migrate store: %w", err)
		}
	}
	a.logger.Debug("opened store", "store", spec)
	return s, nil
}

// loadState returns the store's state, or a fresh map without a store.
func loadState(ctx context.Context, s store.Store) (*state.Shared, error) {
	if s == nil {
		return state.New(), nil
	}
	shared, err := s.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return shared, nil
}

// readScript returns the script from code, a file, or stdin for "-" or no
// file at all, together with a name for error positions.
func readScript(cmd *cobra.Command, code, file string) (string, string, error) {
	switch {
	case code != "":
		return code, "(code)", nil
	case file != "" && file != "-":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", "", err
		}
		return string(data), file, nil
	default:
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("read script from stdin: %w", err)
		}
		return string(data), "(stdin)", nil
	}
}
