package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/lam/store"
)

func newStoreCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the state store",
	}
	cmd.AddCommand(newStoreMigrateCmd(a), newStoreDumpCmd(a))
	return cmd
}

func newStoreMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Bring the store schema up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.storeSpec == "" {
				return errors.New("no store configured: use --store or LAM_STORE")
			}
			ctx := cmd.Context()
			st, err := store.Open(ctx, a.storeSpec, a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate store: %w", err)
			}
			if sq, ok := st.(*store.SQLite); ok {
				v, err := sq.Version(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "store migrated")
			return nil
		},
	}
}

// newStoreDumpCmd prints the committed state as JSON.
func newStoreDumpCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "Print the committed state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx, a.storeSpec, true)
			if err != nil {
				return err
			}
			defer st.Close()

			shared, err := st.Load(ctx)
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), shared.Snapshot())
		},
	}
}
