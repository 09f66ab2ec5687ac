package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"labcore/internal/catalog"
)

func newMasterDataCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "masterdata",
		Short: "Inspect master-data documents",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "validate FILE",
		Short: "Check a master-data document without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			md, err := catalog.LoadMasterDataFile(args[0])
			if err != nil {
				return err
			}
			if err := catalog.ValidateMasterData(md); err != nil {
				for _, e := range multierr.Errors(err) {
					fmt.Fprintln(cmd.ErrOrStderr(), " -", e)
				}
				return fmt.Errorf("%s: %d problems", args[0], len(multierr.Errors(err)))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d vocabularies, %d property types, %d entity types\n",
				args[0], len(md.Vocabularies), len(md.PropertyTypes), len(md.EntityTypes))
			return nil
		},
	})
	return cmd
}
