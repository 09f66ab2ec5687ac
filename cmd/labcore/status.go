package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"labcore/internal/core"
	"labcore/pkg/domain"
)

func newStatusCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status REGISTRATION_ID",
		Short: "Report whether a registration id has been committed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), flags, func(rt *core.Runtime) error {
				state, err := rt.DidEntityOperationsSucceed(cmd.Context(), domain.RegistrationID(args[0]))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), state)
				return err
			})
		},
	}
}
