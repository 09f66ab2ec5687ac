package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"labcore/internal/config"
	"labcore/internal/core"
)

type globalFlags struct {
	configFile string
	envFile    string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "labcore",
		Short: "Register entity batches against a typed-attribute metamodel.",
		Long: `labcore validates batches of spaces, projects, experiments, samples,
materials and data sets against the configured master data and commits them
atomically. Settings come from LABCORE_* environment variables, a .env file
and an optional config file.`,
		Args:                  cobra.NoArgs,
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
		SilenceErrors:         true,
		Run: func(cmd *cobra.Command, _ []string) {
			_ = cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", "", "dotenv file (default .env)")

	root.AddCommand(newRegisterCmd(flags))
	root.AddCommand(newStatusCmd(flags))
	root.AddCommand(newMasterDataCmd())
	return root
}

const shutdownTimeout = 10 * time.Second

// withRuntime opens the configured service, runs fn and closes it again.
func withRuntime(ctx context.Context, flags *globalFlags, fn func(*core.Runtime) error) (err error) {
	cfg, err := config.Load(config.Options{ConfigFile: flags.configFile, EnvFile: flags.envFile})
	if err != nil {
		return err
	}
	rt, err := core.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := rt.Close(closeCtx); err == nil {
			err = closeErr
		}
	}()
	return fn(rt)
}
