// Command collinfo inspects the plan tables and algorithms of the collective
// engine and runs collectives on an in-process job.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rocketbitz/collective/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "collinfo",
		Short:         "Inspect and exercise the collective engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.configPath == "" {
				opts.cfg = config.Default()
				return nil
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	root.AddCommand(newPlansCmd(opts), newAlgorithmsCmd(opts), newRunCmd(opts), newConfigCmd(opts))
	return root
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := opts.cfg.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
