package cmd

import "github.com/spf13/cobra"

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "um",
		Short:         "Umeng analytics CLI (um): governed API access",
		Long:          "um calls the Umeng analytics API through a shared request throttle and a persistent session-token cache, so every process on the host stays under the remote quota.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return app.close()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAccountCmd(app),
		newAuthCmd(app),
		newTokenCmd(app),
		newThrottleCmd(app),
		newAPICmd(app),
	)

	return rootCmd
}
