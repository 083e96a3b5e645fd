package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nightsync/nightsync/internal/nightscout"
)

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Verify server credentials",
		Long: `Contact the configured Nightscout server and check that the configured
API secret or token is accepted.

Exit code 0 when the credentials verify; 1 otherwise.`,
		RunE: runVerify,
	}
}

func runVerify(cmd *cobra.Command, _ []string) error {
	if err := requireCredentials(); err != nil {
		return err
	}

	logger := buildLogger()
	client := buildClient(logger)
	notify := notifierFromFlags()

	err := client.VerifyCredentials(cmd.Context())

	switch {
	case err == nil:
		notify.Notify("Credentials verified", fmt.Sprintf("%s accepted the configured credentials.", cfg.Server.URL))
		return nil

	case errors.Is(err, nightscout.ErrUnauthorized) || errors.Is(err, nightscout.ErrForbidden):
		notify.Notify("Credentials rejected", "The server refused the configured API secret or token.")
		return err

	default:
		notify.Notify("Verification failed", "The server could not be reached or returned an unexpected response.")
		return err
	}
}
