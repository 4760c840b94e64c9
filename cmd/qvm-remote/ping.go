package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Submit a trivial command and confirm it round trips",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, err := newSubmitter()
			if err != nil {
				fail(5, "qvm-remote: %v", err)
			}
			if err := sub.Ping(cmd.Context(), resolveTimeout()); err != nil {
				exitForSubmitError(err)
			}
			fmt.Println("ok")
			return nil
		},
	}
}
