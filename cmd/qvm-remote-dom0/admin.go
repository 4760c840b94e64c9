package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infodancer/qvm-remote/internal/keystore"
)

func authorizeCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "authorize <domain> <hex-key>",
		Short: "Install a domain's shared secret, authorising its requests",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain, hexKey := args[0], args[1]
			if err := keystore.Install(defaultKeystoreDir, domain, hexKey, replace); err != nil {
				switch {
				case errors.Is(err, keystore.ErrInvalidKey):
					fail(2, "qvm-remote-dom0: %v", err)
				case errors.Is(err, keystore.ErrExists):
					fail(4, "qvm-remote-dom0: %s already has a key; pass --replace to overwrite", domain)
				default:
					fail(5, "qvm-remote-dom0: %v", err)
				}
			}
			fmt.Printf("authorised %s\n", domain)
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite an existing key for this domain")
	return cmd
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <domain>",
		Short: "Remove a domain's shared secret, revoking its requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			domain := args[0]
			if err := keystore.Remove(defaultKeystoreDir, domain); err != nil {
				fail(5, "qvm-remote-dom0: %v", err)
			}
			fmt.Printf("revoked %s\n", domain)
			return nil
		},
	}
}

func keysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List the domains with a key on file",
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := keystore.List(defaultKeystoreDir)
			if err != nil {
				fail(5, "qvm-remote-dom0: %v", err)
			}
			for _, e := range entries {
				fmt.Printf("%s  %s\n", e.Domain, e.Fingerprint)
			}
			return nil
		},
	}
}
