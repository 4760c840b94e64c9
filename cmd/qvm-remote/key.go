package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/infodancer/qvm-remote/internal/keystore"
	"github.com/infodancer/qvm-remote/internal/queue"
)

func keyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage this guest's mirrored shared secret",
	}
	cmd.AddCommand(keyGenCmd(), keyShowCmd(), keyImportCmd())
	return cmd
}

func keyGenCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a new key and install it locally",
		Long: "Generates a fresh 64-character hex secret and installs it as this guest's\n" +
			"key. The key is not usable until the control domain's operator authorises\n" +
			"it with the matching 'authorize' command, since it is this domain's copy\n" +
			"that still needs mirroring over qvm-copy-to-vm or similar.",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := guestQueueRoot()
			if err != nil {
				fail(5, "qvm-remote: %v", err)
			}
			hexKey, err := keystore.Generate()
			if err != nil {
				fail(5, "qvm-remote: generating key: %v", err)
			}
			if err := keystore.InstallGuestKey(queue.AuthKeyPath(root), hexKey, replace); err != nil {
				if errors.Is(err, keystore.ErrExists) {
					fail(4, "qvm-remote: a key already exists; pass --replace to overwrite")
				}
				fail(5, "qvm-remote: installing key: %v", err)
			}
			fmt.Println(hexKey)
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite an existing key")
	return cmd
}

func keyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print this guest's current key",
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := guestQueueRoot()
			if err != nil {
				fail(5, "qvm-remote: %v", err)
			}
			hexKey, err := keystore.LoadGuestKey(queue.AuthKeyPath(root))
			if err != nil {
				if errors.Is(err, keystore.ErrNotFound) {
					fail(3, "qvm-remote: no key installed; run 'key gen'")
				}
				fail(5, "qvm-remote: %v", err)
			}
			fmt.Println(hexKey)
			return nil
		},
	}
}

func keyImportCmd() *cobra.Command {
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <hex-key>",
		Short: "Install an externally generated key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := guestQueueRoot()
			if err != nil {
				fail(5, "qvm-remote: %v", err)
			}
			if err := keystore.InstallGuestKey(queue.AuthKeyPath(root), args[0], replace); err != nil {
				switch {
				case errors.Is(err, keystore.ErrInvalidKey):
					fail(2, "qvm-remote: %v", err)
				case errors.Is(err, keystore.ErrExists):
					fail(4, "qvm-remote: a key already exists; pass --replace to overwrite")
				default:
					fail(5, "qvm-remote: %v", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&replace, "replace", false, "overwrite an existing key")
	return cmd
}
