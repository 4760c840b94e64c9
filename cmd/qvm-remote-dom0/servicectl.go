package main

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"
)

// serviceUnit is the systemd unit the daemon installs as, for qvm-service
// style start-on-boot control from dom0.
const serviceUnit = "qvm-remote-dom0.service"

// enableConfirmPhrase is what an operator must type back when enabling the
// daemon without --yes: enabling grants every domain named in QVM_REMOTE_VMS
// the ability to run arbitrary commands as the control domain's own user,
// so this is not a decision to make by reflex.
const enableConfirmPhrase = "authorize cross-domain execution"

func enableCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable and start the executor daemon's systemd unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirmPhrase(enableConfirmPhrase) {
				fail(1, "qvm-remote-dom0: aborted, confirmation phrase did not match")
			}
			if err := runSystemctl("enable", "--now", serviceUnit); err != nil {
				fail(1, "qvm-remote-dom0: %v", err)
			}
			fmt.Println("enabled " + serviceUnit)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the interactive confirmation prompt")
	return cmd
}

func disableCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Stop and disable the executor daemon's systemd unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirmYesNo("stop and disable "+serviceUnit+"?") {
				fail(1, "qvm-remote-dom0: aborted")
			}
			if err := runSystemctl("disable", "--now", serviceUnit); err != nil {
				fail(1, "qvm-remote-dom0: %v", err)
			}
			fmt.Println("disabled " + serviceUnit)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the interactive confirmation prompt")
	return cmd
}

func runSystemctl(args ...string) error {
	cmd := exec.Command("systemctl", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func confirmPhrase(phrase string) bool {
	fmt.Printf("Type %q to confirm: ", phrase)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line) == phrase
}

func confirmYesNo(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
