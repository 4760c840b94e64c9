package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/infodancer/qvm-remote/internal/audit"
	"github.com/infodancer/qvm-remote/internal/queue"
)

func logCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "log [N]",
		Short: "Print the tail of this guest's audit log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n := 20
			if len(args) == 1 {
				v, err := strconv.Atoi(args[0])
				if err != nil || v <= 0 {
					fail(2, "qvm-remote: invalid line count %q", args[0])
				}
				n = v
			}
			root, err := guestQueueRoot()
			if err != nil {
				fail(5, "qvm-remote: %v", err)
			}
			lines, err := audit.Tail(queue.AuditLogPath(root), n)
			if err != nil {
				fail(5, "qvm-remote: %v", err)
			}
			for _, line := range lines {
				fmt.Println(line)
			}
			return nil
		},
	}
}
