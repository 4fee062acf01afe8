package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func queueStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue-status",
		Short: "Print the local Pending Queue's depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			status, err := c.QueueStatus()
			if err != nil {
				return err
			}
			fmt.Printf("pending_count:             %d\n", status.PendingCount)
			fmt.Printf("last_ack_device_seq:       %d\n", status.LastAckDeviceSeq)
			fmt.Printf("oldest_pending_created_at: %d\n", status.OldestPendingCreateAt)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the local Event Log to a file (or stdout with --out -)",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			blob, err := c.Export()
			if err != nil {
				return err
			}
			if outPath == "-" || outPath == "" {
				_, err := os.Stdout.Write(blob)
				return err
			}
			return os.WriteFile(outPath, blob, 0o600)
		},
	}
	cmd.Flags().StringVar(&outPath, "out", "-", "output file path, or - for stdout")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Import a previously exported Event Log file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			blob, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return c.Import(blob)
		},
	}
}

func integrityCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity-check",
		Short: "Verify the local Event Log's device_seq and stream_seq invariants",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			report, err := c.IntegrityCheck()
			if err != nil {
				return err
			}
			fmt.Printf("total_events: %d\n", report.TotalEvents)
			if report.OK() {
				fmt.Println("ok: true")
				return nil
			}
			fmt.Println("ok: false")
			for _, d := range report.DuplicateDeviceSeqs {
				fmt.Printf("duplicate_device_seq: %s\n", d)
			}
			for _, s := range report.NonMonotonicStreamSeqs {
				fmt.Printf("non_monotonic_stream: %s\n", s)
			}
			return nil
		},
	}
}
