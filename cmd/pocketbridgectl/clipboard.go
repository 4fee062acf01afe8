package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func clipboardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clipboard",
		Short: "Inspect or push the shared clipboard",
	}
	cmd.AddCommand(clipboardSendCmd(), clipboardShowCmd())
	return cmd
}

func clipboardSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <text>",
		Short: "Replace the shared clipboard value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Clipboard.SendClipboardText(args[0])
		},
	}
}

func clipboardShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current shared clipboard value",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			text, ok, err := c.Clipboard.Latest()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("(empty)")
				return nil
			}
			fmt.Println(text)
			return nil
		},
	}
}
