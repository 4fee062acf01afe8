package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func messagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Send or list self-destruct messages",
	}
	cmd.AddCommand(messagesSendCmd(), messagesListCmd())
	return cmd
}

func messagesSendCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "send <text>",
		Short: "Send a self-destruct message expiring after --ttl (defaults to the configured ttl_default_seconds)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			if !cmd.Flags().Changed("ttl") {
				ttl = c.TTLDefault()
			}
			expiresAt := time.Now().Add(ttl).UnixMilli()
			return c.Messages.Send(args[0], expiresAt)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "time until the message self-destructs (default: ttl_default_seconds)")
	return cmd
}

func messagesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List messages that have not yet expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			active, err := c.Messages.GetActiveMessages()
			if err != nil {
				return err
			}
			for _, m := range active {
				fmt.Printf("%s\texpires_at=%d\t%s\n", m.EventID, m.ExpiresAt, m.Text)
			}
			return nil
		},
	}
}
