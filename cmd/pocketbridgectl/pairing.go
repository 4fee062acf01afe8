package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func pairGenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair-generate",
		Short: "Generate a one-time pairing code for another device to consume",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			code, expiresAt, err := c.PairingGenerate(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("code:       %s\n", code)
			fmt.Printf("expires_at: %d\n", expiresAt)
			return nil
		},
	}
}

func pairConsumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair-consume <code>",
		Short: "Consume a pairing code generated by another device, adopting its identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.PairingConsume(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("paired as identity_public_key_hex: %s\n", c.IdentityPublicKeyHex())
			return nil
		},
	}
}
