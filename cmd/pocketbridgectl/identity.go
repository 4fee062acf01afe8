package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the local identity's public key and safety number",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient()
			if err != nil {
				return err
			}
			defer c.Close()

			fmt.Printf("identity_public_key_hex: %s\n", c.IdentityPublicKeyHex())
			fmt.Printf("safety_number:           %s\n", c.SafetyNumber())
			return nil
		},
	}
}
