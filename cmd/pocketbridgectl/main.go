// Command pocketbridgectl is a thin CLI over the External API (§4.8),
// useful for driving one local profile by hand: generate pairing codes,
// push clipboard text, list self-destruct messages, and export/import
// the local Event Log.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	flagWsURL      string
	flagPairingURL string
	flagStorageDir string
	flagDeviceName string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pocketbridgectl",
		Short: "Drive a pocketbridge sync-core profile from the command line",
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagWsURL, "ws-url", "wss://relay.pocketbridge.example/ws", "relay event channel endpoint")
	flags.StringVar(&flagPairingURL, "pairing-url", "", "relay pairing API root (derived from --ws-url when empty)")
	flags.StringVar(&flagStorageDir, "storage-dir", "", "durable profile directory (ephemeral in-memory store when empty)")
	flags.StringVar(&flagDeviceName, "device-name", "", "human-readable name for this device's Device Record")

	rootCmd.AddCommand(
		whoamiCmd(),
		pairGenerateCmd(),
		pairConsumeCmd(),
		clipboardCmd(),
		messagesCmd(),
		queueStatusCmd(),
		exportCmd(),
		importCmd(),
		integrityCheckCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("pocketbridgectl")
	}
}
