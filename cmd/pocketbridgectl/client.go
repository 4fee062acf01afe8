package main

import (
	"github.com/pocketbridge/sync-core/api"
)

func openClient() (*api.Client, error) {
	opts := []api.Option{api.WithWsURL(flagWsURL)}
	if flagPairingURL != "" {
		opts = append(opts, api.WithPairingAPIURL(flagPairingURL))
	}
	if flagStorageDir != "" {
		opts = append(opts, api.WithStorageDir(flagStorageDir))
	}
	if flagDeviceName != "" {
		opts = append(opts, api.WithDeviceName(flagDeviceName))
	}
	return api.New(opts...)
}
