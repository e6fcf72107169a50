// Package main is the entry point for the kumo-stream server.
//
// kumo-stream is a headless streaming backend: an HLS manifest-rewriting
// proxy with a playback session controller and local watch-history storage.
package main

import (
	"os"

	"kumo-stream-go/cmd/kumo-stream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
