// Command censorbot listens to a live microphone and censors spoken profanity
// on an OBS Studio broadcast: it mutes the microphone input and plays a short
// overlay video, then restores both.
//
// Usage:
//
//	censorbot [flags]          run the censor (default)
//	censorbot devices          list capture devices
//
// Settings come from defaults, an optional YAML file (--config), CENSORBOT_*
// environment variables (a ./.env file is loaded when present) and flags, in
// increasing order of precedence.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "censorbot:", err)
		os.Exit(1)
	}
}
