// Command irisctl talks to the wyoming speech backends directly.
//
// Usage:
//
//	irisctl transcribe --file in.wav [--lang nl]
//	irisctl synthesize --text "Dinner is ready" --out out.wav
//
// Backend addresses default to WYOMING_WHISPER_HOST/PORT and
// WYOMING_PIPER_HOST/PORT, read from the environment or a .env file.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
