package main

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ent0n29/iris/internal/speech"
)

var globalOpts struct {
	whisper string
	piper   string
	framing string
	timeout time.Duration
	lang    string
}

var rootCmd = &cobra.Command{
	Use:           "irisctl",
	Short:         "Wyoming speech backend client",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	_ = godotenv.Load()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&globalOpts.whisper, "whisper", envAddr("WYOMING_WHISPER_HOST", "WYOMING_WHISPER_PORT", "10300"), "whisper backend host:port")
	flags.StringVar(&globalOpts.piper, "piper", envAddr("WYOMING_PIPER_HOST", "WYOMING_PIPER_PORT", "10200"), "piper backend host:port")
	flags.StringVar(&globalOpts.framing, "framing", envOr("SPEECH_FRAMING", string(speech.FramingMarker)), "synthesis chunk framing (marker|length)")
	flags.DurationVar(&globalOpts.timeout, "timeout", speech.DefaultTimeout, "backend idle timeout")
	flags.StringVar(&globalOpts.lang, "lang", envOr("SPEECH_LANGUAGE", "en"), "language code")

	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(synthesizeCmd)
}

func newClient() (*speech.WyomingClient, error) {
	framing, err := speech.ParseFraming(globalOpts.framing)
	if err != nil {
		return nil, err
	}
	return speech.NewWyomingClient(speech.WyomingConfig{
		WhisperAddr: globalOpts.whisper,
		PiperAddr:   globalOpts.piper,
		Timeout:     globalOpts.timeout,
		Framing:     framing,
	}), nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envAddr(hostKey, portKey, defaultPort string) string {
	return net.JoinHostPort(envOr(hostKey, "127.0.0.1"), envOr(portKey, defaultPort))
}
