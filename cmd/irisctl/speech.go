package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/iris/internal/audio"
)

// Whisper expects 16 kHz mono input.
const transcribeSampleRate = 16000

var (
	transcribeFile string
	synthText      string
	synthOut       string
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe",
	Short: "Transcribe a WAV file",
	Long: `Transcribe a 16-bit PCM WAV file with the whisper backend.

The audio is downmixed to mono and resampled to 16 kHz before it is sent.

Examples:
  irisctl transcribe --file reply.wav
  irisctl transcribe --file reply.wav --lang nl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if transcribeFile == "" {
			return errors.New("input file is required, use --file")
		}
		data, err := os.ReadFile(transcribeFile)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", transcribeFile, err)
		}
		pcm, rate, err := audio.DecodeWAV(data)
		if err != nil {
			return err
		}
		pcm = audio.Resample(pcm, rate, transcribeSampleRate)

		client, err := newClient()
		if err != nil {
			return err
		}
		start := time.Now()
		text, err := client.Transcribe(cmd.Context(), pcm, globalOpts.lang)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "transcribed in", time.Since(start).Round(time.Millisecond))
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Synthesize text into a WAV file",
	Long: `Synthesize text with the piper backend and write the result as WAV.

Examples:
  irisctl synthesize --text "Dinner is ready" --out dinner.wav
  irisctl synthesize --text "Het eten is klaar" --lang nl --out eten.wav --framing length`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if synthText == "" {
			return errors.New("text is required, use --text")
		}
		if synthOut == "" {
			return errors.New("output file is required, use --out")
		}
		client, err := newClient()
		if err != nil {
			return err
		}
		start := time.Now()
		res, err := client.Synthesize(cmd.Context(), synthText, globalOpts.lang)
		if err != nil {
			return err
		}
		if err := audio.WriteWAVFile(synthOut, res.Audio, res.SampleRate, res.Channels); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes, %d Hz, %d ch) in %s\n",
			synthOut, len(res.Audio), res.SampleRate, res.Channels, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

func init() {
	transcribeCmd.Flags().StringVarP(&transcribeFile, "file", "f", "", "input WAV file")
	synthesizeCmd.Flags().StringVarP(&synthText, "text", "t", "", "text to speak")
	synthesizeCmd.Flags().StringVarP(&synthOut, "out", "o", "", "output WAV file")
}
