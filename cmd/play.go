package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/audiolibrelab/soundlines/internal/line"
	"github.com/audiolibrelab/soundlines/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play [file]",
	Short: "Play a raw PCM file or a test tone",
	Long: `Play a raw 16-bit little-endian PCM file at the sample rate and channel
count of the active profile through a source data line.

With --tone no file is read: a sine wave is rendered into a clip and
played, optionally looped with --loops (-1 loops until interrupted).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		freq, _ := cmd.Flags().GetFloat64("tone")
		duration, _ := cmd.Flags().GetDuration("duration")
		loops, _ := cmd.Flags().GetInt("loops")
		amplitude, _ := cmd.Flags().GetFloat64("amplitude")

		if freq == 0 && len(args) == 0 {
			return fmt.Errorf("a file or --tone is required")
		}

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if freq != 0 {
			if loops < 0 {
				loops = line.LoopContinuously
			}
			fmt.Printf("Playing %.1f Hz tone\n", freq)
			return playTone(ctx, svc, service.ToneRequest{
				Frequency: freq,
				Duration:  duration,
				Amplitude: amplitude,
				Loops:     loops,
			})
		}

		fmt.Printf("Playing file: %s\n", args[0])
		if err := svc.PlayFile(ctx, args[0]); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

func playTone(ctx context.Context, svc service.Service, req service.ToneRequest) error {
	start := time.Now()
	if err := svc.PlayTone(ctx, req); err != nil {
		return fmt.Errorf("tone failed: %w", err)
	}
	slog.Info("Tone finished", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

func init() {
	playCmd.Flags().Float64("tone", 0, "play a sine tone of this frequency in Hz instead of a file")
	playCmd.Flags().Duration("duration", time.Second, "length of one tone pass")
	playCmd.Flags().Float64("amplitude", 0.5, "tone amplitude between 0 and 1")
	playCmd.Flags().Int("loops", 0, "extra tone passes (-1 loops until interrupted)")
}
