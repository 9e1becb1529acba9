package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Capture audio into a raw PCM file",
	Long: `Capture from a target data line into <name>.raw in the current directory,
as 16-bit little-endian PCM at the rate and channel count of the active
profile. Recording stops after --duration, or on Ctrl+C when no duration
is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		duration, _ := cmd.Flags().GetDuration("duration")
		slog.Info("Record command started", "name", name, "duration", duration)

		svc, err := openService()
		if err != nil {
			return err
		}
		defer svc.Close()

		// Handle interruption
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if duration == 0 {
			slog.Info("Recording... Press Ctrl+C to stop")
		}
		session, err := svc.Record(ctx, name, duration)
		if err != nil {
			return fmt.Errorf("recording failed: %w", err)
		}

		fmt.Printf("Recorded %d bytes to %s\n", session.Bytes, session.OutputFile)
		return nil
	},
}

func init() {
	recordCmd.Flags().DurationP("duration", "d", 0, "stop after this long (0 records until interrupted)")
}
