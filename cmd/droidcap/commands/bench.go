package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	benchDuration time.Duration
	benchFrames   int
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure capture performance",
	Long: `Capture frames as fast as the selected backend delivers them and report
throughput. Useful for comparing backends on a given device.`,
	Example: `  # 10 second benchmark with the auto-selected backend
  droidcap bench

  # Compare backends
  droidcap bench --backend minicap
  droidcap bench --backend screenrecord`,
	RunE: runBench,
}

func init() {
	benchCmd.Flags().DurationVarP(&benchDuration, "duration", "d", 10*time.Second, "benchmark duration")
	benchCmd.Flags().IntVarP(&benchFrames, "frames", "n", 0, "stop after this many frames (0 = run for the full duration)")
	rootCmd.AddCommand(benchCmd)
}

func runBench(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	cap, _, err := newCapturer(cfg)
	if err != nil {
		return err
	}
	if err := cap.Start(); err != nil {
		return fmt.Errorf("failed to start %s backend: %w", cap.Name(), err)
	}
	defer cap.Stop()

	fmt.Printf("Benchmarking %s backend for %s...\n", cap.Name(), benchDuration)

	var (
		frames   int
		bytes    int64
		deadline = time.Now().Add(benchDuration)
		start    = time.Now()
	)
	for time.Now().Before(deadline) {
		raw, err := cap.ScreencapRaw()
		if err != nil {
			return fmt.Errorf("capture failed after %d frames: %w", frames, err)
		}
		frames++
		bytes += int64(len(raw))
		if benchFrames > 0 && frames >= benchFrames {
			break
		}
	}
	elapsed := time.Since(start)

	report(cap.Name(), frames, bytes, elapsed)
	return nil
}

// report prints the benchmark summary
func report(backend string, frames int, bytes int64, elapsed time.Duration) {
	secs := elapsed.Seconds()
	if secs == 0 {
		secs = 1
	}
	fmt.Printf("\nBackend:    %s\n", backend)
	fmt.Printf("Frames:     %d in %s\n", frames, elapsed.Round(time.Millisecond))
	fmt.Printf("Throughput: %.1f fps, %.1f MiB/s\n",
		float64(frames)/secs, float64(bytes)/secs/(1<<20))
}
