package commands

import (
	"fmt"
	"image/png"
	"os"

	"github.com/spf13/cobra"
)

var snapOutput string

var snapCmd = &cobra.Command{
	Use:   "snap",
	Short: "Capture a single screenshot",
	Long:  `Capture one screenshot from the device and write it as a PNG file.`,
	Example: `  # Screenshot the default device
  droidcap snap

  # Pick a device and backend explicitly
  droidcap snap -s emulator-5554 --backend minicap -o shot.png`,
	RunE: runSnap,
}

func init() {
	snapCmd.Flags().StringVarP(&snapOutput, "output", "o", "screencap.png", "output file")
	rootCmd.AddCommand(snapCmd)
}

func runSnap(cmd *cobra.Command, args []string) error {
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

	img, err := cap.Screencap()
	if err != nil {
		return fmt.Errorf("capture failed: %w", err)
	}

	f, err := os.Create(snapOutput)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("failed to write %s: %w", snapOutput, err)
	}

	fmt.Printf("Saved %dx%d screenshot to %s (%s backend)\n",
		img.Bounds().Dx(), img.Bounds().Dy(), snapOutput, cap.Name())
	return nil
}
