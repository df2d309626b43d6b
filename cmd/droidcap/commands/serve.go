package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/droidcap/droidcap/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the preview server",
	Long: `Start an HTTP server exposing the device screen: a single-frame JPEG
endpoint, an MJPEG stream viewable in any browser, and capture stats.`,
	Example: `  # Serve the default device on port 8080
  droidcap serve

  # Custom port, explicit backend
  droidcap serve --port 9090 --backend screenrecord`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "server port (default 8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.ServerPort = servePort
	}

	cap, dev, err := newCapturer(cfg)
	if err != nil {
		return err
	}
	if err := cap.Start(); err != nil {
		return fmt.Errorf("failed to start %s backend: %w", cap.Name(), err)
	}
	defer cap.Stop()

	fmt.Printf("Serving %s via %s backend on http://localhost:%d/stream.mjpeg\n",
		dev.Serial(), cap.Name(), cfg.ServerPort)

	return server.New(cap, dev.Serial(), 30).Start(cfg.ServerPort)
}
