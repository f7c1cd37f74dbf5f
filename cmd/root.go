package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deploymenttheory/go-hn4/internal/logging"
)

var (
	// Global output flags only
	verbose    bool
	quiet      bool
	devicePath string
)

var rootCmd = &cobra.Command{
	Use:   "hn4",
	Short: "Ballistic address-space engine for block volumes",
	Long: `hn4 manages volumes laid out by the ballistic address-space engine:
computed block placement, an ECC-armored allocation bitmap with a
hierarchical summary, and a circular-log fallback region for blocks
deflected off their computed trajectory.

Commands:
  format      Lay out engine metadata on a device or image
  stats       Show volume counters and runtime state
  check       Audit the armored bitmap and summary for consistency`,
	Version: "0.1.0-dev",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress output except errors")
	rootCmd.PersistentFlags().StringVar(&devicePath, "device", "", "path to the volume image or raw partition")
}

// newLogger builds the logger implied by the output flags.
func newLogger() (*zap.Logger, error) {
	level := ""
	if verbose {
		level = "debug"
	}
	if quiet {
		level = ""
	}
	return logging.New(level)
}

func requireDevice() error {
	if devicePath == "" {
		return fmt.Errorf("no device given: set --device")
	}
	return nil
}
