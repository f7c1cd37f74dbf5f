package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-hn4/internal/device"
	"github.com/deploymenttheory/go-hn4/internal/volume"
)

var (
	formatBlockSize  uint32
	formatTier       string
	formatProfile    string
	formatRotational bool
)

var formatCmd = &cobra.Command{
	Use:   "format",
	Short: "Lay out engine metadata on a device or image",
	Long: `Format writes a fresh metadata region onto the device: volume info
record, armored allocation bitmap, summary, and quality mask. The device
must already exist and be at least large enough to hold the metadata,
a flux region, and the horizon ring.

Examples:
  # Format an image with defaults
  hn4 format --device ./volume.img

  # Format a hard disk image, disabling retry placement
  hn4 format --device /dev/sdb1 --rotational`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormat()
	},
}

func init() {
	rootCmd.AddCommand(formatCmd)

	formatCmd.Flags().Uint32Var(&formatBlockSize, "block-size", 0, "block size in bytes (overrides config)")
	formatCmd.Flags().StringVar(&formatTier, "tier", "", "default media quality tier (toxic, bronze, silver, gold)")
	formatCmd.Flags().StringVar(&formatProfile, "profile", "", "device profile (generic, pico, system, ai, archive)")
	formatCmd.Flags().BoolVar(&formatRotational, "rotational", false, "device has seek costs; probe only the direct trajectory")
}

func runFormat() error {
	if err := requireDevice(); err != nil {
		return err
	}
	cfg, err := LoadEngineConfig()
	if err != nil {
		return err
	}
	if formatBlockSize != 0 {
		cfg.BlockSize = formatBlockSize
	}
	if formatTier != "" {
		cfg.DefaultTier = formatTier
	}
	if formatProfile != "" {
		cfg.Profile = formatProfile
	}
	if formatRotational {
		cfg.Rotational = true
	}

	tier, err := cfg.tier()
	if err != nil {
		return err
	}
	opts, err := cfg.mountOptions(false)
	if err != nil {
		return err
	}

	dev, err := device.OpenFile(devicePath, cfg.BlockSize, false)
	if err != nil {
		return err
	}
	defer dev.Close()

	geom, err := volume.DefaultGeometry(cfg.BlockSize, dev.TotalBlocks())
	if err != nil {
		return err
	}

	v, err := volume.New(dev, geom, cfg.traits(), tier, opts)
	if err != nil {
		return err
	}
	if err := v.Flush(); err != nil {
		return err
	}

	if !quiet {
		fmt.Printf("Formatted %s\n", devicePath)
		fmt.Printf("    Volume ID:   %s\n", v.ID)
		fmt.Printf("    Block size:  %d\n", geom.BlockSize)
		fmt.Printf("    Blocks:      %d\n", geom.TotalBlocks)
		fmt.Printf("    Flux:        [%d, %d)\n", geom.FluxStart, geom.HorizonStart)
		fmt.Printf("    Horizon:     [%d, %d)\n", geom.HorizonStart, geom.HorizonEnd)
	}
	return nil
}
