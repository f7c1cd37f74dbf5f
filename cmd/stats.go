package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-hn4/internal/device"
	"github.com/deploymenttheory/go-hn4/internal/volume"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show volume counters and runtime state",
	Long: `Stats mounts the volume read-only and prints its persisted counters:
allocation totals, self-heal count, horizon head position, and the
dirty, panic, and saturation flags.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runStats()
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

func runStats() error {
	if err := requireDevice(); err != nil {
		return err
	}
	cfg, err := LoadEngineConfig()
	if err != nil {
		return err
	}
	opts, err := cfg.mountOptions(true)
	if err != nil {
		return err
	}

	dev, err := device.OpenFile(devicePath, cfg.BlockSize, true)
	if err != nil {
		return err
	}
	defer dev.Close()

	geom, err := volume.DefaultGeometry(cfg.BlockSize, dev.TotalBlocks())
	if err != nil {
		return err
	}
	v, err := volume.Load(dev, geom, opts)
	if err != nil {
		return err
	}

	s := v.Stats()
	fmt.Printf("Volume %s\n", s.ID)
	fmt.Printf("    Used blocks:   %d of %d\n", s.UsedBlocks, s.TotalBlocks)
	fmt.Printf("    Bitmap heals:  %d\n", s.Heals)
	fmt.Printf("    Horizon head:  %d\n", s.HorizonHead)
	fmt.Printf("    Dirty:         %v\n", s.Dirty)
	fmt.Printf("    Panicked:      %v\n", s.Panicked)
	fmt.Printf("    Saturated:     %v\n", s.Saturated)
	return nil
}
