package cmd

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/deploymenttheory/go-hn4/internal/quality"
	"github.com/deploymenttheory/go-hn4/internal/readpath"
	"github.com/deploymenttheory/go-hn4/internal/types"
	"github.com/deploymenttheory/go-hn4/internal/volume"
)

// EngineConfig holds tool-wide engine settings
type EngineConfig struct {
	BlockSize   uint32 `mapstructure:"block_size"`
	DefaultTier string `mapstructure:"default_tier"`
	Strictness  string `mapstructure:"strictness"`
	AllowHeal   bool   `mapstructure:"allow_heal"`
	Profile     string `mapstructure:"profile"`
	Rotational  bool   `mapstructure:"rotational"`
}

// LoadEngineConfig loads engine configuration using Viper
func LoadEngineConfig() (*EngineConfig, error) {
	viper.SetConfigName("hn4-config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.hn4")
	viper.AddConfigPath("/etc/hn4")

	// Set defaults
	viper.SetDefault("block_size", 4096)
	viper.SetDefault("default_tier", "silver")
	viper.SetDefault("strictness", "production")
	viper.SetDefault("allow_heal", true)
	viper.SetDefault("profile", "generic")
	viper.SetDefault("rotational", false)

	// Allow environment variables
	viper.SetEnvPrefix("HN4")
	viper.AutomaticEnv()

	// Read config file if it exists
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	var config EngineConfig
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

func (c *EngineConfig) tier() (quality.Tier, error) {
	switch c.DefaultTier {
	case "toxic":
		return quality.Toxic, nil
	case "bronze":
		return quality.Bronze, nil
	case "silver":
		return quality.Silver, nil
	case "gold":
		return quality.Gold, nil
	}
	return quality.Toxic, fmt.Errorf("unknown quality tier %q", c.DefaultTier)
}

func (c *EngineConfig) strictness() (types.Strictness, error) {
	switch c.Strictness {
	case "production":
		return types.StrictnessProduction, nil
	case "audit":
		return types.StrictnessAudit, nil
	}
	return types.StrictnessProduction, fmt.Errorf("unknown strictness %q", c.Strictness)
}

func (c *EngineConfig) traits() types.DeviceTraits {
	return types.DeviceTraits{
		Profile:    types.ProfileByName(c.Profile),
		Rotational: c.Rotational,
	}
}

// mountOptions translates loaded config into volume options.
func (c *EngineConfig) mountOptions(readonly bool) (volume.Options, error) {
	strict, err := c.strictness()
	if err != nil {
		return volume.Options{}, err
	}
	log, err := newLogger()
	if err != nil {
		return volume.Options{}, err
	}
	return volume.Options{
		Strictness: strict,
		ReadOnly:   readonly,
		Read:       readpath.Config{AllowHeal: c.AllowHeal},
		Logger:     log,
	}, nil
}
