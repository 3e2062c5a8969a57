package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/openmined/syftcrypt/internal/config"
	"github.com/openmined/syftcrypt/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const envPrefix = "SYFTCRYPT"

// settings that can come from the environment as SYFTCRYPT_<KEY>
var envKeys = []string{
	"sync_dir",
	"key",
	"password",
	"data_dir",
	"syncdb_dir",
	"pull_remote_changes",
	"watch_interval",
}

// resolveConfigPath honors, in order, the --config flag, SYFTCRYPT_CONFIG and the default path.
func resolveConfigPath(cmd *cobra.Command) string {
	if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	if envPath := os.Getenv(envPrefix + "_CONFIG"); envPath != "" {
		return envPath
	}
	return config.DefaultConfigPath
}

// loadConfig reads the config file, overlays the environment and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := resolveConfigPath(cmd)

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("%w: read %s: %w", config.ErrConfig, path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	cfg := &config.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrConfig, err)
	}
	cfg.Path = path

	if err := cfg.Validate(); err != nil {
		if !utils.FileExists(path) {
			return nil, fmt.Errorf("%w (no config at %s, run `syftcrypt init` first)", err, path)
		}
		return nil, err
	}
	return cfg, nil
}
