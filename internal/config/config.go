package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/openmined/syftcrypt/internal/pathmap"
	"github.com/openmined/syftcrypt/internal/utils"
	"gopkg.in/yaml.v3"
)

var (
	home, _              = os.UserHomeDir()
	DefaultDataDir       = filepath.Join(home, ".syftcrypt")
	DefaultConfigPath    = filepath.Join(DefaultDataDir, "config.yaml")
	DefaultLogFilePath   = filepath.Join(DefaultDataDir, "logs", "syftcrypt.log")
	DefaultWatchInterval = time.Minute
)

// ErrConfig marks malformed or missing settings.
var ErrConfig = errors.New("config error")

type Config struct {
	SyncDir           string            `mapstructure:"sync_dir" yaml:"sync_dir"`
	NativeRoots       []string          `mapstructure:"native_roots" yaml:"native_roots"`
	Keywords          map[string]string `mapstructure:"keywords" yaml:"keywords"`
	Key               string            `mapstructure:"key" yaml:"key,omitempty"`
	Password          string            `mapstructure:"password" yaml:"password,omitempty"`
	DataDir           string            `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	SyncDBDir         string            `mapstructure:"syncdb_dir" yaml:"syncdb_dir,omitempty"`
	Ignore            []string          `mapstructure:"ignore" yaml:"ignore,omitempty"`
	PullRemoteChanges bool              `mapstructure:"pull_remote_changes" yaml:"pull_remote_changes,omitempty"`
	WatchInterval     time.Duration     `mapstructure:"watch_interval" yaml:"watch_interval,omitempty"`
	Path              string            `mapstructure:"-" yaml:"-"`

	mapper *pathmap.Mapper
}

// Validate normalizes paths and checks that the configuration is usable.
// All failures wrap ErrConfig.
func (c *Config) Validate() error {
	var err error

	if c.SyncDir == "" {
		return fmt.Errorf("%w: sync_dir is required", ErrConfig)
	}
	if c.SyncDir, err = utils.ResolvePath(c.SyncDir); err != nil {
		return fmt.Errorf("%w: sync_dir: %w", ErrConfig, err)
	}

	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DataDir, err = utils.ResolvePath(c.DataDir); err != nil {
		return fmt.Errorf("%w: data_dir: %w", ErrConfig, err)
	}

	if c.SyncDBDir == "" {
		c.SyncDBDir = filepath.Join(c.DataDir, "syncdb")
	}
	if c.SyncDBDir, err = utils.ResolvePath(c.SyncDBDir); err != nil {
		return fmt.Errorf("%w: syncdb_dir: %w", ErrConfig, err)
	}
	if utils.IsSubPath(c.SyncDir, c.SyncDBDir) {
		return fmt.Errorf("%w: syncdb_dir must not live inside the shared sync_dir", ErrConfig)
	}

	if c.Path != "" {
		if c.Path, err = utils.ResolvePath(c.Path); err != nil {
			return fmt.Errorf("%w: config path: %w", ErrConfig, err)
		}
	}

	if len(c.Keywords) == 0 {
		return fmt.Errorf("%w: at least one keyword mapping is required", ErrConfig)
	}
	if c.mapper, err = pathmap.New(c.Keywords); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	if len(c.NativeRoots) == 0 {
		return fmt.Errorf("%w: at least one native root is required", ErrConfig)
	}
	roots := make([]string, 0, len(c.NativeRoots))
	for _, root := range c.NativeRoots {
		abs, err := utils.ResolvePath(root)
		if err != nil {
			return fmt.Errorf("%w: native root %q: %w", ErrConfig, root, err)
		}
		// a sync dir nested in a root is skipped while walking; the reverse is not allowed
		if utils.IsSubPath(c.SyncDir, abs) {
			return fmt.Errorf("%w: native root %s is inside sync_dir", ErrConfig, abs)
		}
		if !slices.Contains(roots, abs) {
			roots = append(roots, abs)
		}
	}
	c.NativeRoots = roots

	if c.Key != "" {
		if _, err := ParseHexKey(c.Key); err != nil {
			return err
		}
	}

	if c.WatchInterval <= 0 {
		c.WatchInterval = DefaultWatchInterval
	}

	return nil
}

// Mapper returns the keyword mapper built by Validate.
func (c *Config) Mapper() *pathmap.Mapper {
	return c.mapper
}

// IsUnderNativeRoot reports whether path lies in one of the configured native roots.
func (c *Config) IsUnderNativeRoot(path string) bool {
	for _, root := range c.NativeRoots {
		if utils.IsSubPath(root, path) {
			return true
		}
	}
	return false
}

// HistoryDBPath is the sqlite database holding the activity history.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// LockDir is where process lock files live.
func (c *Config) LockDir() string {
	return c.DataDir
}

// Save writes the configuration as YAML. Secrets are written only if set.
func (c *Config) Save(path string) error {
	if err := utils.EnsureParent(path); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// config may carry a password or key
	return os.WriteFile(path, data, 0o600)
}

// String is a redacted, single line description for logs.
func (c *Config) String() string {
	kws := make([]string, 0, len(c.Keywords))
	for k := range c.Keywords {
		kws = append(kws, strings.ToUpper(k))
	}
	slices.Sort(kws)
	return fmt.Sprintf("sync_dir=%s roots=%v keywords=%v", c.SyncDir, c.NativeRoots, kws)
}
