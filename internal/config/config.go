// Package config reads and writes the repository configuration file,
// .libra/config.toml: the remote table and tool defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

const fileName = "config.toml"

// Config is a loaded repository configuration.
type Config struct {
	v    *viper.Viper
	path string
}

// Load reads the configuration under the control directory. A missing file
// yields defaults; LIBRA_* environment variables override file values.
func Load(ctrlDir string) (*Config, error) {
	v := viper.New()
	path := filepath.Join(ctrlDir, fileName)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	v.SetEnvPrefix("LIBRA")
	v.AutomaticEnv()
	v.SetDefault("index_version", 2)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return &Config{v: v, path: path}, nil
}

// Remotes returns the remote name to URL table.
func (c *Config) Remotes() map[string]string {
	return c.v.GetStringMapString("remotes")
}

// Remote resolves one remote's URL.
func (c *Config) Remote(name string) (string, bool) {
	url, ok := c.Remotes()[name]
	return url, ok
}

// AddRemote records a remote and persists the file.
func (c *Config) AddRemote(name, url string) error {
	if _, exists := c.Remote(name); exists {
		return fmt.Errorf("remote '%s' already exists", name)
	}
	c.v.Set("remotes."+name, url)
	if err := c.v.WriteConfigAs(c.path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// IndexVersion returns the pack index version fetch writes by default.
func (c *Config) IndexVersion() int {
	return c.v.GetInt("index_version")
}
