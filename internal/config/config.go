// Package config loads the CLI configuration from flags, environment
// variables and an optional configuration file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/715d/domainmembership/pkg/membership"
)

// EnvPrefix prefixes every environment variable, e.g. DOMAIN_MEMBERSHIP_JOBS.
const EnvPrefix = "DOMAIN_MEMBERSHIP"

// DefaultName is the configuration file looked up when --config is not set.
const DefaultName = ".domainmembership"

// Config holds all command-line configuration options.
type Config struct {
	ParamsFile  string `mapstructure:"params_file"`  // class parameters
	MatrixFile  string `mapstructure:"matrix_file"`  // supported OS matrix, built-in when empty
	FactsFile   string `mapstructure:"facts_file"`   // facts merged over every context
	OS          string `mapstructure:"os"`           // glob over context names
	Jobs        int    `mapstructure:"jobs"`         // concurrent compilations
	JSON        bool   `mapstructure:"json"`         // JSON output and logs
	Verbose     bool   `mapstructure:"verbose"`      // enables logging
	Profile     bool   `mapstructure:"profile"`      // CPU and memory profiling
	MetricsFile string `mapstructure:"metrics_file"` // prometheus textfile output
	Environment string `mapstructure:"environment"`  // catalog environment
	Version     string `mapstructure:"catalog_version"`

	// Overrides holds the class parameters set through flags, the
	// environment or the configuration file, keyed by parameter name.
	Overrides map[string]any `mapstructure:"-"`
}

// ParamKeys are the class parameters that can be overridden.
var ParamKeys = []string{
	"domain",
	"username",
	"password",
	"secure_password",
	"machine_ou",
	"resetpw",
	"reboot",
	"join_options",
	"user_domain",
}

var settingKeys = []string{
	"params_file",
	"matrix_file",
	"facts_file",
	"os",
	"jobs",
	"json",
	"verbose",
	"profile",
	"metrics_file",
	"environment",
	"catalog_version",
}

// New returns a viper instance reading DOMAIN_MEMBERSHIP_* variables.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("params_file", "params.yaml")
	v.SetDefault("jobs", 1)
	v.SetDefault("environment", "production")
	return v
}

// BindFlags binds the flags of cmd to their keys. A flag is named after its
// key with dashes, e.g. --params-file for params_file.
func BindFlags(v *viper.Viper, cmd *cobra.Command) error {
	for _, key := range append(settingKeys, ParamKeys...) {
		name := strings.ReplaceAll(key, "_", "-")
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the configuration file and decodes the merged settings. An
// explicit file must exist. Otherwise DefaultName is searched in paths,
// or the working directory, and may be absent.
func Load(v *viper.Viper, file string, paths ...string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(DefaultName)
		v.SetConfigType("yaml")
		if len(paths) == 0 {
			paths = []string{"."}
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if c.Jobs < 1 {
		return nil, fmt.Errorf("jobs must be at least 1, got %d", c.Jobs)
	}

	c.Overrides = make(map[string]any)
	for _, key := range ParamKeys {
		if v.IsSet(key) {
			c.Overrides[key] = v.Get(key)
		}
	}
	return &c, nil
}

// ApplyOverrides sets the overridden parameters on p. Values are converted
// the way flags and environment variables need, e.g. "false" to a bool.
func (c *Config) ApplyOverrides(p *membership.Params) error {
	if len(c.Overrides) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           p,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(c.Overrides); err != nil {
		return fmt.Errorf("applying parameter overrides: %w", err)
	}
	return nil
}
