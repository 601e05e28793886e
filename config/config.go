// Package config loads the simulator settings from a yaml file, DAGSIM_*
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Simulation SimulationConfig `mapstructure:"simulation"`
	Node       NodeConfig       `mapstructure:"node"`
	Selection  SelectionConfig  `mapstructure:"selection"`
	Comparison ComparisonConfig `mapstructure:"comparison"`
	Data       DataConfig       `mapstructure:"data"`
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Events     EventsConfig     `mapstructure:"events"`
}

type SimulationConfig struct {
	Nodes         int     `mapstructure:"nodes"`
	Rounds        int     `mapstructure:"rounds"`
	Seed          int64   `mapstructure:"seed"`
	Topology      string  `mapstructure:"topology"`
	Degree        int     `mapstructure:"degree"`
	TxMakingRate  float64 `mapstructure:"tx_making_rate"`
	Byzantine     int     `mapstructure:"byzantine"`
	ByzantineType string  `mapstructure:"byzantine_type"`
}

type NodeConfig struct {
	EvalRate float64 `mapstructure:"eval_rate"`
}

type SelectionConfig struct {
	Policy              string `mapstructure:"policy"`
	Count               int    `mapstructure:"count"`
	Window              int    `mapstructure:"window"`
	ExcludeOwn          bool   `mapstructure:"exclude_own"`
	OptimalStopping     bool   `mapstructure:"optimal_stopping"`
	FilterNormalization bool   `mapstructure:"filter_normalization"`
	// ReturnAccuracy reports accuracies instead of distances for frobenius.
	ReturnAccuracy bool `mapstructure:"return_accuracy"`
}

type ComparisonConfig struct {
	Policy     string  `mapstructure:"policy"`
	Margin     float64 `mapstructure:"margin"`
	Confidence float64 `mapstructure:"confidence"`
}

// DataConfig shapes the synthetic dataset of the reference driver.
type DataConfig struct {
	SamplesPerNode int     `mapstructure:"samples_per_node"`
	Features       int     `mapstructure:"features"`
	Classes        int     `mapstructure:"classes"`
	TestFraction   float64 `mapstructure:"test_fraction"`
	Spread         float64 `mapstructure:"spread"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	AppLogFile string `mapstructure:"app_log_file"`
}

// EventsConfig points at an on-disk LevelDB archive of the event log.
// Empty keeps events in memory only.
type EventsConfig struct {
	Path string `mapstructure:"path"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("simulation.nodes", 10)
	v.SetDefault("simulation.rounds", 20)
	v.SetDefault("simulation.seed", 950327)
	v.SetDefault("simulation.topology", "random")
	v.SetDefault("simulation.degree", 3)
	v.SetDefault("simulation.tx_making_rate", 1.0)
	v.SetDefault("simulation.byzantine", 0)
	v.SetDefault("simulation.byzantine_type", "random_weights")

	v.SetDefault("node.eval_rate", 0.5)

	v.SetDefault("selection.policy", "accuracy")
	v.SetDefault("selection.count", 3)
	v.SetDefault("selection.window", 0)
	v.SetDefault("selection.exclude_own", false)
	v.SetDefault("selection.optimal_stopping", false)
	v.SetDefault("selection.filter_normalization", false)
	v.SetDefault("selection.return_accuracy", false)

	v.SetDefault("comparison.policy", "threshold")
	v.SetDefault("comparison.margin", 0.0)
	v.SetDefault("comparison.confidence", 0.5)

	v.SetDefault("data.samples_per_node", 200)
	v.SetDefault("data.features", 4)
	v.SetDefault("data.classes", 3)
	v.SetDefault("data.test_fraction", 0.25)
	v.SetDefault("data.spread", 1.5)

	v.SetDefault("server.port", 8080)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.app_log_file", "")

	v.SetDefault("events.path", "")
}

// Load reads file (if not empty) and the environment into a Config.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("DAGSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config file error: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the simulator cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Simulation.Nodes < 1 {
		errs = append(errs, fmt.Errorf("simulation.nodes must be positive, got %d", c.Simulation.Nodes))
	}
	if c.Simulation.Byzantine < 0 || c.Simulation.Byzantine >= c.Simulation.Nodes {
		errs = append(errs, fmt.Errorf("simulation.byzantine must be in [0, nodes), got %d", c.Simulation.Byzantine))
	}
	switch c.Simulation.ByzantineType {
	case "random_weights", "lazy", "fixed_eval":
	default:
		if c.Simulation.Byzantine > 0 {
			errs = append(errs, fmt.Errorf("unknown simulation.byzantine_type %q", c.Simulation.ByzantineType))
		}
	}
	if c.Selection.Count < 0 {
		errs = append(errs, fmt.Errorf("selection.count must not be negative, got %d", c.Selection.Count))
	}
	if r := c.Node.EvalRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("node.eval_rate must be in [0, 1], got %v", r))
	}
	if r := c.Simulation.TxMakingRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("simulation.tx_making_rate must be in [0, 1], got %v", r))
	}
	if c.Data.Classes < 1 || c.Data.Features < 1 {
		errs = append(errs, errors.New("data.classes and data.features must be positive"))
	}
	return errors.Join(errs...)
}
