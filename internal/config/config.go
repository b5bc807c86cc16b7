// Package config loads simulator settings from an optional YAML file
// overlaid with SIM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/topology-simulator/core"
	"github.com/signalsfoundry/topology-simulator/internal/logging"
	"github.com/signalsfoundry/topology-simulator/internal/observability"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete simulator configuration.
type Config struct {
	Clock     ClockConfig     `yaml:"clock"`
	Topology  TopologyConfig  `yaml:"topology"`
	Generator GeneratorConfig `yaml:"generator"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`

	Tracing observability.TracingConfig `yaml:"tracing"`

	// Scenario is the path of a scenario file. When empty the random
	// generator populates the topology instead.
	Scenario string `yaml:"scenario"`

	// Watch reloads the configuration file while the simulator runs and
	// applies the clock period and topology settings it contains.
	Watch bool `yaml:"watch"`

	path string
}

type ClockConfig struct {
	Period time.Duration `yaml:"period" validate:"gt=0"`
	// Duration stops the run after this much wall time; zero runs until
	// interrupted.
	Duration  time.Duration `yaml:"duration" validate:"gte=0"`
	StartTime time.Time     `yaml:"start_time"`
	// StartPaused starts the clock and pauses it immediately so the run
	// can be driven step by step over HTTP.
	StartPaused bool `yaml:"start_paused"`
}

type TopologyConfig struct {
	WirelessRange      float64 `yaml:"wireless_range" validate:"gte=0"`
	DefaultOrientation string  `yaml:"default_orientation" validate:"oneof=undirected directed"`
	RefreshMode        string  `yaml:"refresh_mode" validate:"oneof=clockbased eventbased"`
	Motion             string  `yaml:"motion" validate:"oneof=static linear"`
}

type GeneratorConfig struct {
	Nodes    int     `yaml:"nodes" validate:"gte=0,lte=100000"`
	Width    float64 `yaml:"width" validate:"gt=0"`
	Height   float64 `yaml:"height" validate:"gt=0"`
	Wired    bool    `yaml:"wired"`
	Directed bool    `yaml:"directed"`
	Seed     int64   `yaml:"seed"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr" validate:"omitempty,hostname_port"`
	AllowedOrigins []string `yaml:"allowed_origins" validate:"dive,required"`
	// EventHistory bounds the journal served at /api/v1/events.
	EventHistory int `yaml:"event_history" validate:"gte=1"`
}

type LogConfig struct {
	Level     string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format    string `yaml:"format" validate:"omitempty,oneof=json text"`
	AddSource bool   `yaml:"add_source"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Clock: ClockConfig{
			Period: 100 * time.Millisecond,
		},
		Topology: TopologyConfig{
			WirelessRange:      core.DefaultWirelessRange,
			DefaultOrientation: core.Undirected.String(),
			RefreshMode:        core.ClockBased.String(),
			Motion:             "static",
		},
		Generator: GeneratorConfig{
			Nodes:  20,
			Width:  800,
			Height: 600,
			Seed:   1,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			EventHistory: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: observability.DefaultTracingConfig(),
	}
}

// Load builds a configuration from defaults, the YAML file at path (if
// path is not empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	cfg.path = path

	if lookup != nil {
		if err := cfg.applyEnv(lookup); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("SIM_SCENARIO", &c.Scenario)
	str("SIM_DEFAULT_ORIENTATION", &c.Topology.DefaultOrientation)
	str("SIM_REFRESH_MODE", &c.Topology.RefreshMode)
	str("SIM_MOTION", &c.Topology.Motion)
	str("SIM_HTTP_ADDR", &c.HTTP.Addr)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("SIM_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("SIM_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	str("SIM_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if v, ok := lookup("SIM_HTTP_ALLOWED_ORIGINS"); ok && v != "" {
		c.HTTP.AllowedOrigins = splitList(v)
	}

	if v, ok := lookup("SIM_CLOCK_PERIOD"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: SIM_CLOCK_PERIOD: %v", ErrInvalidConfig, err)
		}
		c.Clock.Period = d
	}
	if v, ok := lookup("SIM_DURATION"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: SIM_DURATION: %v", ErrInvalidConfig, err)
		}
		c.Clock.Duration = d
	}
	if v, ok := lookup("SIM_WIRELESS_RANGE"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: SIM_WIRELESS_RANGE: %v", ErrInvalidConfig, err)
		}
		c.Topology.WirelessRange = r
	}
	if v, ok := lookup("SIM_GENERATOR_NODES"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: SIM_GENERATOR_NODES: %v", ErrInvalidConfig, err)
		}
		c.Generator.Nodes = n
	}
	if v, ok := lookup("SIM_WATCH_CONFIG"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: SIM_WATCH_CONFIG: %v", ErrInvalidConfig, err)
		}
		c.Watch = b
	}
	if v, ok := lookup("SIM_TRACING_ENABLED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: SIM_TRACING_ENABLED: %v", ErrInvalidConfig, err)
		}
		c.Tracing.Enabled = b
	}
	if v, ok := lookup("SIM_TRACING_SAMPLE_RATIO"); ok && v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: SIM_TRACING_SAMPLE_RATIO: %v", ErrInvalidConfig, err)
		}
		c.Tracing.SampleRatio = r
	}
	if v, ok := lookup("SIM_GENERATOR_SEED"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: SIM_GENERATOR_SEED: %v", ErrInvalidConfig, err)
		}
		c.Generator.Seed = n
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = validator.New()

// Validate checks field constraints and reports every violation.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}
	return nil
}

// TopologyOptions translates the topology section into core options.
func (c *Config) TopologyOptions() []core.Option {
	return []core.Option{
		core.WithWirelessRange(c.Topology.WirelessRange),
		core.WithDefaultOrientation(c.orientation()),
		core.WithRefreshMode(c.refreshMode()),
	}
}

// ApplyTopology pushes the topology section onto a live topology.
func (c *Config) ApplyTopology(topo *core.Topology) {
	topo.SetWirelessRange(c.Topology.WirelessRange)
	topo.SetDefaultOrientation(c.orientation())
	topo.SetRefreshMode(c.refreshMode())
}

func (c *Config) orientation() core.LinkType {
	if c.Topology.DefaultOrientation == core.Directed.String() {
		return core.Directed
	}
	return core.Undirected
}

func (c *Config) refreshMode() core.RefreshMode {
	if c.Topology.RefreshMode == core.EventBased.String() {
		return core.EventBased
	}
	return core.ClockBased
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string { return c.path }

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	return logging.Config{
		Level:     c.Log.Level,
		Format:    c.Log.Format,
		AddSource: c.Log.AddSource,
	}
}
