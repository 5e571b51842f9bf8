// Package config loads the daemon configuration from YAML, applies flag
// overrides and converts it into the settings each component takes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/button-handler/internal/gpio"
	"github.com/sweeney/button-handler/internal/logic"
)

// Input modes.
const (
	ModePoll  = "poll"  // sample GPIO levels on a ticker
	ModeEdge  = "edge"  // GPIO edge events from the kernel
	ModeEvdev = "evdev" // key events from /dev/input devices
)

// Config is the top-level YAML configuration.
type Config struct {
	Input   InputConfig   `yaml:"input"`
	Timing  TimingConfig  `yaml:"timing"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`

	// Buttons holds per-button timing overrides keyed by button number.
	Buttons map[int]TimingOverride `yaml:"buttons,omitempty"`

	Bindings []BindingConfig `yaml:"bindings,omitempty"`
}

type InputConfig struct {
	Mode string `yaml:"mode"`

	// GPIO (poll and edge modes)
	Chip           string `yaml:"chip"`
	Pins           []int  `yaml:"pins,omitempty"`
	ActiveLow      bool   `yaml:"active_low"`
	Bias           string `yaml:"bias"`
	PollIntervalMS int    `yaml:"poll_interval_ms"`

	// evdev mode
	Devices  []string `yaml:"devices,omitempty"`
	KeyCodes []uint16 `yaml:"key_codes,omitempty"`

	// QueueSize bounds pending edges in edge and evdev modes.
	QueueSize int `yaml:"queue_size"`
}

// TimingConfig holds the classifier thresholds in YAML-friendly units.
type TimingConfig struct {
	DebounceMS           int  `yaml:"debounce_ms"`
	ShortPressMaxMS      int  `yaml:"short_press_max_ms"`
	LongPressMinMS       int  `yaml:"long_press_min_ms"`
	MultiPressIntervalMS int  `yaml:"multi_press_interval_ms"`
	EnableMultiPress     bool `yaml:"enable_multi_press"`
	MaxMultiPress        int  `yaml:"max_multi_press"`
	MaxSampleGapMS       int  `yaml:"max_sample_gap_ms"`
}

// TimingOverride replaces individual thresholds for one button.
// Unset fields inherit from the top-level timing section.
type TimingOverride struct {
	DebounceMS           *int  `yaml:"debounce_ms,omitempty"`
	ShortPressMaxMS      *int  `yaml:"short_press_max_ms,omitempty"`
	LongPressMinMS       *int  `yaml:"long_press_min_ms,omitempty"`
	MultiPressIntervalMS *int  `yaml:"multi_press_interval_ms,omitempty"`
	EnableMultiPress     *bool `yaml:"enable_multi_press,omitempty"`
	MaxMultiPress        *int  `yaml:"max_multi_press,omitempty"`
}

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	TopicPrefix  string `yaml:"topic_prefix"`
	HeartbeatSec int    `yaml:"heartbeat_sec"`
	BufferSize   int    `yaml:"buffer_size"`
}

type HTTPConfig struct {
	// Addr is the listen address; empty disables the status server.
	Addr string `yaml:"addr"`
	// Live enables the /events websocket.
	Live bool `yaml:"live"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a fully-populated Config with defaults: one button on
// BCM 17, polled every 10ms, wired to ground with the internal pull-up.
func DefaultConfig() Config {
	t := logic.DefaultConfig()
	return Config{
		Input: InputConfig{
			Mode:           ModePoll,
			Chip:           gpio.DefaultChip,
			Pins:           []int{gpio.DefaultPin},
			ActiveLow:      true,
			Bias:           string(gpio.BiasPullUp),
			PollIntervalMS: 10,
			QueueSize:      64,
		},
		Timing: TimingConfig{
			DebounceMS:           int(t.Debounce / time.Millisecond),
			ShortPressMaxMS:      int(t.ShortPressMax / time.Millisecond),
			LongPressMinMS:       int(t.LongPressMin / time.Millisecond),
			MultiPressIntervalMS: int(t.MultiPressInterval / time.Millisecond),
			EnableMultiPress:     t.EnableMultiPress,
			MaxMultiPress:        t.MaxMultiPress,
		},
		MQTT: MQTTConfig{
			Broker:       "tcp://localhost:1883",
			ClientID:     "button-handler",
			TopicPrefix:  "home/buttons",
			HeartbeatSec: 900,
			BufferSize:   256,
		},
		HTTP: HTTPConfig{
			Addr: ":8080",
			Live: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of the defaults.
// Unknown fields are rejected to catch typos.
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML on top of the defaults.
func Parse(b []byte) (Config, error) {
	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace and comments may follow the document.
	var extra yaml.Node
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
	case err != nil:
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	case extra.Kind != 0 && !isNullDocument(&extra):
		return Config{}, errors.New("decode config yaml: unexpected trailing document")
	}
	return cfg, nil
}

func isNullDocument(n *yaml.Node) bool {
	if n.Kind == yaml.DocumentNode && len(n.Content) == 1 {
		n = n.Content[0]
	}
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

// FlagOverrides holds values set on the command line. Nil pointers are
// ignored; non-nil values are applied even if they are zero.
type FlagOverrides struct {
	PollInterval *time.Duration
	Broker       *string
	HTTPAddr     *string
	LogLevel     *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.PollInterval != nil {
		cfg.Input.PollIntervalMS = int(*o.PollInterval / time.Millisecond)
	}
	if o.Broker != nil {
		cfg.MQTT.Broker = *o.Broker
	}
	if o.HTTPAddr != nil {
		cfg.HTTP.Addr = *o.HTTPAddr
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// ButtonCount returns the number of configured buttons.
func (c *Config) ButtonCount() int {
	if c.Input.Mode == ModeEvdev {
		return len(c.Input.KeyCodes)
	}
	return len(c.Input.Pins)
}

// Validate checks config invariants and returns a user-friendly error.
// It is called after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	switch c.Input.Mode {
	case ModePoll:
		if c.Input.PollIntervalMS <= 0 {
			return errors.New("input.poll_interval_ms must be > 0")
		}
		fallthrough
	case ModeEdge:
		if _, err := c.LineConfig(); err != nil {
			return fmt.Errorf("input: %w", err)
		}
	case ModeEvdev:
		if len(c.Input.Devices) == 0 {
			return errors.New("input.devices must not be empty in evdev mode")
		}
		for i, dev := range c.Input.Devices {
			if dev == "" {
				return fmt.Errorf("input.devices[%d] is empty", i)
			}
		}
		if len(c.Input.KeyCodes) == 0 {
			return errors.New("input.key_codes must not be empty in evdev mode")
		}
	default:
		return fmt.Errorf("input.mode must be %q, %q or %q, got %q", ModePoll, ModeEdge, ModeEvdev, c.Input.Mode)
	}
	if c.Input.QueueSize < 0 {
		return errors.New("input.queue_size must be >= 0")
	}

	if err := c.Timing.classifier().Validate(); err != nil {
		return fmt.Errorf("timing: %w", err)
	}
	n := c.ButtonCount()
	for b, o := range c.Buttons {
		if b < 0 || b >= n {
			return fmt.Errorf("buttons.%d: no such button (%d configured)", b, n)
		}
		if err := o.apply(c.Timing).classifier().Validate(); err != nil {
			return fmt.Errorf("buttons.%d: %w", b, err)
		}
	}

	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must not be empty")
	}
	if c.MQTT.HeartbeatSec < 0 {
		return errors.New("mqtt.heartbeat_sec must be >= 0")
	}

	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	for i, b := range c.Bindings {
		if err := b.validate(n); err != nil {
			return fmt.Errorf("bindings[%d]: %w", i, err)
		}
	}
	return nil
}

// LineConfig returns the GPIO line settings.
func (c *Config) LineConfig() (gpio.LineConfig, error) {
	bias, err := gpio.ParseBias(c.Input.Bias)
	if err != nil {
		return gpio.LineConfig{}, err
	}
	lc := gpio.LineConfig{
		Chip:      c.Input.Chip,
		Pins:      c.Input.Pins,
		ActiveLow: c.Input.ActiveLow,
		Bias:      bias,
	}
	return lc, lc.Validate()
}

// PollInterval returns the GPIO sampling interval.
func (c *Config) PollInterval() time.Duration {
	return ms(c.Input.PollIntervalMS)
}

// Debounce returns the configured debounce time. In edge mode it is applied
// by the kernel line debouncer rather than the classifier.
func (c *Config) Debounce() time.Duration {
	return ms(c.Timing.DebounceMS)
}

// Heartbeat returns the heartbeat interval; zero disables heartbeats.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.MQTT.HeartbeatSec) * time.Second
}

// LogicConfig returns the default classifier thresholds. MaxSampleGap is
// filled in from the poll interval when not set explicitly.
func (c *Config) LogicConfig() logic.Config {
	lc := c.Timing.classifier()
	if c.Input.Mode == ModePoll && lc.MaxSampleGap == 0 {
		lc.MaxSampleGap = c.defaultSampleGap()
	}
	if c.Input.Mode != ModePoll {
		// Edge sources are debounced before they reach the classifier.
		lc.Debounce = 0
	}
	return lc
}

// Overrides returns per-button classifier thresholds.
func (c *Config) Overrides() map[int]logic.Config {
	if len(c.Buttons) == 0 {
		return nil
	}
	base := c.LogicConfig()
	out := make(map[int]logic.Config, len(c.Buttons))
	for b, o := range c.Buttons {
		lc := o.apply(c.Timing).classifier()
		lc.MaxSampleGap = base.MaxSampleGap
		lc.Debounce = o.debounce(base.Debounce, c.Input.Mode)
		out[b] = lc
	}
	return out
}

// defaultSampleGap tolerates a few late ticks before treating the gap as
// missed samples.
func (c *Config) defaultSampleGap() time.Duration {
	gap := 10 * c.PollInterval()
	if gap < 250*time.Millisecond {
		gap = 250 * time.Millisecond
	}
	return gap
}

func (t TimingConfig) classifier() logic.Config {
	return logic.Config{
		Debounce:           ms(t.DebounceMS),
		ShortPressMax:      ms(t.ShortPressMaxMS),
		LongPressMin:       ms(t.LongPressMinMS),
		MultiPressInterval: ms(t.MultiPressIntervalMS),
		EnableMultiPress:   t.EnableMultiPress,
		MaxMultiPress:      t.MaxMultiPress,
		MaxSampleGap:       ms(t.MaxSampleGapMS),
	}
}

func (o TimingOverride) apply(t TimingConfig) TimingConfig {
	if o.DebounceMS != nil {
		t.DebounceMS = *o.DebounceMS
	}
	if o.ShortPressMaxMS != nil {
		t.ShortPressMaxMS = *o.ShortPressMaxMS
	}
	if o.LongPressMinMS != nil {
		t.LongPressMinMS = *o.LongPressMinMS
	}
	if o.MultiPressIntervalMS != nil {
		t.MultiPressIntervalMS = *o.MultiPressIntervalMS
	}
	if o.EnableMultiPress != nil {
		t.EnableMultiPress = *o.EnableMultiPress
	}
	if o.MaxMultiPress != nil {
		t.MaxMultiPress = *o.MaxMultiPress
	}
	return t
}

func (o TimingOverride) debounce(base time.Duration, mode string) time.Duration {
	if mode != ModePoll || o.DebounceMS == nil {
		return base
	}
	return ms(*o.DebounceMS)
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
