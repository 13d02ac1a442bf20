package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mikesmitty/hx711"
	"gopkg.in/yaml.v3"
)

// Config represents the command configuration.
type Config struct {
	Pins        PinsConfig        `yaml:"pins"`
	Channel     string            `yaml:"channel"`
	Gain        int               `yaml:"gain"`
	SettleDelay time.Duration     `yaml:"settle_delay"`
	Samples     int               `yaml:"samples"`
	Interval    time.Duration     `yaml:"interval"`
	TareOnStart bool              `yaml:"tare_on_start"`
	Calibration CalibrationConfig `yaml:"calibration"`
}

// PinsConfig names the GPIO pins as known to gpioreg, e.g. "GPIO6".
type PinsConfig struct {
	Clock string `yaml:"clock"`
	Data  string `yaml:"data"`
}

// CalibrationConfig holds the stored calibration of each slot.
type CalibrationConfig struct {
	A128 SlotConfig `yaml:"a128"`
	A64  SlotConfig `yaml:"a64"`
	B    SlotConfig `yaml:"b"`
}

// SlotConfig is the calibration of one channel/gain slot.
type SlotConfig struct {
	Offset     int64   `yaml:"offset"`
	ScaleRatio float64 `yaml:"scale_ratio"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Pins: PinsConfig{
			Clock: "GPIO6",
			Data:  "GPIO5",
		},
		Channel:     "A",
		Gain:        128,
		SettleDelay: 500 * time.Millisecond,
		Samples:     5,
		Interval:    time.Second,
		Calibration: CalibrationConfig{
			A128: SlotConfig{ScaleRatio: 1},
			A64:  SlotConfig{ScaleRatio: 1},
			B:    SlotConfig{ScaleRatio: 1},
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults ensures that all required fields have default values if missing.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Pins.Clock == "" {
		c.Pins.Clock = def.Pins.Clock
	}
	if c.Pins.Data == "" {
		c.Pins.Data = def.Pins.Data
	}
	if c.Channel == "" {
		c.Channel = def.Channel
	}
	if c.Gain == 0 {
		c.Gain = def.Gain
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.Samples == 0 {
		c.Samples = def.Samples
	}
	if c.Interval == 0 {
		c.Interval = def.Interval
	}
	for _, s := range []*SlotConfig{&c.Calibration.A128, &c.Calibration.A64, &c.Calibration.B} {
		if s.ScaleRatio == 0 {
			s.ScaleRatio = 1
		}
	}
}

// Validate checks the channel, gain, samples, settle delay and interval.
func (c *Config) Validate() error {
	switch strings.ToUpper(c.Channel) {
	case "A", "B":
	default:
		return fmt.Errorf("%w: channel must be A or B, got %q", hx711.ErrConfig, c.Channel)
	}
	switch hx711.Gain(c.Gain) {
	case hx711.Gain128, hx711.Gain64:
	default:
		return fmt.Errorf("%w: gain must be 128 or 64, got %d", hx711.ErrConfig, c.Gain)
	}
	if c.Samples < 1 || c.Samples > 99 {
		return fmt.Errorf("%w: samples must be 1 to 99, got %d", hx711.ErrConfig, c.Samples)
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("%w: negative settle delay %v", hx711.ErrConfig, c.SettleDelay)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("%w: interval must be positive, got %v", hx711.ErrConfig, c.Interval)
	}
	return nil
}

// Options converts the configuration into driver options.
func (c *Config) Options() (*hx711.Opts, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	opts := hx711.DefaultOptions()
	opts.Channel = hx711.ChannelA
	if strings.ToUpper(c.Channel) == "B" {
		opts.Channel = hx711.ChannelB
	}
	opts.Gain = hx711.Gain(c.Gain)
	opts.SettleDelay = c.SettleDelay
	opts.Samples = c.Samples
	return opts, nil
}

type slotEntry struct {
	slot hx711.Slot
	cfg  *SlotConfig
}

func (c *Config) slots() []slotEntry {
	return []slotEntry{
		{hx711.SlotA128, &c.Calibration.A128},
		{hx711.SlotA64, &c.Calibration.A64},
		{hx711.SlotB, &c.Calibration.B},
	}
}

// Apply loads the stored calibration into the driver, slot by slot in
// A/128, A/64, B order.
func (c *Config) Apply(dev *hx711.Dev) error {
	for _, e := range c.slots() {
		if err := dev.SetOffsetFor(e.slot, e.cfg.Offset); err != nil {
			return fmt.Errorf("slot %v: %w", e.slot, err)
		}
		if err := dev.SetScaleRatioFor(e.slot, e.cfg.ScaleRatio); err != nil {
			return fmt.Errorf("slot %v: %w", e.slot, err)
		}
	}
	return nil
}

// Capture stores the driver calibration into the configuration.
func (c *Config) Capture(dev *hx711.Dev) {
	for _, e := range c.slots() {
		e.cfg.Offset = dev.Offset(e.slot)
		e.cfg.ScaleRatio = dev.ScaleRatio(e.slot)
	}
}
