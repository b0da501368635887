package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds every process-wide knob. Values come from an optional YAML
// file (SHOWRUNNER_CONFIG) overridden by individual environment variables.
type Config struct {
	CoordsPath    string `yaml:"coords_path"`
	AnimDir       string `yaml:"anim_dir"`
	ControlFile   string `yaml:"control_file"`
	InitialAnim   string `yaml:"initial_anim"`
	SerialBase    string `yaml:"serial_base"`
	SerialBaud    int    `yaml:"serial_baud"`
	LEDsPerChan   int    `yaml:"leds_per_channel"`
	Channels      int    `yaml:"channels"`
	FPS           int    `yaml:"fps"`
	StatusFile    string `yaml:"status_file"`
	ListenAddr    string `yaml:"listen_addr"`
	EvictionAgeS  int    `yaml:"eviction_age_s"`
	IdleTimeoutS  int    `yaml:"idle_timeout_s"`
	LogLevel      string `yaml:"log_level"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		CoordsPath:   "coordinates.txt",
		AnimDir:      "animations",
		ControlFile:  "current_animation",
		InitialAnim:  "default.js",
		SerialBase:   "/dev/ttyACM",
		SerialBaud:   115200,
		LEDsPerChan:  200,
		Channels:     8,
		FPS:          30,
		StatusFile:   "status.json",
		ListenAddr:   "0.0.0.0:8080",
		EvictionAgeS: 300,
		IdleTimeoutS: 30,
		LogLevel:     "info",
	}
}

// Load builds the effective config: defaults, then the YAML file named by
// SHOWRUNNER_CONFIG (if set), then per-variable environment overrides.
func Load() (Config, error) {
	c := Default()
	if path := os.Getenv("SHOWRUNNER_CONFIG"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return c, fmt.Errorf("config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return c, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	applyEnv(&c)
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Save writes the config as YAML, mostly useful for generating a template.
func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func applyEnv(c *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	str("SHOWRUNNER_COORDS", &c.CoordsPath)
	str("SHOWRUNNER_ANIM_DIR", &c.AnimDir)
	str("SHOWRUNNER_CONTROL_FILE", &c.ControlFile)
	str("SHOWRUNNER_INITIAL_ANIM", &c.InitialAnim)
	str("SHOWRUNNER_SERIAL_BASE", &c.SerialBase)
	num("SHOWRUNNER_SERIAL_BAUD", &c.SerialBaud)
	num("SHOWRUNNER_LEDS_PER_CHANNEL", &c.LEDsPerChan)
	num("SHOWRUNNER_CHANNELS", &c.Channels)
	num("SHOWRUNNER_FPS", &c.FPS)
	str("SHOWRUNNER_STATUS_FILE", &c.StatusFile)
	str("SHOWRUNNER_LISTEN", &c.ListenAddr)
	num("SHOWRUNNER_EVICTION_AGE", &c.EvictionAgeS)
	num("SHOWRUNNER_IDLE_TIMEOUT", &c.IdleTimeoutS)
	str("SHOWRUNNER_LOG_LEVEL", &c.LogLevel)
}

// Validate rejects values the protocol or scheduler cannot honor.
func (c *Config) Validate() error {
	if c.Channels < 1 || c.Channels > 8 {
		return fmt.Errorf("channels must be 1..8, got %d", c.Channels)
	}
	if c.LEDsPerChan < 1 || c.LEDsPerChan > 200 {
		return fmt.Errorf("leds per channel must be 1..200, got %d", c.LEDsPerChan)
	}
	if c.FPS < 1 || c.FPS > 120 {
		return fmt.Errorf("fps must be 1..120, got %d", c.FPS)
	}
	if c.SerialBaud <= 0 {
		return fmt.Errorf("serial baud must be positive, got %d", c.SerialBaud)
	}
	if c.EvictionAgeS < 0 {
		return fmt.Errorf("eviction age must be >= 0, got %d", c.EvictionAgeS)
	}
	if c.IdleTimeoutS <= 0 {
		return fmt.Errorf("idle timeout must be > 0, got %d", c.IdleTimeoutS)
	}
	return nil
}

// LEDCount is the total number of LEDs the frame buffer covers.
func (c *Config) LEDCount() int { return c.Channels * c.LEDsPerChan }
