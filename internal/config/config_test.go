package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if c.LEDCount() != 1600 {
		t.Fatalf("default led count = %d, want 1600", c.LEDCount())
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SHOWRUNNER_CONFIG", "")
	t.Setenv("SHOWRUNNER_FPS", "60")
	t.Setenv("SHOWRUNNER_CHANNELS", "4")
	t.Setenv("SHOWRUNNER_LEDS_PER_CHANNEL", "120")
	t.Setenv("SHOWRUNNER_SERIAL_BASE", "/dev/ttyUSB")
	t.Setenv("SHOWRUNNER_LOG_LEVEL", "debug")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.FPS != 60 || c.Channels != 4 || c.LEDsPerChan != 120 {
		t.Fatalf("env overrides not applied: %+v", c)
	}
	if c.SerialBase != "/dev/ttyUSB" || c.LogLevel != "debug" {
		t.Fatalf("string overrides not applied: %+v", c)
	}
	if c.SerialBaud != 115200 {
		t.Fatalf("untouched values must keep defaults, baud = %d", c.SerialBaud)
	}
}

func TestYAMLFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("fps: 15\nchannels: 2\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SHOWRUNNER_CONFIG", path)
	t.Setenv("SHOWRUNNER_FPS", "45")

	c, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Channels != 2 {
		t.Fatalf("yaml value not applied, channels = %d", c.Channels)
	}
	if c.FPS != 45 {
		t.Fatalf("env must override yaml, fps = %d", c.FPS)
	}
}

func TestValidationRejectsOutOfRange(t *testing.T) {
	cases := []func(*Config){
		func(c *Config) { c.Channels = 0 },
		func(c *Config) { c.Channels = 9 },
		func(c *Config) { c.LEDsPerChan = 0 },
		func(c *Config) { c.LEDsPerChan = 201 },
		func(c *Config) { c.FPS = 0 },
		func(c *Config) { c.FPS = 121 },
		func(c *Config) { c.SerialBaud = 0 },
		func(c *Config) { c.EvictionAgeS = -1 },
		func(c *Config) { c.IdleTimeoutS = 0 },
	}
	for i, mutate := range cases {
		c := Default()
		mutate(&c)
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d should fail validation: %+v", i, c)
		}
	}
}
