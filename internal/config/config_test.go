package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "intercom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.Equal(t, DriverCdev, cfg.GPIO.Driver)
	require.Equal(t, ModeBCM, cfg.GPIO.Mode)
	require.Equal(t, 50*time.Millisecond, cfg.Button.PollInterval)
	require.Equal(t, 5*time.Second, cfg.Door.Duration)
	require.Equal(t, 6, cfg.HTTP.TokenLength)
	require.Equal(t, "ring.wav", cfg.Audio.Ring)
	require.NoError(t, Validate(cfg))
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
sip:
  target: sip:door@example.com
  listen: true
gpio:
  driver: periph
  mode: BOARD
  led_red: 11
  led_green: 13
  door: 15
  button: 16
  invert_door: true
door:
  duration: 3s
http:
  addr: ":9000"
  allowed_users: [alice@example.com]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sip:door@example.com", cfg.SIP.Target)
	require.True(t, cfg.SIP.Listen)
	require.Equal(t, DriverPeriph, cfg.GPIO.Driver)
	require.Equal(t, ModeBoard, cfg.GPIO.Mode)
	require.True(t, cfg.GPIO.InvertDoor)
	require.Equal(t, 3*time.Second, cfg.Door.Duration)
	require.Equal(t, []string{"alice@example.com"}, cfg.HTTP.AllowedUsers)
	require.Equal(t, DefaultBlinkPeriod, cfg.LED.BlinkPeriod)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"empty target":     func(c *Config) { c.SIP.Target = " " },
		"unknown driver":   func(c *Config) { c.GPIO.Driver = "sysfs" },
		"unknown mode":     func(c *Config) { c.GPIO.Mode = "wiring" },
		"duplicate pins":   func(c *Config) { c.GPIO.Door = c.GPIO.Button },
		"negative door":    func(c *Config) { c.Door.Duration = -time.Second },
		"short token":      func(c *Config) { c.HTTP.TokenLength = 2 },
		"partial oauth":    func(c *Config) { c.HTTP.OAuth.ClientID = "id" },
		"bad http address": func(c *Config) { c.HTTP.Addr = "8888" },
	}

	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		require.Error(t, Validate(cfg), name)
	}
}
