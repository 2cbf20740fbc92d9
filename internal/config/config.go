// Package config loads and validates the intercom daemon settings from YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigFilename is used when no --config flag is given.
	DefaultConfigFilename = "intercom.yaml"

	// DefaultPollInterval is the button sampling period.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultDoorDuration is how long the door relay is held open.
	DefaultDoorDuration = 5 * time.Second
	// DefaultBlinkPeriod is the toggle period of a blinking LED.
	DefaultBlinkPeriod = 500 * time.Millisecond
	// DefaultSessionTTL bounds the lifetime of a signed web session.
	DefaultSessionTTL = 30 * 24 * time.Hour
	// DefaultTokenLength is the length of a door access token.
	DefaultTokenLength = 6
	// DefaultMaxSessions bounds the number of per-session gates kept in memory.
	DefaultMaxSessions = 256

	// DriverCdev selects the Linux GPIO character device driver.
	DriverCdev = "cdev"
	// DriverPeriph selects the periph.io host drivers.
	DriverPeriph = "periph"
	// ModeBCM numbers pins by Broadcom GPIO number.
	ModeBCM = "bcm"
	// ModeBoard numbers pins by physical header position.
	ModeBoard = "board"
)

var (
	errNoTarget        = errors.New("sip.target must be set")
	errUnknownDriver   = errors.New("gpio.driver must be cdev or periph")
	errUnknownMode     = errors.New("gpio.mode must be bcm or board")
	errPinsNotUnique   = errors.New("gpio pins must be distinct")
	errBadDuration     = errors.New("durations must be positive")
	errShortToken      = errors.New("http.token_length must be at least 4")
	errOAuthIncomplete = errors.New("http.oauth needs client_id, client_secret and redirect_url together")
)

// Config is the full daemon configuration.
type Config struct {
	SIP    SIP    `yaml:"sip"`
	Audio  Audio  `yaml:"audio"`
	GPIO   GPIO   `yaml:"gpio"`
	Button Button `yaml:"button"`
	Door   Door   `yaml:"door"`
	LED    LED    `yaml:"led"`
	HTTP   HTTP   `yaml:"http"`
	MQTT   MQTT   `yaml:"mqtt"`
	Log    Log    `yaml:"log"`
}

// SIP configures the telephony engine.
type SIP struct {
	// Target is the address dialled when the call button is pressed.
	Target string `yaml:"target"`
	// Transport is udp, tcp or ws.
	Transport string `yaml:"transport"`
	// BindHost and BindPort select the local listening socket.
	BindHost string `yaml:"bind_host"`
	BindPort int    `yaml:"bind_port"`
	// UserAgent is sent in the User-Agent header.
	UserAgent string `yaml:"user_agent"`
	// Username and Password answer digest challenges on outbound calls.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Listen accepts inbound calls when true.
	Listen bool `yaml:"listen"`
}

// Audio configures local sound devices and cue files.
type Audio struct {
	// Capture and Playback are ALSA device names; "null" disables local audio.
	Capture  string `yaml:"capture"`
	Playback string `yaml:"playback"`
	// MediaDir holds the cue files.
	MediaDir     string `yaml:"media_dir"`
	Ring         string `yaml:"ring"`
	Connected    string `yaml:"connected"`
	Disconnected string `yaml:"disconnected"`
	Error        string `yaml:"error"`
}

// GPIO configures the hardware driver and pin assignment.
type GPIO struct {
	Driver string `yaml:"driver"`
	Chip   string `yaml:"chip"`
	Mode   string `yaml:"mode"`

	LedRed   int `yaml:"led_red"`
	LedGreen int `yaml:"led_green"`
	Door     int `yaml:"door"`
	Button   int `yaml:"button"`

	InvertLeds bool `yaml:"invert_leds"`
	InvertDoor bool `yaml:"invert_door"`
}

// Button configures input sampling.
type Button struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// Door configures the relay hold time.
type Door struct {
	Duration time.Duration `yaml:"duration"`
}

// LED configures status indicators.
type LED struct {
	BlinkPeriod time.Duration `yaml:"blink_period"`
}

// HTTP configures the remote trigger web app.
type HTTP struct {
	// Addr is the listen address; empty disables the web app.
	Addr string `yaml:"addr"`
	// CookieSecret signs session cookies; a random one is generated when empty.
	CookieSecret string `yaml:"cookie_secret"`
	// AllowedUsers lists e-mail identities allowed to open the door.
	AllowedUsers []string      `yaml:"allowed_users"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
	TokenLength  int           `yaml:"token_length"`
	MaxSessions  int           `yaml:"max_sessions"`
	OAuth        OAuth         `yaml:"oauth"`
}

// OAuth holds the Google OAuth client used for login.
type OAuth struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// Enabled reports whether all OAuth fields are set.
func (o OAuth) Enabled() bool {
	return o.ClientID != "" && o.ClientSecret != "" && o.RedirectURL != ""
}

// MQTT configures event publishing; an empty broker disables it.
type MQTT struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns a configuration with every default filled in.
func Default() *Config {
	cfg := &Config{
		SIP: SIP{Target: "sip:localhost"},
		GPIO: GPIO{
			LedRed:   17,
			LedGreen: 27,
			Door:     22,
			Button:   23,
		},
		HTTP: HTTP{Addr: ":8888"},
	}
	_ = Validate(cfg)

	return cfg
}

// Load reads YAML from path on top of the defaults and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate fills defaults and rejects settings the daemon cannot run with.
func Validate(cfg *Config) error {
	applyDefaults(cfg)

	if strings.TrimSpace(cfg.SIP.Target) == "" {
		return errNoTarget
	}

	switch cfg.GPIO.Driver {
	case DriverCdev, DriverPeriph:
	default:
		return fmt.Errorf("%w: %q", errUnknownDriver, cfg.GPIO.Driver)
	}

	switch cfg.GPIO.Mode {
	case ModeBCM, ModeBoard:
	default:
		return fmt.Errorf("%w: %q", errUnknownMode, cfg.GPIO.Mode)
	}

	pins := map[int]bool{}
	for _, p := range []int{cfg.GPIO.LedRed, cfg.GPIO.LedGreen, cfg.GPIO.Door, cfg.GPIO.Button} {
		if pins[p] {
			return fmt.Errorf("%w: %d used twice", errPinsNotUnique, p)
		}
		pins[p] = true
	}

	if cfg.Button.PollInterval <= 0 || cfg.Door.Duration <= 0 || cfg.LED.BlinkPeriod <= 0 || cfg.HTTP.SessionTTL <= 0 {
		return errBadDuration
	}

	if cfg.HTTP.TokenLength < 4 {
		return errShortToken
	}

	o := cfg.HTTP.OAuth
	if (o.ClientID != "" || o.ClientSecret != "" || o.RedirectURL != "") && !o.Enabled() {
		return errOAuthIncomplete
	}

	if o.RedirectURL != "" {
		if _, err := url.ParseRequestURI(o.RedirectURL); err != nil {
			return fmt.Errorf("invalid oauth redirect url: %w", err)
		}
	}

	if cfg.HTTP.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			return fmt.Errorf("invalid http addr: %w", err)
		}
	}

	if cfg.MQTT.Broker != "" {
		if _, err := url.Parse(cfg.MQTT.Broker); err != nil {
			return fmt.Errorf("invalid mqtt broker: %w", err)
		}
	}

	return nil
}

func applyDefaults(cfg *Config) {
	setString(&cfg.SIP.Transport, "udp")
	setString(&cfg.SIP.BindHost, "0.0.0.0")
	setString(&cfg.SIP.UserAgent, "intercom")
	if cfg.SIP.BindPort == 0 {
		cfg.SIP.BindPort = 5060
	}

	setString(&cfg.Audio.Capture, "default")
	setString(&cfg.Audio.Playback, "default")
	setString(&cfg.Audio.MediaDir, "media")
	setString(&cfg.Audio.Ring, "ring.wav")
	setString(&cfg.Audio.Connected, "call_connected.wav")
	setString(&cfg.Audio.Disconnected, "call_disconnected.wav")
	setString(&cfg.Audio.Error, "error.wav")

	setString(&cfg.GPIO.Driver, DriverCdev)
	setString(&cfg.GPIO.Chip, "gpiochip0")
	cfg.GPIO.Mode = strings.ToLower(cfg.GPIO.Mode)
	setString(&cfg.GPIO.Mode, ModeBCM)

	if cfg.Button.PollInterval == 0 {
		cfg.Button.PollInterval = DefaultPollInterval
	}
	if cfg.Door.Duration == 0 {
		cfg.Door.Duration = DefaultDoorDuration
	}
	if cfg.LED.BlinkPeriod == 0 {
		cfg.LED.BlinkPeriod = DefaultBlinkPeriod
	}

	if cfg.HTTP.SessionTTL == 0 {
		cfg.HTTP.SessionTTL = DefaultSessionTTL
	}
	if cfg.HTTP.TokenLength == 0 {
		cfg.HTTP.TokenLength = DefaultTokenLength
	}
	if cfg.HTTP.MaxSessions <= 0 {
		cfg.HTTP.MaxSessions = DefaultMaxSessions
	}

	setString(&cfg.MQTT.ClientID, "intercom")
	setString(&cfg.MQTT.TopicPrefix, "home/intercom")
	setString(&cfg.Log.Level, "info")
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}
