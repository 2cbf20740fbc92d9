package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/sweeney/intercom/internal/audio"
	"github.com/sweeney/intercom/internal/config"
	"github.com/sweeney/intercom/internal/gpio"
	"github.com/sweeney/intercom/internal/intercom"
	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/mqtt"
	"github.com/sweeney/intercom/internal/status"
	"github.com/sweeney/intercom/internal/telephony"
	"github.com/sweeney/intercom/internal/web"
)

const shutdownTimeout = 5 * time.Second

var errDriverMode = errors.New("unsupported gpio numbering")

func runDaemon(ctx context.Context, cfg *config.Config) error {
	ctx = logger.WithName(ctx, "daemon")

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	driver, err := openDriver(cfg.GPIO)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}

	engine, err := telephony.NewDiagoEngine(diagoConfig(cfg.SIP))
	if err != nil {
		_ = driver.Close()
		return fmt.Errorf("init sip: %w", err)
	}

	var publisher mqtt.Publisher
	if cfg.MQTT.Broker != "" {
		p, err := mqtt.NewRealPublisher(mqttOptions(cfg.MQTT, tracker))
		if err != nil {
			_ = engine.Close()
			_ = driver.Close()
			return fmt.Errorf("init mqtt: %w", err)
		}
		publisher = p
	}

	ic, err := intercom.New(intercom.Options{
		Target:       cfg.SIP.Target,
		Listen:       cfg.SIP.Listen,
		DoorDuration: cfg.Door.Duration,
		BlinkPeriod:  cfg.LED.BlinkPeriod,
		PollInterval: cfg.Button.PollInterval,
		Pins:         cfg.GPIO,
		Driver:       driver,
		Engine:       engine,
		Player:       audio.NewPlayer(cfg.Audio.Playback),
		Bridge:       audio.NewBridge(cfg.Audio.Capture, cfg.Audio.Playback),
		Cues:         audio.CuesFromConfig(cfg.Audio),
		Tracker:      tracker,
		Publisher:    publisher,
	})
	if err != nil {
		_ = engine.Close()
		if publisher != nil {
			_ = publisher.Close()
		}
		return fmt.Errorf("init intercom: %w", err)
	}

	sig := notifySignals(ctx)
	defer sig.stop()

	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv, err = web.New(webConfig(cfg.HTTP), ic)
		if err != nil {
			_ = ic.Close()
			return fmt.Errorf("init web: %w", err)
		}

		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				sig.fail(fmt.Errorf("serve http %s: %w", cfg.HTTP.Addr, err))
			}
		}()
		logger.InfoKV(ctx, "web app listening", "addr", cfg.HTTP.Addr, "login", cfg.HTTP.OAuth.Enabled())
	}

	runErr := errors.Join(ic.Run(sig.ctx), sig.err())

	reason := sig.reason()
	if runErr != nil {
		reason = "FAULT"
	}
	logger.InfoKV(ctx, "shutting down", "reason", reason)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WarnKV(ctx, "http shutdown", "error", err)
		}
		cancel()
	}

	ic.Announce("SHUTDOWN", reason)

	return errors.Join(runErr, ic.Close())
}

func openDriver(cfg config.GPIO) (gpio.Driver, error) {
	if cfg.Driver == config.DriverPeriph {
		d, err := gpio.NewPeriphDriver(cfg.Mode)
		if err != nil {
			return nil, err
		}
		return d, nil
	}

	if cfg.Mode != config.ModeBCM {
		return nil, fmt.Errorf("%w: %s driver uses %s numbering", errDriverMode, config.DriverCdev, config.ModeBCM)
	}

	d, err := gpio.NewCdevDriver(cfg.Chip)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		Target:         cfg.SIP.Target,
		Driver:         cfg.GPIO.Driver,
		PollMs:         cfg.Button.PollInterval.Milliseconds(),
		BlinkMs:        cfg.LED.BlinkPeriod.Milliseconds(),
		DoorDurationMs: cfg.Door.Duration.Milliseconds(),
		Listen:         cfg.SIP.Listen,
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTP.Addr,
	}
}

func diagoConfig(cfg config.SIP) telephony.DiagoConfig {
	return telephony.DiagoConfig{
		Transport: cfg.Transport,
		BindHost:  cfg.BindHost,
		BindPort:  cfg.BindPort,
		UserAgent: cfg.UserAgent,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
}

func mqttOptions(cfg config.MQTT, tracker *status.Tracker) mqtt.Options {
	return mqtt.Options{
		Broker:             cfg.Broker,
		ClientID:           cfg.ClientID,
		TopicPrefix:        cfg.TopicPrefix,
		OnConnectionChange: tracker.SetMQTTConnected,
	}
}

func webConfig(cfg config.HTTP) web.Config {
	wc := web.Config{
		Addr:         cfg.Addr,
		AllowedUsers: cfg.AllowedUsers,
		CookieSecret: []byte(cfg.CookieSecret),
		SessionTTL:   cfg.SessionTTL,
		TokenLength:  cfg.TokenLength,
		MaxSessions:  cfg.MaxSessions,
	}

	if cfg.OAuth.Enabled() {
		wc.OAuth = &oauth2.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			Endpoint:     google.Endpoint,
			Scopes:       []string{"openid", "email"},
		}
		wc.SecureCookies = strings.HasPrefix(cfg.OAuth.RedirectURL, "https://")
	}

	return wc
}

// shutdownSignal cancels ctx on SIGINT, SIGTERM or a failure of a
// background server, and remembers which.
type shutdownSignal struct {
	ctx    context.Context
	cancel context.CancelFunc
	stop   func()

	mu      sync.Mutex
	name    string
	failure error
}

func notifySignals(parent context.Context) *shutdownSignal {
	ctx, cancel := context.WithCancel(parent)
	s := &shutdownSignal{ctx: ctx, cancel: cancel}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once
	s.stop = func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		})
	}

	go func() {
		select {
		case sg := <-sigCh:
			s.mu.Lock()
			s.name = signalName(sg)
			s.mu.Unlock()
			logger.Logger().Infow("received signal", "signal", sg)
			cancel()
		case <-done:
		}
	}()

	return s
}

// fail records the first failure and stops the daemon.
func (s *shutdownSignal) fail(err error) {
	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.mu.Unlock()

	logger.Logger().Errorw("stopping after failure", "error", err)
	s.cancel()
}

func (s *shutdownSignal) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *shutdownSignal) reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failure != nil {
		return "FAULT"
	}
	if s.name == "" {
		return "STOPPED"
	}
	return s.name
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
