// Command intercom runs the door intercom daemon: call button, status LEDs
// and door relay on GPIO, calls over SIP, and a web page to open the door.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweeney/intercom/internal/config"
	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/version"
)

// flags holds command line overrides of the configuration file.
type flags struct {
	configPath string
	logLevel   string
	httpAddr   string
	target     string
}

var errBadLevel = errors.New("unknown log level")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Sync()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &flags{}

	root := &cobra.Command{
		Use:           "intercom",
		Short:         "Run the door intercom daemon.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return report(err)
			}
			return report(runDaemon(cmd.Context(), cfg))
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	pf.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn or error")
	pf.StringVar(&f.httpAddr, "http", "", `web app address, "off" to disable`)
	pf.StringVar(&f.target, "target", "", "SIP address dialled by the call button")

	root.AddCommand(newDialCmd(f), newDoorCmd(f))
	version.AttachCobraVersionCommand(root)

	return root
}

// load reads the configuration file, applies flag overrides and sets the
// log level. A missing default file falls back to built-in defaults; a
// missing explicit file is an error.
func (f *flags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		if cmd.Flags().Changed("config") || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Logger().Warnw("config file not found, using defaults", "path", f.configPath)
		cfg = config.Default()
	}

	if err := f.apply(cfg); err != nil {
		return nil, err
	}

	lvl, ok := logger.ParseLevel(cfg.Log.Level)
	if !ok {
		return nil, fmt.Errorf("%w: %q", errBadLevel, cfg.Log.Level)
	}
	logger.SetLevel(lvl)

	return cfg, nil
}

// apply copies set flags over cfg and revalidates it.
func (f *flags) apply(cfg *config.Config) error {
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	switch strings.ToLower(f.httpAddr) {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = f.httpAddr
	}
	if f.target != "" {
		cfg.SIP.Target = f.target
	}

	return config.Validate(cfg)
}

func report(err error) error {
	if err != nil {
		logger.Logger().Errorw("fatal", "error", err)
	}
	return err
}
