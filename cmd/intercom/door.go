package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/intercom/internal/device"
	"github.com/sweeney/intercom/internal/gpio"
	"github.com/sweeney/intercom/internal/logger"
)

func newDoorCmd(f *flags) *cobra.Command {
	var duration time.Duration

	cmd := &cobra.Command{
		Use:   "door",
		Short: "Open the door once and exit.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return report(err)
			}
			if !cmd.Flags().Changed("duration") {
				duration = cfg.Door.Duration
			}

			driver, err := openDriver(cfg.GPIO)
			if err != nil {
				return report(fmt.Errorf("init gpio: %w", err))
			}
			defer driver.Close()

			sig := notifySignals(cmd.Context())
			defer sig.stop()

			return report(pulseDoor(sig.ctx, driver, cfg.GPIO.Door, cfg.GPIO.InvertDoor, duration))
		},
	}

	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "how long to hold the door open (default from config)")

	return cmd
}

// pulseDoor holds the relay on pin for d, or until ctx is done, and always
// releases it before returning.
func pulseDoor(ctx context.Context, driver gpio.Driver, pin int, invert bool, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("door duration must be positive, got %s", d)
	}

	log := logger.Logger().Named("door")
	door, err := device.OpenOutput(driver, pin, device.OutputConfig{Name: "door", Invert: invert, Logger: log})
	if err != nil {
		return err
	}

	if err := door.Set(true); err != nil {
		_ = door.Close()
		return err
	}
	log.Infow("door opened", "duration", d)

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-ctx.Done():
	}

	log.Info("door closed")
	return door.Close()
}
