package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sweeney/intercom/internal/audio"
	"github.com/sweeney/intercom/internal/call"
	"github.com/sweeney/intercom/internal/logger"
	"github.com/sweeney/intercom/internal/telephony"
)

const dialHelp = "Enter: hang up or call again, a: answer, q: quit"

func newDialCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "dial [target]",
		Short: "Place a call from the terminal using the configured audio devices.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := f.load(cmd)
			if err != nil {
				return report(err)
			}

			target := cfg.SIP.Target
			if len(args) > 0 {
				target = args[0]
			}

			engine, err := telephony.NewDiagoEngine(diagoConfig(cfg.SIP))
			if err != nil {
				return report(fmt.Errorf("init sip: %w", err))
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			ctrl := call.NewController(call.Config{
				Engine: engine,
				Player: audio.NewPlayer(cfg.Audio.Playback),
				Bridge: audio.NewBridge(cfg.Audio.Capture, cfg.Audio.Playback),
				Cues:   audio.CuesFromConfig(cfg.Audio),
				Hook:   printEvent(out),
				Logger: logger.Logger().Named("call"),
			})

			sig := notifySignals(cmd.Context())
			defer sig.stop()

			if cfg.SIP.Listen {
				go func() { _ = engine.Serve(sig.ctx, ctrl.Accept) }()
			}

			return report(dialLoop(sig.ctx, ctrl, target, cmd.InOrStdin(), out))
		},
	}
}

// dialLoop places a call to target and then follows terminal commands
// until q, end of input or ctx is done. The call is hung up on return.
func dialLoop(ctx context.Context, ctrl *call.Controller, target string, in io.Reader, out io.Writer) error {
	defer func() { _ = ctrl.Close(context.WithoutCancel(ctx)) }()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Fprintln(out, dialHelp)
	ctrl.Call(ctx, target)

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}

			switch strings.ToLower(line) {
			case "q", "quit":
				return nil
			case "a":
				if err := ctrl.Answer(ctx); err != nil {
					fmt.Fprintf(out, "cannot answer: %v\n", err)
				}
			case "":
				if ctrl.Snapshot().State.Active() {
					ctrl.Cancel(ctx)
				} else {
					ctrl.Call(ctx, target)
				}
			default:
				fmt.Fprintln(out, dialHelp)
			}
		}
	}
}

// printEvent reports call progress on the terminal. It runs under the
// controller lock and only writes.
func printEvent(out io.Writer) func(call.Event) {
	return func(ev call.Event) {
		s := ev.Session
		if ev.Err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", ev.Type, s.Target, ev.Err)
			return
		}
		fmt.Fprintf(out, "%s %s (%s)\n", s.State, s.Target, s.Direction)
	}
}
