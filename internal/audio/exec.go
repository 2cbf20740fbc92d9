package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/intercom/internal/logger"
)

// waitDelay bounds how long a killed process may keep its pipes open.
const waitDelay = 500 * time.Millisecond

// Call media is 8 kHz mono G.711 mu-law, the default PCMU payload.
var rawFormat = []string{"-q", "-t", "raw", "-f", "MU_LAW", "-r", "8000", "-c", "1"}

// ExecPlayer plays clips with aplay.
type ExecPlayer struct {
	device  string
	command string
	log     *zap.SugaredLogger

	mu    sync.Mutex
	next  Clip
	loops map[Clip]context.CancelFunc
	wg    sync.WaitGroup
}

// NewExecPlayer creates a player on the given ALSA device.
func NewExecPlayer(device string) *ExecPlayer {
	return &ExecPlayer{
		device:  device,
		command: "aplay",
		log:     logger.Logger().Named("audio"),
		loops:   make(map[Clip]context.CancelFunc),
	}
}

func (p *ExecPlayer) clipArgs(path string) []string {
	return []string{"-q", "-D", p.device, path}
}

// PlayOnce starts path in the background and returns immediately.
func (p *ExecPlayer) PlayOnce(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("play clip: %w", err)
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		cmd := exec.Command(p.command, p.clipArgs(path)...)
		if output, err := cmd.CombinedOutput(); err != nil {
			p.log.Warnw("clip playback failed", "path", path, "error", err, "output", string(output))
		}
	}()

	return nil
}

// PlayLoop replays path until the returned clip is stopped.
func (p *ExecPlayer) PlayLoop(path string) (Clip, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("loop clip: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.next++
	clip := p.next
	p.loops[clip] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		for ctx.Err() == nil {
			cmd := exec.CommandContext(ctx, p.command, p.clipArgs(path)...)
			if err := cmd.Run(); err != nil {
				if ctx.Err() == nil {
					p.log.Warnw("looped playback failed", "path", path, "error", err)
				}
				return
			}
		}
	}()

	return clip, nil
}

// Stop ends a looping clip. The current pass is cut short.
func (p *ExecPlayer) Stop(c Clip) error {
	p.mu.Lock()
	cancel, ok := p.loops[c]
	delete(p.loops, c)
	p.mu.Unlock()

	if !ok {
		return ErrUnknownClip
	}
	cancel()

	return nil
}

// Close stops every loop and waits for running clips to finish.
func (p *ExecPlayer) Close() error {
	p.mu.Lock()
	for c, cancel := range p.loops {
		cancel()
		delete(p.loops, c)
	}
	p.mu.Unlock()

	p.wg.Wait()

	return nil
}

// ExecBridge pipes call media through aplay and arecord.
type ExecBridge struct {
	capture  string
	playback string
	log      *zap.SugaredLogger

	mu    sync.Mutex
	links map[string]*link
}

type link struct {
	cancel context.CancelFunc
	cmds   []*exec.Cmd
}

// NewExecBridge creates a bridge between the given ALSA devices.
func NewExecBridge(capture, playback string) *ExecBridge {
	return &ExecBridge{
		capture:  capture,
		playback: playback,
		log:      logger.Logger().Named("audio"),
		links:    make(map[string]*link),
	}
}

func (b *ExecBridge) playbackArgs() []string {
	return append([]string{"-D", b.playback}, append(rawFormat, "-")...)
}

func (b *ExecBridge) captureArgs() []string {
	return append([]string{"-D", b.capture}, append(rawFormat, "-")...)
}

// Connect starts both directions of the call audio. Connecting an id that
// is already connected replaces the old link.
func (b *ExecBridge) Connect(id string, remote io.Reader, local io.Writer) error {
	_ = b.Disconnect(id)

	ctx, cancel := context.WithCancel(context.Background())

	speaker := exec.CommandContext(ctx, "aplay", b.playbackArgs()...)
	speaker.Stdin = remote
	speaker.WaitDelay = waitDelay

	mic := exec.CommandContext(ctx, "arecord", b.captureArgs()...)
	mic.Stdout = local
	mic.WaitDelay = waitDelay

	if err := speaker.Start(); err != nil {
		cancel()
		return fmt.Errorf("start playback: %w", err)
	}
	if err := mic.Start(); err != nil {
		cancel()
		_ = speaker.Wait()
		return fmt.Errorf("start capture: %w", err)
	}

	b.mu.Lock()
	b.links[id] = &link{cancel: cancel, cmds: []*exec.Cmd{speaker, mic}}
	b.mu.Unlock()

	b.log.Infow("call audio connected", "call_id", id)

	return nil
}

// Disconnect stops the call audio for id.
func (b *ExecBridge) Disconnect(id string) error {
	b.mu.Lock()
	l, ok := b.links[id]
	delete(b.links, id)
	b.mu.Unlock()

	if !ok {
		return nil
	}

	l.cancel()
	for _, cmd := range l.cmds {
		// Killed by cancel; the exit error carries no information.
		_ = cmd.Wait()
	}

	b.log.Infow("call audio disconnected", "call_id", id)

	return nil
}

// Close disconnects every call.
func (b *ExecBridge) Close() error {
	b.mu.Lock()
	ids := make([]string, 0, len(b.links))
	for id := range b.links {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	var errs []error
	for _, id := range ids {
		errs = append(errs, b.Disconnect(id))
	}

	return errors.Join(errs...)
}
