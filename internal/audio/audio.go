// Package audio plays cue clips and routes call media to the local sound
// card through the ALSA command line tools.
package audio

import (
	"errors"
	"io"
	"path/filepath"

	"github.com/sweeney/intercom/internal/config"
	"github.com/sweeney/intercom/internal/logic"
)

// NullDevice disables local audio when used as a device name.
const NullDevice = "null"

// ErrUnknownClip is returned when stopping a clip that is not playing.
var ErrUnknownClip = errors.New("audio: unknown clip")

// Clip identifies a looping playback. The zero Clip is never issued.
type Clip uint64

// Player plays audio files on the local playback device. One-shot clips are
// fire-and-forget and may overlap; looping clips run until stopped.
type Player interface {
	PlayOnce(path string) error
	PlayLoop(path string) (Clip, error)
	Stop(c Clip) error
	Close() error
}

// Bridge connects a call's media streams to the local capture and playback
// devices. id names the call.
type Bridge interface {
	// Connect plays remote on the speaker and writes the microphone to local.
	Connect(id string, remote io.Reader, local io.Writer) error
	Disconnect(id string) error
	Close() error
}

// Cues resolves call cues to clip files.
type Cues struct {
	Ring         string
	Connected    string
	Disconnected string
	Error        string
}

// CuesFromConfig joins the configured cue names with the media directory.
func CuesFromConfig(cfg config.Audio) Cues {
	return Cues{
		Ring:         filepath.Join(cfg.MediaDir, cfg.Ring),
		Connected:    filepath.Join(cfg.MediaDir, cfg.Connected),
		Disconnected: filepath.Join(cfg.MediaDir, cfg.Disconnected),
		Error:        filepath.Join(cfg.MediaDir, cfg.Error),
	}
}

// Path returns the file for c, or "" for CueNone.
func (c Cues) Path(cue logic.Cue) string {
	switch cue {
	case logic.CueRing:
		return c.Ring
	case logic.CueConnected:
		return c.Connected
	case logic.CueDisconnected:
		return c.Disconnected
	case logic.CueError:
		return c.Error
	default:
		return ""
	}
}

// NewPlayer returns a player on device, or a no-op player for NullDevice.
func NewPlayer(device string) Player {
	if device == NullDevice {
		return NopPlayer{}
	}
	return NewExecPlayer(device)
}

// NewBridge returns a bridge between the given devices. If either device
// is NullDevice the bridge discards call media.
func NewBridge(capture, playback string) Bridge {
	if capture == NullDevice || playback == NullDevice {
		return NopBridge{}
	}
	return NewExecBridge(capture, playback)
}

// NopPlayer plays nothing.
type NopPlayer struct{}

func (NopPlayer) PlayOnce(string) error         { return nil }
func (NopPlayer) PlayLoop(string) (Clip, error) { return 1, nil }
func (NopPlayer) Stop(Clip) error               { return nil }
func (NopPlayer) Close() error                  { return nil }

// NopBridge discards call media.
type NopBridge struct{}

func (NopBridge) Connect(string, io.Reader, io.Writer) error { return nil }
func (NopBridge) Disconnect(string) error                    { return nil }
func (NopBridge) Close() error                               { return nil }
