package player

import (
	"fmt"
	"math"

	"github.com/hajimehoshi/oto/v2"
)

// ToneGenerator emits the inaudible keep-alive signal that stops audio
// sinks from auto-suspending during long pauses.
type ToneGenerator interface {
	Start() error
	Stop()
	Close() error
}

const (
	toneSampleRate = 44100
	toneChannels   = 2
	toneBitDepth   = 2 // bytes per sample
	toneFrequency  = 50.0
	// Low enough to be inaudible, nonzero so the sink sees a live stream.
	toneAmplitude = 30
)

// OtoTone plays a continuous low-amplitude sine wave through the system
// audio output.
type OtoTone struct {
	ctx    *oto.Context
	player oto.Player
}

func NewOtoTone() (*OtoTone, error) {
	ctx, ready, err := oto.NewContext(toneSampleRate, toneChannels, toneBitDepth)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	<-ready
	return &OtoTone{ctx: ctx, player: ctx.NewPlayer(&sineSource{})}, nil
}

func (t *OtoTone) Start() error {
	if !t.player.IsPlaying() {
		t.player.Play()
	}
	return nil
}

func (t *OtoTone) Stop() {
	if t.player.IsPlaying() {
		t.player.Pause()
	}
}

func (t *OtoTone) Close() error {
	return t.player.Close()
}

// sineSource streams 16-bit little-endian stereo samples endlessly.
type sineSource struct {
	phase float64
}

func (s *sineSource) Read(p []byte) (int, error) {
	const frameSize = toneChannels * toneBitDepth
	n := len(p) - len(p)%frameSize
	step := 2 * math.Pi * toneFrequency / toneSampleRate
	for i := 0; i < n; i += frameSize {
		v := int16(toneAmplitude * math.Sin(s.phase))
		s.phase += step
		if s.phase > 2*math.Pi {
			s.phase -= 2 * math.Pi
		}
		lo, hi := byte(v), byte(v>>8)
		p[i], p[i+1] = lo, hi
		p[i+2], p[i+3] = lo, hi
	}
	return n, nil
}

// NoopTone is used when no audio output is available, for example in
// headless deployments. Keep-alive requests succeed but emit nothing.
type NoopTone struct{}

func (NoopTone) Start() error { return nil }
func (NoopTone) Stop()        {}
func (NoopTone) Close() error { return nil }
