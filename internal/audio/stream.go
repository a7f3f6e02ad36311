// Package audio adapts the engine's native int16 stereo PCM output to
// ebiten's float32 audio backend, the same streaming shape the teacher's
// original stream.go used for its own float32 synth engines.
package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// SampleSource produces interleaved stereo int16 PCM frames, the format
// spec §6 specifies for the engine's PCM sink. Process fills dst with
// len(dst)/2 stereo frames as interleaved int16 values (L, R, L, R,
// ...).
type SampleSource interface {
	Process(dst []int16)
}

// FinishingSource is a SampleSource that can signal when playback has
// ended. When Finished returns true, the stream returns io.EOF on the
// next Read.
type FinishingSource interface {
	SampleSource
	Finished() bool
}

// StreamReader adapts a SampleSource to io.Reader by converting its
// int16 frames to the little-endian float32 PCM ebiten's audio context
// consumes.
type StreamReader struct {
	mu      sync.Mutex
	source  SampleSource
	pcm     []int16
	scratch []float32
}

func NewStreamReader(source SampleSource) *StreamReader {
	return &StreamReader{source: source}
}

func (r *StreamReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frames := len(p) / 8
	if frames == 0 {
		return 0, nil
	}
	need := frames * 2
	if cap(r.pcm) < need {
		r.pcm = make([]int16, need)
		r.scratch = make([]float32, need)
	}
	r.pcm = r.pcm[:need]
	r.scratch = r.scratch[:need]
	r.source.Process(r.pcm)

	const scale = 1.0 / 32768.0
	for i, s := range r.pcm {
		r.scratch[i] = float32(s) * scale
	}
	for i, f := range r.scratch {
		u := math.Float32bits(f)
		binary.LittleEndian.PutUint32(p[i*4:], u)
	}

	n := frames * 8
	if fs, ok := r.source.(FinishingSource); ok && fs.Finished() {
		return n, io.EOF
	}
	return n, nil
}

func (r *StreamReader) Close() error { return nil }

type Player struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioContextErr  error
	audioSampleRate  int
)

func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioContextErr != nil {
		return nil, audioContextErr
	}
	if audioSampleRate != sampleRate {
		return nil, fmt.Errorf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate)
	}
	return audioContext, nil
}

func NewPlayer(sampleRate int, source SampleSource) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, err
	}
	return &Player{
		player: pl,
		reader: reader,
	}, nil
}

func (p *Player) Play()  { p.player.Play() }
func (p *Player) Pause() { p.player.Pause() }
func (p *Player) IsPlaying() bool {
	return p.player.IsPlaying()
}

// Position returns the current playback position (what the listener actually hears).
func (p *Player) Position() time.Duration {
	return p.player.Position()
}

func (p *Player) Stop() error {
	p.player.Pause()
	p.player.Close()
	return p.reader.Close()
}

// EngineSource adapts an *engine.Engine to SampleSource by calling
// RenderSample once per requested frame. It never finishes on its own
// (there is no fixed-length playback concept at this layer); callers
// drive lifetime via Player.Stop.
type EngineSource struct {
	render func() (int16, int16)
}

// NewEngineSource wraps render (typically engine.Engine.RenderSample)
// as a SampleSource.
func NewEngineSource(render func() (int16, int16)) *EngineSource {
	return &EngineSource{render: render}
}

func (e *EngineSource) Process(dst []int16) {
	for i := 0; i+1 < len(dst); i += 2 {
		l, r := e.render()
		dst[i] = l
		dst[i+1] = r
	}
}
