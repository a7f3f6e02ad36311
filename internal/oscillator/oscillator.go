// Package oscillator implements the unison wavetable oscillator bank
// (spec §4.5): frequency derivation, unison detune/spread-pan, ring
// modulation, glide, and per-sample mixing. Grounded on
// original_source/src/synth.h's setFrequency/initSpreadPan and the
// OSC1/OSC2/OSC_SUB sections of generate().
package oscillator

import (
	"math"

	"github.com/saisana299/ds16synth/internal/fixedpoint"
	"github.com/saisana299/ds16synth/internal/wavetable"
)

// MaxUnison is the largest unison voice count a single oscillator
// supports (original: MAX_VOICE).
const MaxUnison = 8

// FixedOne is 1.0 in the Q16.16 format used by spread-pan coefficients.
const FixedOne = 1 << 16

// unisonDivide converts a unison voice count (2..8) to the percentage
// divisor that keeps summed peak amplitude roughly constant
// (original: DIVIDE_FIXED, index voices-2).
var unisonDivide = [7]int32{141, 173, 200, 224, 245, 265, 283}

// UnisonDivide returns the percentage divisor for the given unison
// voice count. voices == 1 returns 100 (no attenuation).
func UnisonDivide(voices int) int32 {
	if voices < 2 {
		return 100
	}
	if voices > MaxUnison {
		voices = MaxUnison
	}
	return unisonDivide[voices-2]
}

// Config holds one oscillator's control-rate parameters: everything
// that is shared by every voice playing through it. Per-voice phase
// state lives in State, advanced at audio rate.
type Config struct {
	Wave     *wavetable.Table
	Voices   uint8 // 1..MaxUnison
	Detune   float64
	Spread   float64 // -100..100, original only ever sets 0..100
	Level    int32   // Q1.10, 0..1024
	Octave   int32
	Semitone int32
	Cent     float64 // cents, -100..100

	spreadPan [MaxUnison][2]int32 // [d][0]=cos, [d][1]=sin, Q16.16
}

// Enabled reports whether this oscillator produces any sound.
func (c *Config) Enabled() bool { return c.Wave != nil }

// RecomputeSpreadPan rebuilds the per-unison pan coefficients; call
// whenever Voices or Spread changes (original: initSpreadPan()).
func (c *Config) RecomputeSpreadPan() {
	voices := int(c.Voices)
	if voices < 2 {
		return
	}
	for d := 0; d < voices; d++ {
		pos := lerp(-1, 1, float64(d)/float64(voices-1))
		angle := math.Pi / 4 * (1 + pos*(c.Spread/100))
		c.spreadPan[d][0] = int32(math.Round(math.Cos(angle) * FixedOne))
		c.spreadPan[d][1] = int32(math.Round(math.Sin(angle) * FixedOne))
	}
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

// halftone is 2^(1/12) - 1, the per-semitone detune scale factor
// (original: HALFTONE).
const halftone = 0.0594630943592952646

// midiToFrequency converts a MIDI note plus a cent offset to Hz
// (original: midiNoteToFrequency).
func midiToFrequency(note int32, cent float64) float64 {
	freq := 440.0 * math.Pow(2.0, float64(note-69)/12.0)
	return freq * math.Pow(2.0, cent/1200.0)
}

// PhaseDeltas computes the phase-accumulator increment for each unison
// voice of this oscillator at the given base MIDI note (spec §4.5 steps
// 1-2). Voice 0 of a single-voice oscillator carries the plain,
// undetuned frequency.
func (c *Config) PhaseDeltas(note int32, sampleRate int, out []uint32) {
	freq := midiToFrequency(note+c.Octave*12+c.Semitone, c.Cent)
	voices := int(c.Voices)
	if voices < 1 {
		voices = 1
	}
	scale := float64(uint64(1)<<32) / float64(sampleRate)

	if voices == 1 {
		out[0] = uint32(freq * scale)
		return
	}
	for d := 0; d < voices; d++ {
		pos := lerp(-1, 1, float64(d)/float64(voices-1))
		detuneFactor := 1.0 + halftone*c.Detune*pos
		out[d] = uint32(freq * detuneFactor * scale)
	}
}

// State is one voice's oscillator phase accumulators: per-unison phase,
// phase delta, and (in glide mode) the currently-approached delta.
type State struct {
	Osc1Phase [MaxUnison]uint32
	Osc1Delta [MaxUnison]uint32
	Osc1Glide [MaxUnison]uint32

	Osc2Phase [MaxUnison]uint32
	Osc2Delta [MaxUnison]uint32
	Osc2Glide [MaxUnison]uint32

	SubPhase uint32
	SubDelta uint32
	SubGlide uint32

	// Glided is set once a monophonic glide has cached its starting
	// delta, so the next SetFrequencies call approaches it rather than
	// snapping (original: isGlided).
	Glided bool
}

// Bank couples the three oscillator configs (OSC1, OSC2, OSC_SUB) that
// together make up one voice's timbre, plus the ring-modulation switch.
type Bank struct {
	Osc1    Config
	Osc2    Config
	Sub     Config
	RingMod bool
}

// SetFrequencies recomputes every enabled oscillator's phase deltas for
// the given base MIDI note (spec §4.5 step 1; original: setFrequency).
func (b *Bank) SetFrequencies(s *State, note int32, sampleRate int) {
	b.Osc1.PhaseDeltas(note, sampleRate, s.Osc1Delta[:max(int(b.Osc1.Voices), 1)])
	b.Osc2.PhaseDeltas(note, sampleRate, s.Osc2Delta[:max(int(b.Osc2.Voices), 1)])
	var subDelta [1]uint32
	sub := b.Sub
	sub.Voices = 1 // OSC_SUB is always rendered as a single voice
	sub.PhaseDeltas(note, sampleRate, subDelta[:])
	s.SubDelta = subDelta[0]
}

// glideFactor returns the per-sample linear-interpolation coefficient
// used to approach a new phase delta over glideMs milliseconds
// (original: 1.0f / (glide_time * SAMPLE_RATE / 1000.0f)).
func glideFactor(glideMs int, sampleRate int) float64 {
	if glideMs < 1 {
		glideMs = 1
	}
	return 1.0 / (float64(glideMs) * float64(sampleRate) / 1000.0)
}

func lerpU32(cur, target uint32, factor float64) uint32 {
	return cur + uint32(float64(int64(target)-int64(cur))*factor)
}

// ApplyGlide advances each enabled oscillator's glide delta one step
// toward its target phase delta (spec §4.5 step 6, monophonic glide
// mode only).
func (b *Bank) ApplyGlide(s *State, glideMs, sampleRate int) {
	factor := glideFactor(glideMs, sampleRate)
	for d := 0; d < int(b.Osc1.Voices); d++ {
		s.Osc1Glide[d] = lerpU32(s.Osc1Glide[d], s.Osc1Delta[d], factor)
	}
	for d := 0; d < int(b.Osc2.Voices); d++ {
		s.Osc2Glide[d] = lerpU32(s.Osc2Glide[d], s.Osc2Delta[d], factor)
	}
	s.SubGlide = lerpU32(s.SubGlide, s.SubDelta, factor)
}

// SeedGlide caches the current phase deltas as the glide starting point
// the first time a monophonic note is played with glide enabled
// (original: "glideモードかつ!isGlidedかつモノフォニックの場合").
func (b *Bank) SeedGlide(s *State) {
	copy(s.Osc1Glide[:b.Osc1.Voices], s.Osc1Delta[:b.Osc1.Voices])
	copy(s.Osc2Glide[:b.Osc2.Voices], s.Osc2Delta[:b.Osc2.Voices])
	s.SubGlide = s.SubDelta
	s.Glided = true
}

// ResetPhases reseeds every phase accumulator in s from src, a caller
// supplied source of entropy (original: resetPhase, rand()). All of
// OSC1, OSC2, and OSC_SUB share the same seed per unison slot, matching
// the original's single rand() call reused across oscillators.
func ResetPhases(s *State, src func() uint32) {
	for d := 0; d < MaxUnison; d++ {
		v := src()
		s.Osc1Phase[d] = v
		s.Osc2Phase[d] = v
		if d == 0 {
			s.SubPhase = v
		}
	}
}

// ResetDeltas zeroes every phase delta, leaving phase and glide state
// untouched (original: resetPhaseDelta).
func ResetDeltas(s *State) {
	s.Osc1Delta = [MaxUnison]uint32{}
	s.Osc2Delta = [MaxUnison]uint32{}
	s.SubDelta = 0
}

// oscDivide mirrors the original's global level-compensation divisor:
// 100 with one active oscillator, 141 with two, 200 with three.
func oscDivide(active int) int32 {
	switch active {
	case 2:
		return unisonDivide[0]
	case 3:
		return unisonDivide[2]
	default:
		return 100
	}
}

// OscID identifies which oscillator a SET_VOICE/SET_SHAPE command
// targets.
type OscID int

const (
	OscID1 OscID = iota
	OscID2
	OscIDSub
)

// CanSetVoice reports whether assigning voices unison voices to osc
// would keep the combined unison budget within MaxUnison (original:
// canSetVoice). settingWave indicates the caller is about to assign
// osc's wavetable in the same command (the original's setWave flag):
// when true, osc's own current wave-nil state is not a disqualifier.
func (b *Bank) CanSetVoice(osc OscID, voices int, settingWave bool) bool {
	sum := 0
	switch osc {
	case OscID1:
		if !b.Osc1.Enabled() && !settingWave {
			return false
		}
		sum += voices
		if b.Osc2.Enabled() {
			sum += int(b.Osc2.Voices)
		}
		if b.Sub.Enabled() {
			sum++
		}
	case OscID2:
		if !b.Osc2.Enabled() && !settingWave {
			return false
		}
		sum += voices
		if b.Osc1.Enabled() {
			sum += int(b.Osc1.Voices)
		}
		if b.Sub.Enabled() {
			sum++
		}
	case OscIDSub:
		if !b.Sub.Enabled() && !settingWave {
			return false
		}
		sum++
		if b.Osc1.Enabled() {
			sum += int(b.Osc1.Voices)
		}
		if b.Osc2.Enabled() {
			sum += int(b.Osc2.Voices)
		}
	default:
		return false
	}
	return sum <= MaxUnison
}

// ActiveCount returns how many of OSC1/OSC2/OSC_SUB are enabled.
func (b *Bank) ActiveCount() int {
	n := 0
	if b.Osc1.Enabled() {
		n++
	}
	if b.Osc2.Enabled() {
		n++
	}
	if b.Sub.Enabled() {
		n++
	}
	return n
}

// Render computes one sample of this voice's raw (pre-envelope,
// pre-gain) stereo output and advances phase, either by glide delta (if
// useGlide) or by the plain phase delta (spec §4.5 steps 3-6).
func (b *Bank) Render(s *State, useGlide bool) (l, r int32) {
	divide := oscDivide(b.ActiveCount())

	var osc1L, osc1R, osc2L, osc2R, subL, subR int32

	if b.Osc1.Enabled() {
		osc1L, osc1R = renderOne(&b.Osc1, s.Osc1Phase[:], divide)
	}
	if b.Osc2.Enabled() {
		osc2L, osc2R = renderOne(&b.Osc2, s.Osc2Phase[:], divide)
	}
	if b.Sub.Enabled() {
		sample := int32(b.Sub.Wave.At(s.SubPhase))
		preLevel := (b.Sub.Level * 100) / divide
		subL = (sample * preLevel) >> 10
		subR = subL
	}

	if b.RingMod && b.Osc1.Enabled() && b.Osc2.Enabled() {
		rmL := (osc1L * osc2L) / 16384
		rmR := (osc1R * osc2R) / 16384
		osc1L, osc1R = (osc1L+osc2L)/2, (osc1R+osc2R)/2
		osc2L, osc2R = rmL, rmR
	}

	l = osc1L + osc2L + subL
	r = osc1R + osc2R + subR

	advance(&b.Osc1, s.Osc1Phase[:], s.Osc1Delta[:], s.Osc1Glide[:], useGlide)
	advance(&b.Osc2, s.Osc2Phase[:], s.Osc2Delta[:], s.Osc2Glide[:], useGlide)
	if useGlide {
		s.SubPhase += s.SubGlide
	} else {
		s.SubPhase += s.SubDelta
	}

	return l, r
}

func renderOne(c *Config, phase []uint32, divide int32) (l, r int32) {
	voices := int(c.Voices)
	var sumL, sumR int32
	if voices <= 1 {
		sample := int32(c.Wave.At(phase[0]))
		sumL, sumR = sample, sample
	} else {
		unisonDiv := UnisonDivide(voices)
		for d := 0; d < voices; d++ {
			sample := (int32(c.Wave.At(phase[d])) * 100) / unisonDiv
			sumL += (sample * c.spreadPan[d][0]) >> fixedpoint.Q16_16Shift
			sumR += (sample * c.spreadPan[d][1]) >> fixedpoint.Q16_16Shift
		}
	}
	preLevel := (c.Level * 100) / divide
	return (sumL * preLevel) >> 10, (sumR * preLevel) >> 10
}

func advance(c *Config, phase, delta, glide []uint32, useGlide bool) {
	voices := int(c.Voices)
	if voices < 1 {
		voices = 1
	}
	for d := 0; d < voices; d++ {
		if useGlide {
			phase[d] += glide[d]
		} else {
			phase[d] += delta[d]
		}
	}
}
