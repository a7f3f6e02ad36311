package oscillator

import (
	"math"
	"testing"

	"github.com/saisana299/ds16synth/internal/wavetable"
)

func TestPhaseDeltaMatchesFrequencyFormula(t *testing.T) {
	cfg := Config{Wave: wavetable.Builtin(wavetable.ShapeSine), Voices: 1, Level: 1024}
	const sampleRate = 48000
	out := make([]uint32, 1)
	cfg.PhaseDeltas(69, sampleRate, out) // A4 = 440Hz

	scale := float64(uint64(1)<<32) / float64(sampleRate)
	want := uint32(440.0 * scale)
	if diff := int64(out[0]) - int64(want); diff > 2 || diff < -2 {
		t.Fatalf("phase delta = %d, want ~%d", out[0], want)
	}
}

func TestUnisonDetuneSpreadsSymmetrically(t *testing.T) {
	cfg := Config{Wave: wavetable.Builtin(wavetable.ShapeSaw), Voices: 4, Detune: 0.5, Level: 1024}
	out := make([]uint32, 4)
	cfg.PhaseDeltas(69, 48000, out)

	if out[0] >= out[1] || out[1] >= out[2] || out[2] >= out[3] {
		t.Fatalf("unison deltas should increase monotonically with detune position, got %v", out)
	}
	// Detune should be symmetric around the centre frequency.
	centre := out[0] + (out[3]-out[0])/2
	var base uint32
	cfg.Voices = 1
	single := make([]uint32, 1)
	cfg.PhaseDeltas(69, 48000, single)
	base = single[0]
	if diff := int64(centre) - int64(base); diff > 2000 || diff < -2000 {
		t.Fatalf("unison spread not centred on base frequency: centre=%d base=%d", centre, base)
	}
}

func TestUnisonDivideKeepsAmplitudeBounded(t *testing.T) {
	for voices := 1; voices <= MaxUnison; voices++ {
		div := UnisonDivide(voices)
		if div < 100 {
			t.Errorf("voices=%d: divide %d should never amplify below unity", voices, div)
		}
	}
}

func TestRenderSingleVoiceOscillator(t *testing.T) {
	var b Bank
	b.Osc1 = Config{Wave: wavetable.Builtin(wavetable.ShapeSine), Voices: 1, Level: 1024}
	var s State
	s.Osc1Delta[0] = 1 << 28 // arbitrary nonzero increment

	var peak int32
	for i := 0; i < 2000; i++ {
		l, _ := b.Render(&s, false)
		if l > peak {
			peak = l
		}
	}
	if peak == 0 {
		t.Fatal("expected non-zero sine output")
	}
	if peak > 32767 {
		t.Fatalf("oscillator output exceeded int16 range: %d", peak)
	}
}

func TestRingModulationCombinesBothOscillators(t *testing.T) {
	var b Bank
	b.Osc1 = Config{Wave: wavetable.Builtin(wavetable.ShapeSquare), Voices: 1, Level: 1024}
	b.Osc2 = Config{Wave: wavetable.Builtin(wavetable.ShapeSquare), Voices: 1, Level: 1024}
	b.RingMod = true

	var s State
	s.Osc1Delta[0] = 1 << 28
	s.Osc2Delta[0] = 1 << 27

	var sawNonZero bool
	for i := 0; i < 500; i++ {
		l, _ := b.Render(&s, false)
		if l != 0 {
			sawNonZero = true
		}
	}
	if !sawNonZero {
		t.Fatal("ring-modulated output should not be identically zero")
	}
}

func TestGlideApproachesTargetDelta(t *testing.T) {
	var b Bank
	b.Osc1 = Config{Wave: wavetable.Builtin(wavetable.ShapeSine), Voices: 1, Level: 1024}
	var s State
	s.Osc1Delta[0] = 1_000_000
	b.SeedGlide(&s)
	s.Osc1Delta[0] = 2_000_000 // new target

	for i := 0; i < 10000; i++ {
		b.ApplyGlide(&s, 10, 48000)
	}
	if diff := int64(s.Osc1Glide[0]) - int64(s.Osc1Delta[0]); diff > 1000 || diff < -1000 {
		t.Fatalf("glide delta %d did not converge to target %d", s.Osc1Glide[0], s.Osc1Delta[0])
	}
}

func TestCanSetVoiceRespectsUnisonBudget(t *testing.T) {
	var b Bank
	b.Osc1.Wave = wavetable.Builtin(wavetable.ShapeSine)
	b.Osc1.Voices = 4
	b.Osc2.Wave = wavetable.Builtin(wavetable.ShapeSine)
	b.Osc2.Voices = 4

	if b.CanSetVoice(OscID1, 5, false) {
		t.Fatal("5+4=9 unison voices should exceed the MaxUnison=8 budget")
	}
	if !b.CanSetVoice(OscID1, 4, false) {
		t.Fatal("4+4=8 unison voices should fit exactly")
	}
}

func TestResetPhasesSharesSeedAcrossOscillators(t *testing.T) {
	var s State
	var calls int
	src := func() uint32 {
		calls++
		return uint32(calls)
	}
	ResetPhases(&s, src)
	if s.Osc1Phase[0] != s.Osc2Phase[0] {
		t.Fatal("OSC1 and OSC2 should share the same reseed per unison slot")
	}
	if s.SubPhase != s.Osc1Phase[0] {
		t.Fatal("SUB should share voice 0's reseed")
	}
}

func TestMidiToFrequencyA440(t *testing.T) {
	freq := midiToFrequency(69, 0)
	if math.Abs(freq-440.0) > 0.01 {
		t.Fatalf("MIDI 69 = %f Hz, want 440", freq)
	}
}
