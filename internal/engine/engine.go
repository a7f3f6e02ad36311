// Package engine wires the wavetable, allocator, oscillator, envelope,
// and mixer packages into one synthesizer (spec §2 SYSTEM OVERVIEW) and
// simulates the two-core cooperative scheduler described in spec §4.8:
// one goroutine standing in for "core 1", the caller's own goroutine
// standing in for "core 0", handshaking through a single atomic mode
// word exactly as original_source/src/synth.h's generate()/generate1()
// do with calc_mode/calc_i/calc_note/calc_result_L/calc_result_R.
package engine

import (
	"runtime"
	"sync/atomic"

	"github.com/saisana299/ds16synth/internal/mixer"
	"github.com/saisana299/ds16synth/internal/oscillator"
	"github.com/saisana299/ds16synth/internal/voice"
	"github.com/saisana299/ds16synth/internal/wavetable"
)

// calcMode values mirror the original's CALC_IDLE/CALC_NOTE/CALC_SET_F.
const (
	calcIdle int32 = iota
	calcNote
	calcSetF
)

// Engine is the complete synthesizer: one allocator of voice.MaxNotes
// polyphony slots, one oscillator bank shared by all of them, one
// master mixer, and the cooperative scheduler that renders samples.
type Engine struct {
	SampleRate int

	Bank  oscillator.Bank
	Alloc voice.Allocator
	Mix   mixer.Mixer
	Store wavetable.Store

	glideEnabled atomic.Bool
	glideTimeMS  atomic.Int32

	params atomic.Pointer[voice.Params]

	rndState uint32

	// core1 handshake: core 0 (RenderSample's caller) sets mode to
	// calcNote and spins until core 1 sets it back to calcIdle, storing
	// its half of the voice sum in calcResultL/R first (original:
	// calc_mode/calc_result_L/calc_result_R). calcI/calcNoteVal carry
	// the one-off CALC_SET_F request used by SetFrequenciesAsync.
	mode        atomic.Int32
	calcI       atomic.Int32
	calcNoteVal atomic.Int32
	calcResultL atomic.Int32
	calcResultR atomic.Int32

	closed atomic.Bool
	done   chan struct{}
}

// New returns an Engine at the synth's power-on defaults (spec §9
// resetParam semantics) and starts its core-1 goroutine.
func New(sampleRate int) *Engine {
	e := &Engine{SampleRate: sampleRate, rndState: 0x2545F491}
	e.Mix = *mixer.NewMixer(sampleRate)
	e.glideTimeMS.Store(15)

	e.params.Store(&voice.Params{
		AttackSamples:       msToSamples(5, sampleRate),
		DecaySamples:        msToSamples(50, sampleRate),
		ReleaseSamples:      msToSamples(200, sampleRate),
		ForceReleaseSamples: int32((10 * sampleRate) >> 10),
		SustainQ1_10:        700,
		MasterGainQ1_10:     1024,
	})
	e.Alloc = *voice.NewAllocator()

	e.done = make(chan struct{})
	go e.core1Loop()
	return e
}

// Close stops the core-1 goroutine. The Engine must not be used
// afterward.
func (e *Engine) Close() {
	e.closed.Store(true)
	<-e.done
}

func msToSamples(ms, sampleRate int) int32 {
	v := int32(ms) * int32(sampleRate) / 1000
	if v < 1 {
		v = 1
	}
	return v
}

// next returns the next pseudo-random phase seed (original: rand()). A
// small xorshift generator is used instead of math/rand so phase
// reseeding stays allocation-free and independent of global state —
// callers needing reproducible output seed via SeedRandom.
func (e *Engine) next() uint32 {
	x := e.rndState
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	e.rndState = x
	return x
}

// SeedRandom fixes the phase-reset entropy source for deterministic
// tests (spec §8 property 3).
func (e *Engine) SeedRandom(seed uint32) {
	if seed == 0 {
		seed = 1
	}
	e.rndState = seed
}

func (e *Engine) loadParams() voice.Params { return *e.params.Load() }

// core1Loop is the second cooperative thread. It spins on mode,
// performing exactly the work CALC_NOTE/CALC_SET_F assign it, and
// returns to idle by storing calcIdle last — matching the release
// semantics spec §4.8 requires of calc_mode writes so core 0 never
// observes a result word before it is actually ready.
func (e *Engine) core1Loop() {
	defer close(e.done)
	for {
		if e.closed.Load() {
			return
		}
		switch e.mode.Load() {
		case calcNote:
			p := e.loadParams()
			var l, r int32
			for slot := 0; slot < e.Alloc.UsableSlots(); slot += 2 {
				sl, sr := e.renderVoice(slot, p)
				l += sl
				r += sr
			}
			e.calcResultL.Store(l)
			e.calcResultR.Store(r)
			e.mode.Store(calcIdle)

		case calcSetF:
			i := int(e.calcI.Load())
			note := e.calcNoteVal.Load()
			e.Bank.SetFrequencies(&e.Alloc.Notes[i].Osc, note, e.SampleRate)
			e.mode.Store(calcIdle)

		default:
			runtime.Gosched()
		}
	}
}

// renderVoice advances one slot's envelope and oscillator for one
// sample and returns its gain-weighted contribution (spec §4.6/§4.5,
// original: the per-note body of generate()/generate1()).
func (e *Engine) renderVoice(slot int, p voice.Params) (l, r int32) {
	v := &e.Alloc.Notes[slot]
	if !v.Active {
		return 0, 0
	}

	envOut, freedThisSample := e.Alloc.AdvanceSlot(slot, p, &e.Bank, e.SampleRate, e.next)
	if freedThisSample {
		return 0, 0
	}

	useGlide := false
	if e.Alloc.Monophonic && e.glideEnabled.Load() {
		if !v.Osc.Glided {
			e.Bank.SeedGlide(&v.Osc)
		} else {
			e.Bank.ApplyGlide(&v.Osc, int(e.glideTimeMS.Load()), e.SampleRate)
		}
		useGlide = true
	}

	oscL, oscR := e.Bank.Render(&v.Osc, useGlide)

	l = ((oscL * envOut) >> 10 * v.Gain) >> 10
	r = ((oscR * envOut) >> 10 * v.Gain) >> 10
	return l, r
}

// RenderSample produces one stereo PCM sample. Even-indexed voice slots
// are handed to core 1 via the CALC_NOTE handshake while core 0 renders
// the odd-indexed slots itself, mirroring spec §4.8's split; the two
// halves are summed once core 1 signals completion, then run through
// the master pan/filter/delay chain (spec §4.7).
func (e *Engine) RenderSample() (l, r int16) {
	p := e.loadParams()

	e.mode.Store(calcNote)

	var localL, localR int32
	for slot := 1; slot < e.Alloc.UsableSlots(); slot += 2 {
		sl, sr := e.renderVoice(slot, p)
		localL += sl
		localR += sr
	}

	for e.mode.Load() == calcNote {
		runtime.Gosched()
	}
	localL += e.calcResultL.Load()
	localR += e.calcResultR.Load()

	return e.Mix.Process(localL, localR)
}

// SetFrequenciesAsync recomputes slot i's oscillator phase deltas for
// note on core 1, then blocks until that completes (original: note_on's
// out-of-band CALC_SET_F dispatch). NoteOn itself performs this inline
// for simplicity; this entry point exists so callers can exercise the
// handshake explicitly, e.g. in tests of the scheduler itself.
func (e *Engine) SetFrequenciesAsync(slot int, note int32) {
	e.calcI.Store(int32(slot))
	e.calcNoteVal.Store(note)
	e.mode.Store(calcSetF)
	for e.mode.Load() == calcSetF {
		runtime.Gosched()
	}
}

// NoteOn starts or steals a voice (spec §4.4 note_on).
func (e *Engine) NoteOn(note, vel uint8) {
	p := e.loadParams()
	e.Alloc.NoteOn(note, vel, p, &e.Bank, e.SampleRate, e.next)
}

// NoteOff releases note if it is sounding (spec §4.4 note_off).
func (e *Engine) NoteOff(note uint8) {
	e.Alloc.NoteOff(note)
}

// SoundStop forces every voice to an idle empty state (spec §4.4
// note_reset, SOUND_STOP opcode).
func (e *Engine) SoundStop() {
	e.Alloc.NoteReset()
}

// GetUsed returns the number of currently active voices (GET_USED).
func (e *Engine) GetUsed() int { return e.Alloc.Used() }

// IsNote reports whether note is currently sounding (IS_NOTE).
func (e *Engine) IsNote(note uint8) bool { return e.Alloc.IsNote(note) }

// SetAttack updates the attack duration (ms) applied to voices triggered
// from now on (spec §4.4 "snapshot envelope parameters at note-on");
// in-flight voices are unaffected (SET_ATTACK).
func (e *Engine) SetAttack(ms int) {
	next := e.loadParams()
	next.AttackSamples = msToSamples(ms, e.SampleRate)
	e.params.Store(&next)
}

// SetDecay updates the decay duration (ms) (SET_DECAY).
func (e *Engine) SetDecay(ms int) {
	next := e.loadParams()
	next.DecaySamples = msToSamples(ms, e.SampleRate)
	e.params.Store(&next)
}

// SetRelease updates the release duration (ms) (SET_RELEASE).
func (e *Engine) SetRelease(ms int) {
	next := e.loadParams()
	next.ReleaseSamples = msToSamples(ms, e.SampleRate)
	e.params.Store(&next)
}

// SetSustain updates the sustain level (Q1.10, 0..1024) (SET_SUSTAIN).
func (e *Engine) SetSustain(sustainQ1_10 int32) {
	if sustainQ1_10 < 0 {
		sustainQ1_10 = 0
	}
	if sustainQ1_10 > 1024 {
		sustainQ1_10 = 1024
	}
	next := e.loadParams()
	next.SustainQ1_10 = sustainQ1_10
	e.params.Store(&next)
}

// SetMasterLevel sets the shared master gain (Q1.10) folded into every
// voice at note-on time.
func (e *Engine) SetMasterLevel(levelQ1_10 int32) {
	cur := e.loadParams()
	next := cur
	next.MasterGainQ1_10 = levelQ1_10
	e.params.Store(&next)
}

// SetMonophonic toggles monophonic mode; disabling it also clears
// glide (original: setMonophonic).
func (e *Engine) SetMonophonic(enable bool) {
	e.Alloc.Monophonic = enable
	if !enable {
		e.glideEnabled.Store(false)
	}
}

// SetGlide enables or disables glide, valid only in monophonic mode
// (original: setGlideMode). timeMS is clamped to [1, 3000].
func (e *Engine) SetGlide(enable bool, timeMS int) {
	if enable && e.Alloc.Monophonic {
		if timeMS > 3000 {
			timeMS = 3000
		}
		if timeMS < 1 {
			timeMS = 1
		}
		e.glideTimeMS.Store(int32(timeMS))
		e.glideEnabled.Store(true)
	} else if !enable {
		e.glideEnabled.Store(false)
	}
}

// SetPan sets master pan, 0..100 (SET_PAN).
func (e *Engine) SetPan(pan int) {
	if pan < 0 {
		pan = 0
	}
	if pan > 100 {
		pan = 100
	}
	e.Mix.Pan = pan
}

// SetMod toggles ring modulation (SET_MOD).
func (e *Engine) SetMod(ringMod bool) {
	e.Bank.RingMod = ringMod
}

// SetDelay configures the delay line (SET_DELAY); disabling resets it.
func (e *Engine) SetDelay(enable bool, timeMS int, levelPerMille, feedbackPerMille int32) {
	if feedbackPerMille > 900 {
		feedbackPerMille = 900
	}
	if feedbackPerMille < 0 {
		feedbackPerMille = 0
	}
	if levelPerMille > 1000 {
		levelPerMille = 1000
	}
	if levelPerMille < 0 {
		levelPerMille = 0
	}

	e.Mix.Delay.Enabled = enable
	if enable {
		e.Mix.Delay.Level = (levelPerMille << 10) / 1000
		e.Mix.Delay.Feedback = (feedbackPerMille << 10) / 1000
		e.Mix.Delay.SetTime(timeMS, e.SampleRate)
	} else {
		e.Mix.Delay.Reset()
	}
}

// DelayTailSamples returns the estimated number of samples before the
// feedback tail decays below -60dB (spec §4.7 step 4's delay_long).
func (e *Engine) DelayTailSamples() int32 {
	return e.Mix.Delay.TailSamples(e.SampleRate)
}

// ResetParams restores every engine parameter to its power-on default
// and silences all voices (SPEC_FULL §11, grounded on
// original_source/src/synth.h's resetParam(), which is distinct from
// note_reset(): that clears only the Note array, this also rewinds
// every control-rate parameter). Not exposed as a bus opcode; spec §6's
// opcode table is unchanged. The CLI's --reset flag and test setup call
// this directly.
func (e *Engine) ResetParams() {
	e.Alloc.NoteReset()
	e.Alloc.Monophonic = false
	e.glideEnabled.Store(false)
	e.glideTimeMS.Store(15)

	e.params.Store(&voice.Params{
		AttackSamples:       msToSamples(5, e.SampleRate),
		DecaySamples:        msToSamples(50, e.SampleRate),
		ReleaseSamples:      msToSamples(200, e.SampleRate),
		ForceReleaseSamples: int32((10 * e.SampleRate) >> 10),
		SustainQ1_10:        700,
		MasterGainQ1_10:     1024,
	})

	e.Bank = oscillator.Bank{}
	e.Mix = *mixer.NewMixer(e.SampleRate)
}
