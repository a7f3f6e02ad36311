// Package voice implements the polyphonic voice allocator (spec §4.4):
// note-on/note-off slot assignment, age-rank bookkeeping, and the
// forced-release-then-cache mechanism that makes voice stealing
// click-free. Grounded on original_source/src/synth.h's noteOn/
// noteOff/noteReset/getOldNote/updateActNumOn/updateActNumOff.
package voice

import (
	"github.com/saisana299/ds16synth/internal/envelope"
	"github.com/saisana299/ds16synth/internal/oscillator"
)

// MaxNotes is the engine's polyphony ceiling (original: MAX_NOTES).
const MaxNotes = 4

// NoNote marks an unused slot (original: note == 0xff).
const NoNote = 0xFF

// Cache holds a note-on that arrived while its target slot was still
// finishing a forced release; it is replayed the instant that release
// completes (spec §4.4 step 4).
type Cache struct {
	Processed bool
	Note      uint8
	Velocity  uint8
}

// Voice is one polyphony slot's complete state: allocator bookkeeping,
// envelope, and oscillator phase.
type Voice struct {
	Active bool
	ActNum int32 // age rank, dense in [0, activeCount), -1 when inactive
	Note   uint8

	Gain int32 // Q1.10, (masterGain/N) * velocity/127

	Env envelope.State
	Osc oscillator.State

	Cache Cache
}

// Params are the envelope durations and master gain in effect for new
// notes; the allocator copies these into a voice at trigger time
// (original: attack_sample/decay_sample/release_sample/
// force_release_sample/sustain_level/amp_gain).
type Params struct {
	AttackSamples       int32
	DecaySamples        int32
	ReleaseSamples      int32
	ForceReleaseSamples int32
	SustainQ1_10        int32
	MasterGainQ1_10     int32
}

// Allocator owns every polyphony slot and the monophonic switch.
type Allocator struct {
	Notes      [MaxNotes]Voice
	Monophonic bool
	N          int // usable slot count, 1..MaxNotes
}

// NewAllocator returns an allocator with every slot idle and full
// polyphony.
func NewAllocator() *Allocator {
	a := &Allocator{N: MaxNotes}
	a.NoteReset()
	return a
}

// NoteOn assigns note to a slot and starts or re-arms it (spec §4.4
// note_on). rnd supplies phase-reset entropy (original: rand()).
func (a *Allocator) NoteOn(note, vel uint8, p Params, bank *oscillator.Bank, sampleRate int, rnd func() uint32) {
	if note > 127 || vel > 127 {
		return
	}
	if vel == 0 {
		a.NoteOff(note)
		return
	}

	var slot int
	if a.Monophonic {
		slot = 0
	} else {
		slot = a.oldestOrFreeSlot()
		if idx := a.noteIndexOf(note); idx != -1 {
			slot = idx
		}
		if slot == -1 {
			return
		}
	}

	a.trigger(slot, note, vel, p, bank, sampleRate, rnd)
}

// trigger is the common path for both a direct NoteOn call and a
// NoteCache replay: if the slot is already sounding something, force it
// to release and remember (note, vel) for later; otherwise start the
// voice immediately.
func (a *Allocator) trigger(slot int, note, vel uint8, p Params, bank *oscillator.Bank, sampleRate int, rnd func() uint32) {
	v := &a.Notes[slot]

	if v.Active {
		v.Env.ForceRelease(v.Env.Output())
		v.Cache = Cache{Processed: false, Note: note, Velocity: vel}
		return
	}

	if v.Note == NoNote {
		oscillator.ResetPhases(&v.Osc, rnd)
	}
	bank.SetFrequencies(&v.Osc, int32(note), sampleRate)

	v.Env.Trigger(p.AttackSamples, p.DecaySamples, p.ReleaseSamples, p.ForceReleaseSamples, p.SustainQ1_10)
	v.Note = note
	v.Gain = ((p.MasterGainQ1_10 / int32(a.clampedN())) * ((int32(vel) << 10) / 127)) >> 10

	v.ActNum = a.nextActNum()

	v.Active = true
}

// NoteOff arms the release phase for note if it is sounding, and clears
// any unprocessed cache entry for it (spec §4.4 note_off).
func (a *Allocator) NoteOff(note uint8) {
	for i := range a.Notes {
		if !a.Notes[i].Cache.Processed && a.Notes[i].Cache.Note == note {
			a.Notes[i].Cache.Processed = true
		}
	}

	idx := a.noteIndexOf(note)
	if idx == -1 {
		return
	}
	v := &a.Notes[idx]
	v.Env.Release(v.Env.Output())
}

// NoteReset forces every slot to an idle empty state (spec §4.4
// note_reset). Cache.Processed starts true: an idle slot has no pending
// cached note-on, so AdvanceSlot's free-and-replay check must not treat
// the zero-valued Cache as a live (note 0, velocity 0) entry.
func (a *Allocator) NoteReset() {
	for i := range a.Notes {
		a.Notes[i] = Voice{Note: NoNote, ActNum: -1, Cache: Cache{Processed: true}}
	}
}

// AdvanceSlot runs one sample of envelope bookkeeping for slot and
// returns its current amplitude. If the slot's release or forced
// release just finished, it is freed and any cached note-on is replayed
// into the same slot (spec §4.6 transition table; §4.4 step 4's "this
// is what makes force-release seamless"); freedThisSample reports that
// case so the caller can skip rendering the slot's oscillator this
// sample — the output is already silence (the voice's final envelope
// value is always 0 at the instant it frees) and the replayed voice's
// own sound starts on the following sample, matching the original's
// two-pass-per-sample structure.
func (a *Allocator) AdvanceSlot(slot int, p Params, bank *oscillator.Bank, sampleRate int, rnd func() uint32) (output int32, freedThisSample bool) {
	v := &a.Notes[slot]
	if !v.Active {
		return 0, false
	}

	out, freed := v.Env.Advance()
	if !freed {
		return out, false
	}

	a.updateActNumOff(slot)
	v.Active = false
	v.Note = NoNote
	v.Gain = 0
	v.ActNum = -1

	if !v.Cache.Processed {
		note, vel := v.Cache.Note, v.Cache.Velocity
		v.Cache.Processed = true
		a.trigger(slot, note, vel, p, bank, sampleRate, rnd)
	}
	return out, true
}

// IsNote reports whether note is sounding on any slot (spec GET_USED/
// IS_NOTE support; original: isNote).
func (a *Allocator) IsNote(note uint8) bool {
	return a.noteIndexOf(note) != -1
}

// Used returns the number of currently active slots (spec GET_USED).
func (a *Allocator) Used() int {
	n := 0
	for i := range a.Notes {
		if a.Notes[i].Active {
			n++
		}
	}
	return n
}

func (a *Allocator) clampedN() int {
	if a.N < 1 {
		return 1
	}
	if a.N > MaxNotes {
		return MaxNotes
	}
	return a.N
}

// UsableSlots returns the number of slots actually available for
// allocation (spec §3 "N"), clamped to [1, MaxNotes]: the same bound
// oldestOrFreeSlot uses to pick a candidate. Callers that iterate every
// slot at audio rate (internal/engine's render loops) use this instead
// of MaxNotes so a configured voice count below MaxNotes also shrinks
// the polyphony actually heard, not just the gain/actnum math.
func (a *Allocator) UsableSlots() int {
	return a.clampedN()
}

func (a *Allocator) noteIndexOf(note uint8) int {
	for i := range a.Notes {
		if a.Notes[i].Active && a.Notes[i].Note == note {
			return i
		}
	}
	return -1
}

// oldestOrFreeSlot returns a free slot if one exists, else the slot
// with the smallest ActNum (original: getOldNote).
func (a *Allocator) oldestOrFreeSlot() int {
	n := a.clampedN()

	allActive := true
	for i := 0; i < n; i++ {
		if !a.Notes[i].Active {
			allActive = false
			break
		}
	}

	index := -1
	min := int32(1<<31 - 1)
	for i := 0; i < n; i++ {
		if allActive {
			if a.Notes[i].ActNum < min {
				min = a.Notes[i].ActNum
				index = i
			}
		} else if !a.Notes[i].Active {
			index = i
		}
	}
	return index
}

func (a *Allocator) nextActNum() int32 {
	var max int32 = -1
	for i := range a.Notes {
		if a.Notes[i].ActNum > max {
			max = a.Notes[i].ActNum
		}
	}
	max++
	if max == 0 {
		return 0
	}
	if n := int32(a.clampedN()); max >= n {
		return n - 1
	}
	return max
}

// updateActNumOff compresses every slot ranked above the freed slot
// down by one, keeping ranks dense (original: updateActNumOff).
func (a *Allocator) updateActNumOff(slot int) {
	v := &a.Notes[slot]
	for i := range a.Notes {
		if i == slot {
			continue
		}
		o := &a.Notes[i]
		if o.ActNum > v.ActNum && o.ActNum > -1 {
			o.ActNum--
		}
	}
}
