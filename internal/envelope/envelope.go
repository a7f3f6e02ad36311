// Package envelope implements the per-voice ADSR amplitude generator
// (spec §4.6). State is driven entirely by remaining-sample counters
// rather than a clock, matching the original RP-DS16-SYNTH note's
// attack_cnt/decay_cnt/release_cnt/force_release_cnt fields
// (original_source/src/synth.h, generate()/generate1() ADSR branches).
package envelope

import "github.com/saisana299/ds16synth/internal/fixedpoint"

// ForceReleaseSamples is the fixed duration of a forced release, used
// when voice stealing must silence a slot before reassigning it
// (original: force_release_sample = (10*SAMPLE_RATE) >> 10).
func ForceReleaseSamples(sampleRate int) int32 {
	return int32((10 * sampleRate) >> 10)
}

// State is one voice's ADSR counters and durations, all in samples
// except Sustain and NoteOffGain, which are Q1.10 gain values.
type State struct {
	AttackDur       int32
	DecayDur        int32
	ReleaseDur      int32
	ForceReleaseDur int32
	Sustain         int32 // Q1.10, 0..1024

	AttackCnt       int32
	DecayCnt        int32
	ReleaseCnt      int32
	ForceReleaseCnt int32

	NoteOffGain int32 // Q1.10, snapshotted gain at release/steal time
}

// Trigger (re)starts the attack phase with the given durations (all in
// samples, minimum 1) and sustain level (Q1.10). Called on note-on.
func (s *State) Trigger(attack, decay, release, forceRelease, sustain int32) {
	s.AttackDur = clampMin1(attack)
	s.DecayDur = clampMin1(decay)
	s.ReleaseDur = clampMin1(release)
	s.ForceReleaseDur = clampMin1(forceRelease)
	s.Sustain = fixedpoint.ClampI32(sustain, 0, 1024)

	s.AttackCnt = 0
	s.DecayCnt = -1
	s.ReleaseCnt = -1
	s.ForceReleaseCnt = -1
}

func clampMin1(v int32) int32 {
	if v < 1 {
		return 1
	}
	return v
}

// Release snapshots gain and arms the release phase, cancelling any
// in-progress attack/decay (spec §4.4 note_off step 2).
func (s *State) Release(gain int32) {
	s.NoteOffGain = gain
	s.ReleaseCnt = s.ReleaseDur
	s.AttackCnt = -1
	s.DecayCnt = -1
}

// ForceRelease snapshots gain and arms the forced-release phase used
// by the allocator when stealing a sounding slot (spec §4.4 note_on
// step 4), cancelling any in-progress attack/decay.
func (s *State) ForceRelease(gain int32) {
	s.NoteOffGain = gain
	s.ForceReleaseCnt = s.ForceReleaseDur
	s.AttackCnt = -1
	s.DecayCnt = -1
}

// Output peeks at the current sample's amplitude without applying any
// counter action — used to snapshot a gain for NoteOffGain when a
// release or forced release is armed (original: notes[i].adsr_gain).
func (s *State) Output() int32 {
	switch {
	case s.AttackCnt >= 0 && s.AttackCnt < s.AttackDur:
		return ratio(s.AttackCnt, s.AttackDur)
	case s.ForceReleaseCnt >= 0:
		return fixedpoint.MulQ1_10(s.NoteOffGain, ratio(s.ForceReleaseCnt, s.ForceReleaseDur))
	case s.ReleaseCnt >= 0:
		return fixedpoint.MulQ1_10(s.NoteOffGain, ratio(s.ReleaseCnt, s.ReleaseDur))
	case s.DecayCnt >= 0:
		levelDiff := int32(1024) - s.Sustain
		return s.Sustain + fixedpoint.MulQ1_10(levelDiff, ratio(s.DecayCnt, s.DecayDur))
	default:
		return s.Sustain
	}
}

// Advance computes this sample's amplitude output and applies the one
// counter action for whichever ADSR state is current (spec §4.6 table),
// returning freed=true the instant the voice's release or forced
// release has finished — the caller must free the slot (and process
// any pending NoteCache entry) when freed is true.
func (s *State) Advance() (output int32, freed bool) {
	switch {
	case s.AttackCnt >= 0 && s.AttackCnt < s.AttackDur:
		output = ratio(s.AttackCnt, s.AttackDur)
		s.AttackCnt++
		if s.AttackCnt >= s.AttackDur {
			s.AttackCnt = -1
			s.DecayCnt = s.DecayDur
		}

	case s.ForceReleaseCnt >= 0:
		output = fixedpoint.MulQ1_10(s.NoteOffGain, ratio(s.ForceReleaseCnt, s.ForceReleaseDur))
		if s.ForceReleaseCnt > 0 {
			s.ForceReleaseCnt--
		} else {
			freed = true
		}

	case s.ReleaseCnt >= 0:
		output = fixedpoint.MulQ1_10(s.NoteOffGain, ratio(s.ReleaseCnt, s.ReleaseDur))
		if s.ReleaseCnt > 0 {
			s.ReleaseCnt--
		} else {
			freed = true
		}

	case s.DecayCnt >= 0:
		levelDiff := int32(1024) - s.Sustain
		output = s.Sustain + fixedpoint.MulQ1_10(levelDiff, ratio(s.DecayCnt, s.DecayDur))
		if s.DecayCnt > 0 {
			s.DecayCnt--
		} else {
			s.DecayCnt = -1
		}

	default:
		output = s.Sustain
	}
	return output, freed
}

// ratio returns (cnt<<10)/total as used throughout the ADSR table; total
// is always >= 1 by construction (Trigger clamps).
func ratio(cnt, total int32) int32 {
	return (cnt << 10) / total
}

// Idle reports whether the envelope is neither attacking, decaying, nor
// releasing — i.e. holding at sustain (or the voice slot is simply
// unused; callers distinguish via the voice's own active flag).
func (s *State) Idle() bool {
	return s.AttackCnt < 0 && s.DecayCnt < 0 && s.ReleaseCnt < 0 && s.ForceReleaseCnt < 0
}
