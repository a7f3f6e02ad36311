// Package wavetable holds the single-cycle lookup tables the oscillator
// bank reads from. Tables are immutable once built except for the two
// custom slots, which are overwritten wholesale on a SET_CSHAPE command.
package wavetable

import "math"

// Len is the length of every wavetable, built-in or custom. Power-of-two
// so phase-to-index is a shift plus mask.
const Len = 2048

// BitShift is the number of high bits of a 32-bit phase accumulator that
// select a table index: phase>>BitShift is always in [0, Len).
const BitShift = 32 - 11 // log2(2048) == 11

// Table is one single-cycle waveform.
type Table struct {
	samples [Len]int16
}

// At returns the sample at the given 32-bit phase. Any phase value is
// valid; the shift-and-mask makes out-of-range indices impossible.
func (t *Table) At(phase uint32) int16 {
	return t.samples[(phase>>BitShift)&(Len-1)]
}

// Shape selects a built-in waveform by the wire ID used in SET_SHAPE.
type Shape uint8

const (
	ShapeSine     Shape = 0x00
	ShapeTriangle Shape = 0x01
	ShapeSaw      Shape = 0x02
	ShapeSquare   Shape = 0x03
	ShapeCustom   Shape = 0x04
	ShapeDisable  Shape = 0xFF
)

var (
	sineTable     Table
	triangleTable Table
	sawTable      Table
	squareTable   Table
)

func init() {
	for i := 0; i < Len; i++ {
		phase := 2 * math.Pi * float64(i) / float64(Len)
		sineTable.samples[i] = int16(math.Round(math.Sin(phase) * 32767))

		// Triangle: rises -1..1 over the first half, falls back over the second.
		t := float64(i) / float64(Len)
		var tri float64
		if t < 0.5 {
			tri = 4*t - 1
		} else {
			tri = 3 - 4*t
		}
		triangleTable.samples[i] = int16(math.Round(tri * 32767))

		// Saw: ramps -1..1 across the full cycle.
		saw := 2*t - 1
		sawTable.samples[i] = int16(math.Round(saw * 32767))

		// Square: 50% duty cycle.
		if i < Len/2 {
			squareTable.samples[i] = 32767
		} else {
			squareTable.samples[i] = -32768
		}
	}
}

// Slot identifies which oscillator a custom table belongs to: 1 or 2.
// OSC_SUB has no custom slot (spec §3: "Custom tables are mutable copies
// owned by the engine" for OSC1/OSC2 only).
type Slot int

const (
	Slot1 Slot = 1
	Slot2 Slot = 2
)

// Store owns the two mutable custom tables and resolves shape selectors
// to *Table (nil meaning "oscillator disabled").
type Store struct {
	custom [2]Table
}

// Builtin returns the built-in table for id, or nil for ShapeDisable or
// any unrecognized id.
func Builtin(id Shape) *Table {
	switch id {
	case ShapeSine:
		return &sineTable
	case ShapeTriangle:
		return &triangleTable
	case ShapeSaw:
		return &sawTable
	case ShapeSquare:
		return &squareTable
	default:
		return nil
	}
}

// SetCustom overwrites the custom table for the given slot. samples
// shorter than Len are zero-padded; longer slices are truncated. The
// copy is atomic from the caller's perspective only in the sense that it
// replaces the whole table's storage in place — callers on the audio
// path must not read osc*_wave concurrently with this call (spec §5:
// "Wavetable pointers are word-sized and swapped atomically" covers the
// *selection*, not a write into an in-use custom table).
func (s *Store) SetCustom(slot Slot, samples []int16) {
	idx := slot - 1
	if idx != 0 && idx != 1 {
		return
	}
	var t Table
	n := len(samples)
	if n > Len {
		n = Len
	}
	copy(t.samples[:n], samples[:n])
	s.custom[idx] = t
}

// Custom returns a pointer to the live custom table for the given slot.
func (s *Store) Custom(slot Slot) *Table {
	idx := slot - 1
	if idx != 0 && idx != 1 {
		return nil
	}
	return &s.custom[idx]
}
