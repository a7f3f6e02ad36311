// Package mixer implements the master pan, filter, and delay stage that
// runs on the already-summed voice output (spec §4.7). Grounded on
// original_source/src/synth.h's PAN_SIN_TABLE/PAN_COS_TABLE and the
// delayProcess()/calculate_delay_samples() functions.
package mixer

import (
	"math"

	"github.com/saisana299/ds16synth/internal/biquad"
	"github.com/saisana299/ds16synth/internal/fixedpoint"
	"github.com/saisana299/ds16synth/internal/ringbuffer"
)

// panTableSize is the number of discrete pan positions, 0 (full left)
// to 100 (full right).
const panTableSize = 101

// cosTable and sinTable hold the equal-power pan coefficients, Q15
// scaled like the original's PAN_COS_TABLE/PAN_SIN_TABLE (computed here
// instead of hand-transcribed, since both are pure trigonometric
// functions of the pan index).
var cosTable, sinTable [panTableSize]int32

func init() {
	for i := 0; i < panTableSize; i++ {
		angle := math.Pi / 2 * float64(i) / float64(panTableSize-1)
		cosTable[i] = int32(math.Round(math.Cos(angle) * 32767))
		sinTable[i] = int32(math.Round(math.Sin(angle) * 32767))
	}
}

// Delay is the feedback delay line's control-rate parameters, clamped
// per spec §4.7. L and R each get an independent ring buffer (original:
// ringbuff_L, ringbuff_R).
type Delay struct {
	Enabled  bool
	Level    int32 // Q1.10, <= 1000/1000 scaled to 1024
	Feedback int32 // Q1.10, <= 900/1000 scaled to 1024
	TimeMS   int
	ringL    ringbuffer.Ring
	ringR    ringbuffer.Ring
}

// SetTime configures both ring buffers' interval from a millisecond
// value and the engine's sample rate. timeMS is clamped to [10, 300].
func (d *Delay) SetTime(timeMS, sampleRate int) {
	if timeMS < 10 {
		timeMS = 10
	}
	if timeMS > 300 {
		timeMS = 300
	}
	d.TimeMS = timeMS
	interval := timeMS * sampleRate / 1000
	d.ringL.SetInterval(interval)
	d.ringR.SetInterval(interval)
}

// TailSamples estimates how many samples the feedback tail takes to
// decay below -60dB (spec §4.7 step 4; original:
// calculate_delay_samples). Returns math.MaxInt32 when Feedback
// saturates the line (no decay).
func (d *Delay) TailSamples(sampleRate int) int32 {
	if d.Feedback >= 1024 {
		return math.MaxInt32
	}
	ratio := float64(d.Feedback) / 1024.0
	if ratio <= 0 {
		return 0
	}
	n := math.Log(0.001) / math.Log(ratio)
	reverbMS := n * float64(d.TimeMS)
	return int32(reverbMS * float64(sampleRate) / 1000.0)
}

// process runs one sample through the given ring (spec §4.7 step 4;
// original: delayProcess).
func (d *Delay) process(ring *ringbuffer.Ring, in int16) int16 {
	if !d.Enabled {
		return in
	}
	tap := int32(ring.Read(0))
	out := int32(in) + fixedpoint.MulQ1_10(d.Level, tap)
	feed := int32(in) + fixedpoint.MulQ1_10(d.Feedback, tap)
	ring.Write(fixedpoint.ClampI16(feed))
	ring.Update()
	return fixedpoint.ClampI16(out)
}

// ProcessL runs one left-channel sample through the delay line.
func (d *Delay) ProcessL(in int16) int16 { return d.process(&d.ringL, in) }

// ProcessR runs one right-channel sample through the delay line.
func (d *Delay) ProcessR(in int16) int16 { return d.process(&d.ringR, in) }

// Reset clears both ring buffers (spec §4.2 reset()).
func (d *Delay) Reset() {
	d.ringL.Reset()
	d.ringR.Reset()
}

// Mixer is the engine's master pan + filter + delay chain, applied
// once per sample to the voices' summed stereo output.
type Mixer struct {
	Pan     int // 0..100, 50 = center
	Filters biquad.Pair
	Delay   Delay
}

// NewMixer returns a Mixer with default pan (center) and default
// filter coefficients, both filters disabled and delay disabled.
func NewMixer(sampleRate int) *Mixer {
	m := &Mixer{Pan: 50}
	m.Filters = *biquad.NewPair(sampleRate)
	return m
}

// Process applies master pan, then the enabled filters, then the delay
// line, to one raw stereo sample (spec §4.7 steps 2-4).
func (m *Mixer) Process(l, r int32) (int16, int16) {
	pan := m.Pan
	if pan < 0 {
		pan = 0
	}
	if pan > panTableSize-1 {
		pan = panTableSize - 1
	}

	panL := fixedpoint.ClampI16((l * cosTable[pan]) / 32767)
	panR := fixedpoint.ClampI16((r * sinTable[pan]) / 32767)

	panL, panR = m.Filters.Process(panL, panR)

	panL = m.Delay.ProcessL(panL)
	panR = m.Delay.ProcessR(panR)

	return panL, panR
}
