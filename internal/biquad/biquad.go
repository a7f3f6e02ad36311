// Package biquad implements the direct-form-I second-order IIR sections
// used for the engine's master LPF and HPF (spec §4.3). Coefficients are
// derived from the RBJ cookbook formulas at control rate in float64 and
// stored as Q16.16 fixed point; the per-sample Process path is pure
// integer math with no allocation.
package biquad

import "math"

const fixedShift = 16

// MinFreq and MaxFreq bound the filter cutoff (spec §4.3).
const (
	MinFreq = 20.0
	MaxFreq = 20000.0
	MinQ    = 0.02
	MaxQ    = 40.0
)

// Kind selects which cookbook formula Coefficients derives.
type Kind int

const (
	LowPass Kind = iota
	HighPass
)

// channelState holds one channel's (L or R) history for a direct-form-I
// section: in1/in2 are the last two inputs, out1/out2 the last two
// outputs.
type channelState struct {
	in1, in2   int32
	out1, out2 int32
}

// Filter is one stateful biquad section with independent L/R history,
// shared Q16.16 coefficients (both channels are always configured
// identically, per spec §4.3).
type Filter struct {
	f0, f1, f2, f3, f4 int32
	l, r               channelState
}

// SetCoefficients derives and stores Q16.16 coefficients for the given
// kind, cutoff frequency (Hz), Q, and sample rate. freq is clamped to
// [MinFreq, MaxFreq] and q to [MinQ, MaxQ].
func (f *Filter) SetCoefficients(kind Kind, freq, q float64, sampleRate int) {
	if freq < MinFreq {
		freq = MinFreq
	}
	if freq > MaxFreq {
		freq = MaxFreq
	}
	if q < MinQ {
		q = MinQ
	}
	if q > MaxQ {
		q = MaxQ
	}

	omega := 2 * math.Pi * freq / float64(sampleRate)
	alpha := math.Sin(omega) / (2 * q)
	cosOmega := math.Cos(omega)

	a0 := 1 + alpha
	a1 := -2 * cosOmega
	a2 := 1 - alpha

	var b0, b1, b2 float64
	switch kind {
	case LowPass:
		b0 = (1 - cosOmega) / 2
		b1 = 1 - cosOmega
		b2 = (1 - cosOmega) / 2
	case HighPass:
		b0 = (1 + cosOmega) / 2
		b1 = -(1 + cosOmega)
		b2 = (1 + cosOmega) / 2
	}

	f.f0 = toFixed(b0 / a0)
	f.f1 = toFixed(b1 / a0)
	f.f2 = toFixed(b2 / a0)
	f.f3 = toFixed(a1 / a0)
	f.f4 = toFixed(a2 / a0)
}

func toFixed(v float64) int32 {
	return int32(math.Round(v * float64(int64(1)<<fixedShift)))
}

// ProcessL filters one left-channel sample. mix is a Q1.10 dry/wet
// factor (1024 = fully wet, the default).
func (f *Filter) ProcessL(in int16, mix int32) int16 {
	return process(f, &f.l, in, mix)
}

// ProcessR filters one right-channel sample.
func (f *Filter) ProcessR(in int16, mix int32) int16 {
	return process(f, &f.r, in, mix)
}

func process(f *Filter, s *channelState, in int16, mix int32) int16 {
	x := int32(in)
	out := int32((int64(f.f0)*int64(x) + int64(f.f1)*int64(s.in1) + int64(f.f2)*int64(s.in2) -
		int64(f.f3)*int64(s.out1) - int64(f.f4)*int64(s.out2)) >> fixedShift)

	s.in2 = s.in1
	s.in1 = x
	s.out2 = s.out1
	s.out1 = out

	mixed := ((1024-mix)*x + mix*out) >> 10
	if mixed > 32767 {
		mixed = 32767
	} else if mixed < -32768 {
		mixed = -32768
	}
	return int16(mixed)
}

// Reset clears both channels' history without touching coefficients.
func (f *Filter) Reset() {
	f.l = channelState{}
	f.r = channelState{}
}

// Pair bundles the engine's master LPF and HPF, each independently
// enableable (spec §4.7: "LPF (if enabled) and HPF (if enabled),
// independent L/R").
type Pair struct {
	LPF        Filter
	HPF        Filter
	LPFEnabled bool
	HPFEnabled bool
}

// NewPair returns a Pair with the spec's default coefficients: 1kHz/
// 1/sqrt(2) LPF, 500Hz/1/sqrt(2) HPF, both initially disabled.
func NewPair(sampleRate int) *Pair {
	p := &Pair{}
	invSqrt2 := 1.0 / math.Sqrt2
	p.LPF.SetCoefficients(LowPass, 1000, invSqrt2, sampleRate)
	p.HPF.SetCoefficients(HighPass, 500, invSqrt2, sampleRate)
	return p
}

// Process runs the enabled filters in series (LPF then HPF) on one
// stereo sample, per spec §4.7 step 3.
func (p *Pair) Process(l, r int16) (int16, int16) {
	if p.LPFEnabled {
		l = p.LPF.ProcessL(l, fixedpointMixFull)
		r = p.LPF.ProcessR(r, fixedpointMixFull)
	}
	if p.HPFEnabled {
		l = p.HPF.ProcessL(l, fixedpointMixFull)
		r = p.HPF.ProcessR(r, fixedpointMixFull)
	}
	return l, r
}

// fixedpointMixFull is the default "mix" parameter (Q1.10, fully wet).
const fixedpointMixFull = 1024
