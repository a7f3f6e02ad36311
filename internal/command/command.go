// Package command decodes the bus-slave byte-command stream (spec §6)
// into calls against an internal/engine.Engine, internal/wavetable.Store,
// and internal/mixer.Mixer. Grounded on spec §6's opcode table and §7's
// error-handling policy: commands with an unknown opcode or carrying an
// out-of-range selector or value are silently dropped and logged at
// debug level — the engine state is left unchanged, never an error
// return, per spec §7's "the command handler returns no status".
// A command whose payload is shorter than its opcode requires is not
// dropped: the Decoder keeps it buffered and completes it with the bytes
// of later Feed calls, so whatever bytes follow a truncated command are
// read as the rest of its payload.
package command

import (
	"encoding/binary"
	"math"

	"github.com/charmbracelet/log"

	"github.com/saisana299/ds16synth/internal/biquad"
	"github.com/saisana299/ds16synth/internal/engine"
	"github.com/saisana299/ds16synth/internal/oscillator"
	"github.com/saisana299/ds16synth/internal/wavetable"
)

// Opcode identifies a command's operation. Values are this module's own
// wire assignment — spec §6 names the commands and their payloads but
// not numeric opcode bytes, so GLOSSARY-order assignment is used here.
type Opcode byte

const (
	NoteOn Opcode = iota
	NoteOff
	SetShape
	SoundStop
	SetPan
	SetAttack
	SetDecay
	SetRelease
	SetSustain
	GetUsed
	IsNote
	SetCShape
	SetVoice
	SetDetune
	SetSpread
	SetOct
	SetSemi
	SetCent
	SetLevel
	SetOscLvl
	SetLPF
	SetHPF
	SetDelay
	SetMod
)

// payloadLen is the number of bytes each opcode requires beyond the
// opcode byte itself, per spec §6's table. SetCShape, SetLPF, SetHPF and
// SetDelay are handled specially in dispatchOne so they are not listed
// here.
var payloadLen = map[Opcode]int{
	NoteOn:     2,
	NoteOff:    2,
	SetShape:   2,
	SoundStop:  0,
	SetPan:     1,
	SetAttack:  5,
	SetDecay:   5,
	SetRelease: 5,
	SetSustain: 4,
	GetUsed:    0,
	IsNote:     1,
	SetVoice:   2,
	SetDetune:  2,
	SetSpread:  2,
	SetOct:     2,
	SetSemi:    2,
	SetCent:    2,
	SetLevel:   2,
	SetOscLvl:  3,
	SetMod:     1,
	// SetLPF/SetHPF/SetDelay have variable length: the first payload byte
	// selects the remaining length. SetCShape carries 2048 int16 samples
	// plus one oscillator byte.
}

// Responder latches the last GET_USED/IS_NOTE result until read, per
// spec §6 "Response channel": single byte, cleared to 0 after read.
type Responder struct {
	value   byte
	pending bool
}

// Take returns the latched response and clears it, or (0, false) if
// nothing is pending.
func (r *Responder) Take() (byte, bool) {
	if !r.pending {
		return 0, false
	}
	v := r.value
	r.value = 0
	r.pending = false
	return v, true
}

// Peek returns the latched response without clearing it.
func (r *Responder) Peek() (byte, bool) {
	return r.value, r.pending
}

func (r *Responder) set(v byte) {
	r.value = v
	r.pending = true
}

// Decoder turns a byte stream into calls against an Engine, the
// oscillator Bank's wavetable store, and the mixer it owns. One Decoder
// serves one bus-slave connection.
type Decoder struct {
	Engine *engine.Engine
	Store  *wavetable.Store
	Resp   Responder

	buf []byte
}

// NewDecoder returns a Decoder that dispatches onto e, resolving
// SET_SHAPE/SET_CSHAPE against store.
func NewDecoder(e *engine.Engine, store *wavetable.Store) *Decoder {
	return &Decoder{Engine: e, Store: store}
}

// Feed appends incoming bytes to the decode buffer and dispatches every
// complete command found. Partial commands at the end of data are held
// over to the next Feed call (original hardware: bus-slave reception is
// also buffered, one byte at a time, until a full command is seen).
func (d *Decoder) Feed(data []byte) {
	d.buf = append(d.buf, data...)
	for len(d.buf) > 0 {
		n := d.dispatchOne(d.buf)
		if n == 0 {
			return
		}
		d.buf = d.buf[n:]
	}
}

// dispatchOne consumes and executes at most one command from the front
// of buf, returning the number of bytes consumed, or 0 if buf doesn't
// yet hold a complete command (caller should wait for more data).
func (d *Decoder) dispatchOne(buf []byte) int {
	op := Opcode(buf[0])
	payload := buf[1:]

	switch op {
	case SetCShape:
		return d.decodeSetCShape(payload)
	case SetLPF:
		return d.decodeSetFilter(payload, true)
	case SetHPF:
		return d.decodeSetFilter(payload, false)
	case SetDelay:
		return d.decodeSetDelay(payload)
	}

	need, ok := payloadLen[op]
	if !ok {
		log.Debug("command: unknown opcode dropped", "opcode", byte(op))
		return 1
	}
	if len(payload) < need {
		return 0
	}
	d.dispatchFixed(op, payload[:need])
	return 1 + need
}

func (d *Decoder) dispatchFixed(op Opcode, p []byte) {
	switch op {
	case NoteOn:
		d.Engine.NoteOn(p[0], p[1])
	case NoteOff:
		d.Engine.NoteOff(p[0])
	case SetShape:
		d.setShape(p[0], p[1])
	case SoundStop:
		d.Engine.SoundStop()
	case SetPan:
		d.Engine.SetPan(int(p[0]))
	case SetAttack:
		d.Engine.SetAttack(int(envTimeMS(p)))
	case SetDecay:
		d.Engine.SetDecay(int(envTimeMS(p)))
	case SetRelease:
		d.Engine.SetRelease(int(envTimeMS(p)))
	case SetSustain:
		level := binary.BigEndian.Uint16(p[2:4])
		if level > 1000 {
			log.Debug("command: sustain out of range dropped", "level", level)
			return
		}
		d.Engine.SetSustain(int32(level) * 1024 / 1000)
	case GetUsed:
		d.Resp.set(byte(d.Engine.GetUsed()))
	case IsNote:
		if d.Engine.IsNote(p[0]) {
			d.Resp.set(1)
		} else {
			d.Resp.set(0)
		}
	case SetVoice:
		d.setVoice(p[0], p[1])
	case SetDetune:
		d.setUnisonParam(p[0], p[1], setDetune)
	case SetSpread:
		d.setUnisonParam(p[0], p[1], setSpread)
	case SetOct:
		d.setPitchOffset(p[0], p[1], setOct)
	case SetSemi:
		d.setPitchOffset(p[0], p[1], setSemi)
	case SetCent:
		d.setPitchOffset(p[0], p[1], setCent)
	case SetLevel:
		level := binary.BigEndian.Uint16(p)
		if level > 1000 {
			log.Debug("command: master level out of range dropped", "level", level)
			return
		}
		d.Engine.SetMasterLevel(int32(level) * 1024 / 1000)
	case SetOscLvl:
		d.setOscLevel(p[0], binary.BigEndian.Uint16(p[1:3]))
	case SetMod:
		d.Engine.SetMod(p[0] == 1)
	default:
		log.Debug("command: opcode not handled by dispatchFixed", "opcode", byte(op))
	}
}

// envTimeMS decodes the big-endian uint16 carried in the last two bytes
// of a 5-byte envelope-time payload (SPEC_FULL §12 open question 1); the
// first three bytes are reserved and ignored.
func envTimeMS(p []byte) uint16 {
	v := binary.BigEndian.Uint16(p[3:5])
	if v > 32000 {
		v = 32000
	}
	return v
}

// setShape resolves a SET_SHAPE command's id to the table it selects.
// Built-in ids (0-3) resolve to the static tables; ShapeCustom selects
// whichever table SET_CSHAPE last wrote into that oscillator's slot
// (spec §8 testable property 10's round-trip: SET_CSHAPE only replaces
// a slot's contents, SET_SHAPE(custom, osc) is what makes it audible
// again, so switching away and back reproduces it exactly). OSC_SUB has
// no custom slot, matching the original's osc_sub_wave having no
// cwave counterpart.
func (d *Decoder) setShape(id, osc byte) {
	shape := wavetable.Shape(id)
	cfg := d.oscConfig(osc)
	if cfg == nil {
		log.Debug("command: SET_SHAPE osc out of range dropped", "osc", osc)
		return
	}

	var table *wavetable.Table
	switch {
	case shape == wavetable.ShapeDisable:
		table = nil
	case shape == wavetable.ShapeCustom:
		switch osc {
		case 1:
			table = d.Store.Custom(wavetable.Slot1)
		case 2:
			table = d.Store.Custom(wavetable.Slot2)
		default:
			log.Debug("command: SET_SHAPE custom has no slot for osc", "osc", osc)
			return
		}
	case shape <= wavetable.ShapeSquare:
		table = wavetable.Builtin(shape)
	default:
		log.Debug("command: SET_SHAPE id out of range dropped", "id", id)
		return
	}
	cfg.Wave = table
}

func (d *Decoder) oscConfig(osc byte) *oscillator.Config {
	switch osc {
	case 1:
		return &d.Engine.Bank.Osc1
	case 2:
		return &d.Engine.Bank.Osc2
	case 3:
		return &d.Engine.Bank.Sub
	default:
		return nil
	}
}

func (d *Decoder) oscID(osc byte) (oscillator.OscID, bool) {
	switch osc {
	case 1:
		return oscillator.OscID1, true
	case 2:
		return oscillator.OscID2, true
	case 3:
		return oscillator.OscIDSub, true
	default:
		return 0, false
	}
}

func (d *Decoder) setVoice(voices, osc byte) {
	if voices < 1 || voices > oscillator.MaxUnison {
		log.Debug("command: SET_VOICE count out of range dropped", "voices", voices)
		return
	}
	id, ok := d.oscID(osc)
	if !ok {
		log.Debug("command: SET_VOICE osc out of range dropped", "osc", osc)
		return
	}
	if !d.Engine.Bank.CanSetVoice(id, int(voices), false) {
		log.Debug("command: SET_VOICE exceeds unison budget, dropped", "voices", voices, "osc", osc)
		return
	}
	cfg := d.oscConfig(osc)
	cfg.Voices = voices
	cfg.RecomputeSpreadPan()
}

type unisonField int

const (
	setDetune unisonField = iota
	setSpread
)

func (d *Decoder) setUnisonParam(value, osc byte, field unisonField) {
	if value > 100 {
		log.Debug("command: unison param out of range dropped", "value", value)
		return
	}
	cfg := d.oscConfig(osc)
	if cfg == nil {
		log.Debug("command: unison param osc out of range dropped", "osc", osc)
		return
	}
	switch field {
	case setDetune:
		cfg.Detune = float64(value) / 100
	case setSpread:
		cfg.Spread = float64(value)
	}
	cfg.RecomputeSpreadPan()
}

type pitchField int

const (
	setOct pitchField = iota
	setSemi
	setCent
)

func (d *Decoder) setPitchOffset(osc, raw byte, field pitchField) {
	cfg := d.oscConfig(osc)
	if cfg == nil {
		log.Debug("command: pitch offset osc out of range dropped", "osc", osc)
		return
	}
	v := int32(int8(raw))
	switch field {
	case setOct:
		cfg.Octave = v
	case setSemi:
		cfg.Semitone = v
	case setCent:
		cfg.Cent = float64(v)
	}
}

func (d *Decoder) setOscLevel(osc byte, level uint16) {
	if level > 1000 {
		log.Debug("command: SET_OSC_LVL out of range dropped", "level", level)
		return
	}
	cfg := d.oscConfig(osc)
	if cfg == nil {
		log.Debug("command: SET_OSC_LVL osc out of range dropped", "osc", osc)
		return
	}
	cfg.Level = int32(level) * 1024 / 1000
}

// decodeSetCShape handles the variable-length SET_CSHAPE command: 2048
// little-endian int16 samples followed by a one-byte oscillator
// selector (1 or 2; OSC_SUB has no custom slot).
func (d *Decoder) decodeSetCShape(payload []byte) int {
	const need = wavetable.Len*2 + 1
	if len(payload) < need {
		return 0
	}
	samples := make([]int16, wavetable.Len)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(payload[i*2:]))
	}
	osc := payload[wavetable.Len*2]
	switch osc {
	case 1:
		d.Store.SetCustom(wavetable.Slot1, samples)
	case 2:
		d.Store.SetCustom(wavetable.Slot2, samples)
	default:
		log.Debug("command: SET_CSHAPE osc out of range dropped", "osc", osc)
	}
	return 1 + need
}

// decodeSetFilter handles SET_LPF/SET_HPF: enable byte, and if enabled,
// a little-endian float32 freq and Q.
func (d *Decoder) decodeSetFilter(payload []byte, lowPass bool) int {
	if len(payload) < 1 {
		return 0
	}
	enable := payload[0] != 0
	if !enable {
		if lowPass {
			d.Engine.Mix.Filters.LPFEnabled = false
		} else {
			d.Engine.Mix.Filters.HPFEnabled = false
		}
		return 2
	}
	const need = 1 + 4 + 4
	if len(payload) < need {
		return 0
	}
	freq := float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[1:5])))
	q := float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[5:9])))
	if lowPass {
		d.Engine.Mix.Filters.LPF.SetCoefficients(biquad.LowPass, freq, q, d.Engine.SampleRate)
		d.Engine.Mix.Filters.LPFEnabled = true
	} else {
		d.Engine.Mix.Filters.HPF.SetCoefficients(biquad.HighPass, freq, q, d.Engine.SampleRate)
		d.Engine.Mix.Filters.HPFEnabled = true
	}
	return 1 + need
}

// decodeSetDelay handles SET_DELAY: enable byte, and if enabled,
// big-endian u16 time/level/feedback.
func (d *Decoder) decodeSetDelay(payload []byte) int {
	if len(payload) < 1 {
		return 0
	}
	enable := payload[0] != 0
	if !enable {
		d.Engine.SetDelay(false, 0, 0, 0)
		return 2
	}
	const need = 1 + 2 + 2 + 2
	if len(payload) < need {
		return 0
	}
	timeMS := binary.BigEndian.Uint16(payload[1:3])
	level := binary.BigEndian.Uint16(payload[3:5])
	feedback := binary.BigEndian.Uint16(payload[5:7])
	d.Engine.SetDelay(true, int(timeMS), int32(level), int32(feedback))
	return 1 + need
}
