// Package sidchip emulates the MOS 6581/8580 SID sound chip: three
// independently enveloped oscillator voices feeding a shared resonant
// filter and mixer. Each voice carries its own ADSR generator, register
// file, and Clock/Output pump driven once per system clock cycle.
package sidchip

import "github.com/mlund/crabsid-go/internal/sidfile"

// Model is the SID silicon revision being emulated. It is sidfile.ChipModel
// under the hood so a decoded tune's header preference can be applied
// directly without a conversion layer.
type Model = sidfile.ChipModel

const (
	ModelMOS6581 = sidfile.ModelMOS6581
	ModelMOS8580 = sidfile.ModelMOS8580
)

// SamplingMethod selects how Clock maps emulated cycles to output samples.
// Only the two methods useful to a non-resampling, period-accurate pump are
// offered; a full windowed-sinc resampler is out of scope (see SPEC_FULL.md).
type SamplingMethod int

const (
	// Fast takes the oscillator/filter state at the instant Clock is
	// called, with no interpolation.
	Fast SamplingMethod = iota
	// Interpolate linearly blends the previous and current analog sample,
	// reducing aliasing on fast-moving waveforms at negligible cost.
	Interpolate
)

const (
	numVoices = 3

	regsPerVoice  = 7
	regFreqLo     = 0
	regFreqHi     = 1
	regPWLo       = 2
	regPWHi       = 3
	regControl    = 4
	regAttackDecay = 5
	regSustainRelease = 6

	regFilterCutoffLo = 0x15
	regFilterCutoffHi = 0x16
	regResonanceRoute = 0x17
	regModeVolume     = 0x18
	regPotX           = 0x19
	regPotY           = 0x1A
	regOsc3           = 0x1B
	regEnv3           = 0x1C

	registerCount = 0x1D

	ctrlGate     = 1 << 0
	ctrlSync     = 1 << 1
	ctrlRingMod  = 1 << 2
	ctrlTest     = 1 << 3
	ctrlTriangle = 1 << 4
	ctrlSawtooth = 1 << 5
	ctrlPulse    = 1 << 6
	ctrlNoise    = 1 << 7
)

// envPhase is an ADSR generator's current segment.
type envPhase int

const (
	phaseAttack envPhase = iota
	phaseDecay
	phaseSustain
	phaseRelease
	phaseIdle
)

// adsrRatePeriods maps a 4-bit rate value to the number of envelope clock
// ticks between counter steps. The values keep the exponential-ish spacing
// of the SID rate table (tuned by Bob Yannes for musically useful envelope
// times) rather than a linear clock division, but each period is roughly a
// quarter of the real chip's, so envelopes run about four times faster than
// on hardware.
var adsrRatePeriods = [16]int{
	2, 8, 16, 24, 38, 56, 68, 80,
	100, 250, 500, 800, 1000, 3000, 5000, 8000,
}

// sustainLevelTable converts the 4-bit sustain nibble into an 8-bit target
// envelope level, matching real SID behaviour where sustain level n maps to
// n repeated in both nibbles (0x0, 0x11, 0x22, ..., 0xff).
func sustainLevelTable(nibble byte) byte {
	return nibble<<4 | nibble
}

// voice is one SID oscillator plus its ADSR envelope generator.
type voice struct {
	freq       uint16
	pulseWidth uint16
	control    byte
	attack     byte
	decay      byte
	sustain    byte
	release    byte

	accumulator uint32 // 24-bit phase accumulator
	lfsr        uint32 // 23-bit noise shift register

	envLevel    byte
	envPhase    envPhase
	envCounter  int
	envExpCount int
	prevGate    bool

	waveformOut uint16 // last computed 12-bit waveform sample
}

func newVoice() *voice {
	v := &voice{lfsr: 0x7ffff8, envPhase: phaseIdle}
	return v
}

func (v *voice) testBit() bool   { return v.control&ctrlTest != 0 }
func (v *voice) gateBit() bool   { return v.control&ctrlGate != 0 }
func (v *voice) syncBit() bool   { return v.control&ctrlSync != 0 }
func (v *voice) ringModBit() bool { return v.control&ctrlRingMod != 0 }

// clockOscillator advances the phase accumulator and noise LFSR by one
// system clock cycle. syncSource is the accumulator of the voice that
// precedes this one (voice 0's sync source is voice 2, per SID wiring).
func (v *voice) clockOscillator(syncSource *voice) {
	if v.testBit() {
		v.accumulator = 0
		return
	}
	prevMSB := v.accumulator&0x800000 != 0
	v.accumulator = (v.accumulator + uint32(v.freq)) & 0xffffff
	msb := v.accumulator&0x800000 != 0

	if v.syncBit() && syncSource != nil {
		if syncSource.accumulatorCrossedZero() {
			v.accumulator = 0
		}
	}

	if !prevMSB && msb {
		v.clockNoise()
	}
}

// accumulatorCrossedZero approximates the SID's MSB-driven sync pulse with a
// wrap test: it reports whether the 24-bit accumulator wrapped past zero on
// its most recent clock (its value is now below one frequency step). That
// happens once per oscillator period, which is sufficient for
// period-accurate (non cycle-exact) sync.
func (v *voice) accumulatorCrossedZero() bool {
	return v.accumulator < uint32(v.freq)
}

func (v *voice) clockNoise() {
	bit := ((v.lfsr >> 22) ^ (v.lfsr >> 17)) & 1
	v.lfsr = ((v.lfsr << 1) | bit) & 0x7fffff
}

// waveform computes the current 12-bit sample for whichever waveform bits
// are set in control, combining multiple simultaneously-set bits with a
// logical AND as real SID silicon does.
func (v *voice) waveform(ringSource *voice) uint16 {
	var triangle, sawtooth, pulse, noise uint16
	haveAny := false

	top := uint16(v.accumulator >> 12) // 12 most significant bits

	if v.control&ctrlTriangle != 0 {
		msb := v.accumulator & 0x800000
		tri := top
		if v.ringModBit() && ringSource != nil && ringSource.accumulator&0x800000 != 0 {
			msb ^= 0x800000
		}
		if msb != 0 {
			tri = ^tri & 0xfff
		}
		triangle = tri << 1 & 0xfff
		haveAny = true
	}
	if v.control&ctrlSawtooth != 0 {
		sawtooth = top
		haveAny = true
	}
	if v.control&ctrlPulse != 0 {
		threshold := v.pulseWidth & 0xfff
		if top >= threshold {
			pulse = 0xfff
		}
		haveAny = true
	}
	if v.control&ctrlNoise != 0 {
		noise = uint16(v.lfsr>>11) & 0xfff
		haveAny = true
	}

	if !haveAny {
		v.waveformOut = 0
		return 0
	}
	// Combine every selected waveform with a logical AND, the way real SID
	// silicon does when more than one waveform bit is set at once. An
	// unselected waveform contributes all-ones so it never masks a
	// selected one.
	result := uint16(0xfff)
	if v.control&ctrlTriangle != 0 {
		result &= triangle
	}
	if v.control&ctrlSawtooth != 0 {
		result &= sawtooth
	}
	if v.control&ctrlPulse != 0 {
		result &= pulse
	}
	if v.control&ctrlNoise != 0 {
		result &= noise
	}
	v.waveformOut = result
	return result
}

// clockEnvelope advances the ADSR generator by one system clock cycle.
func (v *voice) clockEnvelope() {
	gate := v.gateBit()
	if gate && !v.prevGate {
		v.envPhase = phaseAttack
	} else if !gate && v.prevGate {
		v.envPhase = phaseRelease
	}
	v.prevGate = gate

	if v.envPhase == phaseIdle {
		return
	}

	var rate byte
	switch v.envPhase {
	case phaseAttack:
		rate = v.attack
	case phaseDecay:
		rate = v.decay
	case phaseSustain:
		rate = v.release // sustain holds; only release rate matters once gate drops
	case phaseRelease:
		rate = v.release
	}

	period := adsrRatePeriods[rate&0x0f]
	v.envCounter++
	if v.envCounter < period {
		return
	}
	v.envCounter = 0

	switch v.envPhase {
	case phaseAttack:
		if v.envLevel == 0xff {
			v.envPhase = phaseDecay
			return
		}
		v.envLevel++
	case phaseDecay:
		target := sustainLevelTable(v.sustain)
		if v.envLevel <= target {
			v.envPhase = phaseSustain
			return
		}
		v.envLevel--
	case phaseSustain:
		// held at whatever level decay left behind until gate drops
	case phaseRelease:
		if v.envLevel == 0 {
			v.envPhase = phaseIdle
			return
		}
		v.envLevel--
	}
}

// Chip is a single SID voice trio, shared filter, and register file.
type Chip struct {
	model Model

	registers [registerCount]byte
	voices    [numVoices]*voice

	filterCutoff    uint16
	filterResonance byte
	filterRoute     byte // low 3 bits: voice 1/2/3 routed through filter
	filterMode      byte // bits 4-6: LP/BP/HP select
	voice3Off       bool
	masterVolume    byte

	filterLow  float64
	filterBand float64

	sampling  SamplingMethod
	prevOut   float64
}

// New creates a chip of the given model with all registers and generator
// state zeroed, matching power-on/reset behaviour.
func New(model Model) *Chip {
	c := &Chip{model: model, sampling: Interpolate}
	for i := range c.voices {
		c.voices[i] = newVoice()
	}
	return c
}

// Model reports which chip revision this instance emulates.
func (c *Chip) Model() Model { return c.model }

// SetSamplingMethod selects how analog output is derived between clocks.
func (c *Chip) SetSamplingMethod(m SamplingMethod) { c.sampling = m }

// Reset clears all registers and generator state, as a hardware reset would.
func (c *Chip) Reset() {
	for i := range c.registers {
		c.registers[i] = 0
	}
	for i := range c.voices {
		c.voices[i] = newVoice()
	}
	c.filterCutoff = 0
	c.filterResonance = 0
	c.filterRoute = 0
	c.filterMode = 0
	c.voice3Off = false
	c.masterVolume = 0
	c.filterLow = 0
	c.filterBand = 0
	c.prevOut = 0
}

// ReadRegister implements internal/memmap.Chip. Write-only registers read
// back their last written value (bus capacitance behaviour on real
// silicon); OSC3/ENV3/POTX/POTY are true read registers.
func (c *Chip) ReadRegister(reg byte) byte {
	reg &= 0x1f
	switch reg {
	case regOsc3:
		return byte(c.voices[2].waveformOut >> 4)
	case regEnv3:
		return c.voices[2].envLevel
	case regPotX, regPotY:
		return 0xff // no potentiometer wired up
	default:
		if int(reg) < len(c.registers) {
			return c.registers[reg]
		}
		return 0
	}
}

// WriteRegister implements internal/memmap.Chip.
func (c *Chip) WriteRegister(reg byte, value byte) {
	reg &= 0x1f
	if int(reg) < len(c.registers) {
		c.registers[reg] = value
	}

	if reg <= 0x14 {
		voiceIdx := int(reg) / regsPerVoice
		voiceReg := int(reg) % regsPerVoice
		v := c.voices[voiceIdx]
		switch voiceReg {
		case regFreqLo:
			v.freq = v.freq&0xff00 | uint16(value)
		case regFreqHi:
			v.freq = v.freq&0x00ff | uint16(value)<<8
		case regPWLo:
			v.pulseWidth = v.pulseWidth&0x0f00 | uint16(value)
		case regPWHi:
			v.pulseWidth = v.pulseWidth&0x00ff | uint16(value&0x0f)<<8
		case regControl:
			v.control = value
		case regAttackDecay:
			v.attack = value >> 4
			v.decay = value & 0x0f
		case regSustainRelease:
			v.sustain = value >> 4
			v.release = value & 0x0f
		}
		return
	}

	switch reg {
	case regFilterCutoffLo:
		c.filterCutoff = c.filterCutoff&0x7f8 | uint16(value&0x07)
	case regFilterCutoffHi:
		c.filterCutoff = c.filterCutoff&0x007 | uint16(value)<<3
	case regResonanceRoute:
		c.filterResonance = value >> 4
		c.filterRoute = value & 0x07
	case regModeVolume:
		c.filterMode = (value >> 4) & 0x07
		c.voice3Off = value&0x80 != 0
		c.masterVolume = value & 0x0f
	}
}

// Clock advances every voice's oscillator and envelope by one system clock
// cycle. Call once per emulated SID clock tick; Output then reports the
// resulting analog sample.
func (c *Chip) Clock() {
	prev := c.currentSample()
	c.prevOut = prev

	// Each voice syncs to and ring-modulates against its predecessor in the
	// chain, with voice 0 wrapping around to voice 2, matching SID wiring.
	precedingVoice := [numVoices]*voice{c.voices[2], c.voices[0], c.voices[1]}
	for i, v := range c.voices {
		v.clockOscillator(precedingVoice[i])
		v.waveform(precedingVoice[i])
		v.clockEnvelope()
	}
	c.clockFilter()
}

// clockFilter steps the shared state-variable filter by one cycle using the
// voices currently routed through it.
func (c *Chip) clockFilter() {
	if c.filterRoute == 0 {
		return
	}
	cutoff := float64(c.filterCutoff) / 2047.0
	if cutoff > 1 {
		cutoff = 1
	}
	q := 1.0 - float64(c.filterResonance)/24.0
	if q < 0.2 {
		q = 0.2
	}

	input := c.filteredVoiceSum()
	c.filterLow += cutoff * c.filterBand
	highPass := input - c.filterLow - q*c.filterBand
	c.filterBand += cutoff * highPass
}

func (c *Chip) filteredVoiceSum() float64 {
	sum := 0.0
	for i, v := range c.voices {
		if c.filterRoute&(1<<uint(i)) == 0 {
			continue
		}
		sum += voiceLevel(v)
	}
	return sum
}

// voiceLevel returns a voice's current waveform output scaled by its
// envelope, centred around zero.
func voiceLevel(v *voice) float64 {
	wave := float64(v.waveformOut) - 2048.0
	return wave * float64(v.envLevel) / 255.0
}

// currentSample mixes all three voices (respecting voice3Off and the
// filter routing) into a single normalized analog sample in roughly
// [-1, 1]. This is the value Output reports for the current Clock tick.
func (c *Chip) currentSample() float64 {
	var unfiltered, filteredInput float64
	for i, v := range c.voices {
		if i == 2 && c.voice3Off && c.filterRoute&(1<<2) == 0 {
			continue
		}
		level := voiceLevel(v)
		if c.filterRoute&(1<<uint(i)) != 0 {
			filteredInput += level
		} else {
			unfiltered += level
		}
	}

	var filterOut float64
	if c.filterRoute != 0 {
		if c.filterMode&0x1 != 0 { // low-pass
			filterOut += c.filterLow
		}
		if c.filterMode&0x2 != 0 { // band-pass
			filterOut += c.filterBand
		}
		if c.filterMode&0x4 != 0 { // high-pass
			q := 1.0 - float64(c.filterResonance)/24.0
			filterOut += filteredInput - c.filterLow - q*c.filterBand
		}
	}

	mix := (unfiltered + filterOut) * float64(c.masterVolume) / 15.0
	return mix / (2048.0 * numVoices)
}

// Output returns the chip's current analog sample, as a signed amplitude in
// roughly [-1, 1]. When SamplingMethod is Interpolate it blends the last
// two Clock outputs; Fast returns the latest one unmodified.
func (c *Chip) Output() float64 {
	cur := c.currentSample()
	if c.sampling == Interpolate {
		return (cur + c.prevOut) / 2
	}
	return cur
}

// VoiceLevel reports voice index's (0-2) current envelope level in [0,1],
// used by internal/player to populate per-voice envelope telemetry.
func (c *Chip) VoiceLevel(index int) float64 {
	if index < 0 || index >= numVoices {
		return 0
	}
	return float64(c.voices[index].envLevel) / 255.0
}

// RegisterSnapshot returns the last-written value of every register
// 0x00-0x18, used to preserve state across a chip-model swap.
func (c *Chip) RegisterSnapshot() [0x19]byte {
	var snap [0x19]byte
	copy(snap[:], c.registers[:0x19])
	return snap
}

// RestoreRegisters re-applies a snapshot taken via RegisterSnapshot,
// rebuilding generator state (frequency, pulse width, control, ADSR rates)
// from the raw register values.
func (c *Chip) RestoreRegisters(snap [0x19]byte) {
	for reg, value := range snap {
		c.WriteRegister(byte(reg), value)
	}
}
