// Package player drives the 6502 CPU and SID chips against a decoded tune,
// producing audio samples one buffer at a time. It is the single component
// shared between the audio callback thread (FillBuffer) and whatever
// control thread drives playback (song changes, pause, chip swaps); all of
// it is guarded by one mutex.
package player

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mlund/crabsid-go/internal/cpu6502"
	"github.com/mlund/crabsid-go/internal/memmap"
	"github.com/mlund/crabsid-go/internal/sidchip"
	"github.com/mlund/crabsid-go/internal/sidfile"
)

const (
	palClockHz  uint32 = 985248
	ntscClockHz uint32 = 1022727

	palFrameCycles  uint32 = 19656
	ntscFrameCycles uint32 = 17045

	scopeBufferSize       = 1024
	envelopeSampleDivisor = 4

	initStepLimit = 1_000_000
	playStepLimit = 100_000

	trapAddress    uint16 = 0x0000
	stackTopLo     uint16 = 0x01FE
	stackTopHi     uint16 = 0x01FF
	initialSP      byte   = 0xFD
)

// ErrUnsupportedTuneShape is returned when a tune requires CIA timer or IRQ
// emulation this player does not provide (RSID tunes, PSID tunes whose play
// address is 0, or PSID tunes with per-song CIA speed bits set).
var ErrUnsupportedTuneShape = errors.New("player: tune requires CIA/interrupt emulation not supported by this player")

// ErrConfigureSID names a failure to configure a tune's SID layout. No
// function in this package returns it: building the chips and their memory
// windows cannot fail.
var ErrConfigureSID = errors.New("player: cannot configure requested SID layout")

// InitTimeoutError means the init routine never reached the synthetic RTS
// trap within the step ceiling. The tune is unplayable; loading fails.
type InitTimeoutError struct {
	Steps   int
	Address uint16
}

func (e *InitTimeoutError) Error() string {
	return fmt.Sprintf("init routine at $%04X exceeded %d steps (may require CIA/interrupt emulation)", e.Address, e.Steps)
}

// PlayTimeoutError means one call to the play routine never returned.
// Recoverable: the player self-pauses and surfaces the message via
// TakeError rather than aborting the whole tune.
type PlayTimeoutError struct {
	Steps   int
	Address uint16
}

func (e *PlayTimeoutError) Error() string {
	return fmt.Sprintf("play routine at $%04X exceeded %d steps", e.Address, e.Steps)
}

// Player combines a 6502 core, C64 memory map, and 1-3 SID chips to run a
// decoded tune's init/play routines and produce a stream of audio samples.
type Player struct {
	mu sync.Mutex

	cpu *cpu6502.CPU
	mem *memmap.Memory

	chips      []*sidchip.Chip
	chipModels []sidfile.ChipModel

	playAddress uint16
	initAddress uint16
	loadAddress uint16
	payload     []byte

	cyclesPerFrame   uint32
	cyclesPerSample  float64
	cycleAccumulator float64
	frameCycleCount  uint32

	paused bool

	envelopeHistory       [][]float32
	envelopeWritePos      int
	envelopeSampleCounter int

	clockHz    uint32
	sampleRate uint32

	playbackError error

	samplingMethod sidchip.SamplingMethod
}

// New creates a player for tune, running its init routine for song (1-indexed).
func New(tune *sidfile.Tune, song uint16, sampleRate uint32, chipOverride *uint16, samplingMethod sidchip.SamplingMethod) (*Player, error) {
	if tune.RequiresFullEmulation(song) {
		return nil, ErrUnsupportedTuneShape
	}

	clockHz, cyclesPerFrame := timingFromTune(tune)
	chipModels := selectChipModels(tune, chipOverride)

	p := &Player{
		chipModels:      chipModels,
		playAddress:     tune.PlayAddress,
		initAddress:     tune.InitAddress,
		loadAddress:     tune.LoadAddress,
		payload:         append([]byte(nil), tune.Payload...),
		cyclesPerFrame:  cyclesPerFrame,
		cyclesPerSample: float64(clockHz) / float64(sampleRate),
		clockHz:         clockHz,
		sampleRate:      sampleRate,
		samplingMethod:  samplingMethod,
	}

	if err := p.bootstrap(tune, song); err != nil {
		return nil, err
	}
	return p, nil
}

func timingFromTune(tune *sidfile.Tune) (uint32, uint32) {
	if tune.IsPAL() {
		return palClockHz, palFrameCycles
	}
	return ntscClockHz, ntscFrameCycles
}

func selectChipModels(tune *sidfile.Tune, chipOverride *uint16) []sidfile.ChipModel {
	count := tune.SIDCount()
	models := make([]sidfile.ChipModel, count)
	for i := range models {
		if chipOverride != nil {
			if *chipOverride == 8580 {
				models[i] = sidfile.ModelMOS8580
			} else {
				models[i] = sidfile.ModelMOS6581
			}
			continue
		}
		if pref := tune.PreferredChipModel(i); pref != sidfile.ModelUnspecified {
			models[i] = pref
		} else {
			models[i] = sidfile.ModelMOS6581
		}
	}
	return models
}

func sidBaseAddresses(tune *sidfile.Tune) []uint16 {
	addrs := []uint16{0xD400}
	if tune.SecondSIDAddress != nil {
		addrs = append(addrs, *tune.SecondSIDAddress)
	}
	if tune.ThirdSIDAddress != nil {
		addrs = append(addrs, *tune.ThirdSIDAddress)
	}
	return addrs
}

// bootstrap builds the CPU/memory/chips from scratch and runs the init
// routine for the requested song. Used by New and by LoadTune.
func (p *Player) bootstrap(tune *sidfile.Tune, song uint16) error {
	p.chips = make([]*sidchip.Chip, len(p.chipModels))
	for i, model := range p.chipModels {
		p.chips[i] = sidchip.New(model)
		p.chips[i].SetSamplingMethod(p.samplingMethod)
	}

	p.mem = memmap.New(p.chips[0])
	p.configureWindows(tune)

	p.cpu = cpu6502.New(p.mem)
	p.resetCPUForSong(song)

	if err := p.runInit(); err != nil {
		return err
	}

	voiceCount := len(p.chips) * 3
	p.envelopeHistory = make([][]float32, voiceCount)
	for i := range p.envelopeHistory {
		p.envelopeHistory[i] = make([]float32, scopeBufferSize)
	}
	return nil
}

func (p *Player) configureWindows(tune *sidfile.Tune) {
	addrs := sidBaseAddresses(tune)
	windows := make([]memmap.Window, len(p.chips))
	for i, chip := range p.chips {
		base := uint16(0xD400)
		if i < len(addrs) {
			base = addrs[i]
		}
		windows[i] = memmap.Window{Base: base, Chip: chip}
	}
	p.mem.ConfigureSIDs(windows)
}

// resetCPUForSong sets up the synthetic RTS trap bootstrap: RTS at $0000,
// return address $FFFF pushed, SP at $FD, PC at the init routine with the
// song index (0-based) in the accumulator.
func (p *Player) resetCPUForSong(song uint16) {
	p.mem.ClearZeropageAndStack()
	p.mem.Load(p.loadAddress, p.payload)
	for _, chip := range p.chips {
		chip.Reset()
	}

	p.cpu.Reg = cpu6502.Registers{}
	p.mem.Write(trapAddress, 0x60) // RTS
	p.mem.Write(stackTopHi, 0xFF)
	p.mem.Write(stackTopLo, 0xFF)
	p.cpu.Reg.SP = initialSP

	songIndex := byte(0)
	if song > 0 {
		songIndex = byte(song - 1)
	}
	p.cpu.Reg.A = songIndex
	p.cpu.Reg.PC = p.initAddress
}

func (p *Player) runInit() error {
	return p.runRoutine(p.initAddress, initStepLimit, func(steps int) error {
		return &InitTimeoutError{Steps: steps, Address: p.initAddress}
	})
}

func (p *Player) runPlay() error {
	return p.runRoutine(p.playAddress, playStepLimit, func(steps int) error {
		return &PlayTimeoutError{Steps: steps, Address: p.playAddress}
	})
}

// runRoutine steps the CPU until PC reaches the synthetic RTS trap at
// $0000, checked before every step, or the step ceiling is hit.
func (p *Player) runRoutine(address uint16, maxSteps int, timeoutErr func(steps int) error) error {
	for steps := 0; steps < maxSteps; steps++ {
		if p.cpu.Reg.PC == trapAddress {
			return nil
		}
		p.cpu.Step()
	}
	_ = address
	return timeoutErr(maxSteps)
}

func (p *Player) callPlay() error {
	if p.playAddress == 0 {
		return nil // IRQ-driven tune; nothing for us to call each frame
	}
	p.mem.Write(stackTopHi, 0xFF)
	p.mem.Write(stackTopLo, 0xFF)
	p.cpu.Reg.SP = initialSP
	p.cpu.Reg.PC = p.playAddress
	return p.runPlay()
}

// FillBuffer advances emulation and writes one analog sample per element of
// buffer. Safe to call concurrently with the control-thread methods below;
// this is the only method the audio callback thread should ever call.
func (p *Player) FillBuffer(buffer []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.paused || p.playbackError != nil {
		for i := range buffer {
			buffer[i] = 0
		}
		return
	}

	sidCount := len(p.chips)

	for i := range buffer {
		p.cycleAccumulator += p.cyclesPerSample
		cyclesToRun := uint32(p.cycleAccumulator)
		p.cycleAccumulator -= float64(cyclesToRun)

		for c := uint32(0); c < cyclesToRun; c++ {
			if p.frameCycleCount >= p.cyclesPerFrame {
				p.frameCycleCount = 0
				if err := p.callPlay(); err != nil {
					p.playbackError = err
					p.paused = true
					for j := i; j < len(buffer); j++ {
						buffer[j] = 0
					}
					return
				}
			}

			for _, chip := range p.chips {
				chip.Clock()
			}
			p.frameCycleCount++
		}

		var sum float64
		for _, chip := range p.chips {
			sum += chip.Output()
		}
		buffer[i] = mixSample(sum, sidCount)

		p.captureEnvelopeHistory()
	}
}

// mixSample averages the chips' outputs and clamps to leave int16 headroom
// in downstream audio backends that truncate rather than saturate.
func mixSample(sum float64, sidCount int) float32 {
	if sidCount == 0 {
		return 0
	}
	mixed := float32(sum / float64(sidCount))
	const clamp = 0.9995
	if mixed > clamp {
		return clamp
	}
	if mixed < -clamp {
		return -clamp
	}
	return mixed
}

func (p *Player) captureEnvelopeHistory() {
	p.envelopeSampleCounter++
	if p.envelopeSampleCounter < envelopeSampleDivisor {
		return
	}
	p.envelopeSampleCounter = 0

	voiceIdx := 0
	for _, chip := range p.chips {
		for v := 0; v < 3; v++ {
			if voiceIdx < len(p.envelopeHistory) {
				p.envelopeHistory[voiceIdx][p.envelopeWritePos] = float32(chip.VoiceLevel(v))
			}
			voiceIdx++
		}
	}
	p.envelopeWritePos = (p.envelopeWritePos + 1) % scopeBufferSize
}

// EnvelopeSamples returns each voice's envelope history, oldest sample
// first. Returns all-zero buffers while paused.
func (p *Player) EnvelopeSamples() [][]float32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([][]float32, len(p.envelopeHistory))
	if p.paused {
		for i := range out {
			out[i] = make([]float32, scopeBufferSize)
		}
		return out
	}
	for i, history := range p.envelopeHistory {
		samples := make([]float32, 0, scopeBufferSize)
		samples = append(samples, history[p.envelopeWritePos:]...)
		samples = append(samples, history[:p.envelopeWritePos]...)
		out[i] = samples
	}
	return out
}

// VoiceLevels returns the current envelope level (0-255) for every voice
// across all SID chips, or all zero while paused.
func (p *Player) VoiceLevels() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	voiceCount := len(p.chips) * 3
	levels := make([]byte, voiceCount)
	if p.paused {
		return levels
	}
	i := 0
	for _, chip := range p.chips {
		for v := 0; v < 3; v++ {
			levels[i] = byte(chip.VoiceLevel(v) * 255.0)
			i++
		}
	}
	return levels
}

// TogglePause flips the paused state.
func (p *Player) TogglePause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = !p.paused
}

// IsPaused reports whether playback is currently paused.
func (p *Player) IsPaused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// TakeError returns and clears any pending playback error.
func (p *Player) TakeError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.playbackError
	p.playbackError = nil
	return err
}

// SIDCount returns the number of SID chips currently configured.
func (p *Player) SIDCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chips)
}

// ChipModels returns the chip model assigned to each SID.
func (p *Player) ChipModels() []sidfile.ChipModel {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sidfile.ChipModel, len(p.chipModels))
	copy(out, p.chipModels)
	return out
}

// LoadSong reinitializes playback for a different song (1-indexed) within
// the currently loaded tune: reloads payload, resets chips and CPU
// registers, and reruns the init routine.
func (p *Player) LoadSong(song uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetCPUForSong(song)
	if err := p.runInit(); err != nil {
		return err
	}

	p.cycleAccumulator = 0
	p.frameCycleCount = 0
	p.paused = false
	p.playbackError = nil
	return nil
}

// LoadTune replaces the currently loaded tune entirely: timing, SID
// layout, chip models, and envelope history are all rebuilt before the
// init routine for song runs.
func (p *Player) LoadTune(tune *sidfile.Tune, song uint16, chipOverride *uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tune.RequiresFullEmulation(song) {
		return ErrUnsupportedTuneShape
	}

	clockHz, cyclesPerFrame := timingFromTune(tune)
	p.clockHz = clockHz
	p.cyclesPerFrame = cyclesPerFrame
	p.cyclesPerSample = float64(clockHz) / float64(p.sampleRate)

	p.playAddress = tune.PlayAddress
	p.initAddress = tune.InitAddress
	p.loadAddress = tune.LoadAddress
	p.payload = append([]byte(nil), tune.Payload...)
	p.chipModels = selectChipModels(tune, chipOverride)

	if err := p.bootstrap(tune, song); err != nil {
		return err
	}

	p.cycleAccumulator = 0
	p.frameCycleCount = 0
	p.paused = false
	p.playbackError = nil
	p.envelopeWritePos = 0
	p.envelopeSampleCounter = 0
	return nil
}

// SwitchChipModel cycles the chip model for the SID at index (0 for the
// first if index is negative), preserving its last-written register
// values 0x00-0x18 across the swap.
func (p *Player) SwitchChipModel(index int) sidfile.ChipModel {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 {
		index = 0
	}
	if index >= len(p.chips) {
		if len(p.chipModels) > 0 {
			return p.chipModels[0]
		}
		return sidfile.ModelMOS6581
	}

	snapshot := p.chips[index].RegisterSnapshot()

	var newModel sidfile.ChipModel
	if p.chipModels[index] == sidfile.ModelMOS6581 {
		newModel = sidfile.ModelMOS8580
	} else {
		newModel = sidfile.ModelMOS6581
	}
	p.chipModels[index] = newModel

	replacement := sidchip.New(newModel)
	replacement.SetSamplingMethod(p.samplingMethod)
	replacement.RestoreRegisters(snapshot)

	p.chips[index] = replacement
	p.mem.SetChipModel(index, replacement)

	return newModel
}
