package player

import (
	"errors"
	"testing"

	"github.com/mlund/crabsid-go/internal/sidchip"
	"github.com/mlund/crabsid-go/internal/sidfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testTune() *sidfile.Tune {
	return &sidfile.Tune{
		Magic:       "PSID",
		Version:     2,
		LoadAddress: 0x1000,
		InitAddress: 0x1000,
		PlayAddress: 0x1003,
		Songs:       1,
		StartSong:   1,
		Payload:     []byte{0x60, 0x60, 0x60},
	}
}

func newTestPlayer(t *testing.T) *Player {
	t.Helper()
	p, err := New(testTune(), 1, 44100, nil, sidchip.Fast)
	require.NoError(t, err)
	return p
}

func TestNewRunsInitAndProducesSilence(t *testing.T) {
	p := newTestPlayer(t)
	buffer := make([]float32, 256)
	p.FillBuffer(buffer)
	for _, s := range buffer {
		assert.InDelta(t, 0, s, 1e-6)
	}
}

func TestRequiresFullEmulationIsRejected(t *testing.T) {
	tune := testTune()
	tune.Magic = "RSID"
	_, err := New(tune, 1, 44100, nil, sidchip.Fast)
	require.ErrorIs(t, err, ErrUnsupportedTuneShape)
}

func TestInitTimeoutFailsToLoad(t *testing.T) {
	tune := testTune()
	// An infinite loop: JMP $1000.
	tune.Payload = []byte{0x4C, 0x00, 0x10}
	_, err := New(tune, 1, 44100, nil, sidchip.Fast)
	require.Error(t, err)
	var timeoutErr *InitTimeoutError
	require.True(t, errors.As(err, &timeoutErr))
	assert.Equal(t, initStepLimit, timeoutErr.Steps)
}

func TestPlayTimeoutSelfPausesRatherThanAborting(t *testing.T) {
	tune := testTune()
	// Init returns immediately (RTS at $1002); play loops forever (JMP
	// $1003 at $1003). Payload is laid out starting at load address
	// $1000, so indices 0-1 are filler up to $1002.
	tune.InitAddress = 0x1002
	tune.PlayAddress = 0x1003
	tune.Payload = []byte{0x00, 0x00, 0x60, 0x4C, 0x03, 0x10}

	p, err := New(tune, 1, 44100, nil, sidchip.Fast)
	require.NoError(t, err)

	buffer := make([]float32, 4096)
	p.FillBuffer(buffer)

	assert.True(t, p.IsPaused())
	err = p.TakeError()
	require.Error(t, err)
	var timeoutErr *PlayTimeoutError
	require.True(t, errors.As(err, &timeoutErr))

	// TakeError clears the stored error.
	assert.NoError(t, p.TakeError())
}

func TestTogglePauseProducesSilenceDeterministically(t *testing.T) {
	p := newTestPlayer(t)
	p.TogglePause()
	assert.True(t, p.IsPaused())

	buffer := make([]float32, 128)
	p.FillBuffer(buffer)
	for _, s := range buffer {
		assert.Zero(t, s)
	}

	p.TogglePause()
	assert.False(t, p.IsPaused())
}

func TestEnvelopeSamplesRotateOldestFirst(t *testing.T) {
	p := newTestPlayer(t)
	for i := range p.envelopeHistory[0] {
		p.envelopeHistory[0][i] = float32(i)
	}
	for i := range p.envelopeHistory[1] {
		p.envelopeHistory[1][i] = float32(i) + 1000.0
	}
	for i := range p.envelopeHistory[2] {
		p.envelopeHistory[2][i] = float32(i) + 2000.0
	}
	p.envelopeWritePos = 3

	samples := p.EnvelopeSamples()
	assert.Equal(t, float32(3.0), samples[0][0])
	assert.Equal(t, float32(4.0), samples[0][1])
	assert.Equal(t, float32(2.0), samples[0][len(samples[0])-1])
	assert.Equal(t, float32(1003.0), samples[1][0])
	assert.Equal(t, float32(2003.0), samples[2][0])
}

func TestSwitchChipModelPreservesRegistersZeroTo18(t *testing.T) {
	p := newTestPlayer(t)
	for reg := byte(0); reg <= 0x18; reg++ {
		p.chips[0].WriteRegister(reg, reg)
	}
	before := p.chips[0].RegisterSnapshot()

	p.SwitchChipModel(0)

	after := p.chips[0].RegisterSnapshot()
	assert.Equal(t, before, after)
}

func TestSwitchChipModelTogglesBetweenModels(t *testing.T) {
	p := newTestPlayer(t)
	first := p.chipModels[0]
	newModel := p.SwitchChipModel(0)
	assert.NotEqual(t, first, newModel)
	assert.Equal(t, newModel, p.chipModels[0])
}

func TestMixSampleLimitsOutput(t *testing.T) {
	assert.Equal(t, float32(0), mixSample(0, 1))
	assert.LessOrEqual(t, mixSample(1e9, 1), float32(1.0))
	assert.GreaterOrEqual(t, mixSample(-1e9, 1), float32(-1.0))
	assert.Less(t, mixSample(0.95, 1), float32(0.9996))
}

func TestFillBufferStaysWithinHeadroom(t *testing.T) {
	p := newTestPlayer(t)
	// Give voice 0 something to actually generate: gate a triangle on.
	p.chips[0].WriteRegister(0x00, 0x00)
	p.chips[0].WriteRegister(0x01, 0x10)
	p.chips[0].WriteRegister(0x04, 0x11) // triangle + gate
	p.chips[0].WriteRegister(0x18, 0x0f)

	buffer := make([]float32, 1024)
	for i := 0; i < 8; i++ {
		p.FillBuffer(buffer)
		for _, s := range buffer {
			assert.LessOrEqual(t, s, float32(0.9996))
			assert.GreaterOrEqual(t, s, float32(-0.9996))
		}
	}
}

func TestLoadSongResetsPlaybackState(t *testing.T) {
	p := newTestPlayer(t)
	p.frameCycleCount = 12345
	p.cycleAccumulator = 0.5
	require.NoError(t, p.LoadSong(1))
	assert.Zero(t, p.frameCycleCount)
	assert.Zero(t, p.cycleAccumulator)
	assert.False(t, p.IsPaused())
}

// TestLoadTuneAfterErrorReturnsToPlaying checks that loading a fresh tune
// clears the paused/errored state left behind by a prior play timeout,
// rather than carrying it forward into the new tune.
func TestLoadTuneAfterErrorReturnsToPlaying(t *testing.T) {
	tune := testTune()
	tune.InitAddress = 0x1002
	tune.PlayAddress = 0x1003
	tune.Payload = []byte{0x00, 0x00, 0x60, 0x4C, 0x03, 0x10}

	p, err := New(tune, 1, 44100, nil, sidchip.Fast)
	require.NoError(t, err)

	buffer := make([]float32, 4096)
	p.FillBuffer(buffer)
	require.True(t, p.IsPaused())
	require.Error(t, p.playbackError)

	p.frameCycleCount = 99
	p.cycleAccumulator = 0.75

	require.NoError(t, p.LoadTune(testTune(), 1, nil))

	assert.False(t, p.IsPaused())
	assert.NoError(t, p.TakeError())
	assert.Zero(t, p.frameCycleCount)
	assert.Zero(t, p.cycleAccumulator)
	assert.Zero(t, p.envelopeWritePos)
	assert.Zero(t, p.envelopeSampleCounter)

	buffer2 := make([]float32, 256)
	p.FillBuffer(buffer2)
	for _, s := range buffer2 {
		assert.InDelta(t, 0, s, 1e-6)
	}
}

// TestMultiSIDMixStaysWithinClampForAnyChipCount checks invariant: adding
// SID chips never pushes the mix outside the ±0.9995 clamp range regardless
// of how many are configured.
func TestMultiSIDMixStaysWithinClampForAnyChipCount(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 3).Draw(t, "sidCount")
		sum := rapid.Float64Range(-3.0, 3.0).Draw(t, "sum")
		out := mixSample(sum, n)
		assert.LessOrEqual(t, out, float32(0.9995))
		assert.GreaterOrEqual(t, out, float32(-0.9995))
	})
}
