// Package audio streams real-time PCM output through oto, pulling samples
// from a caller-supplied callback on a dedicated goroutine and converting
// them from float32 to signed 16-bit little-endian for the backend.
package audio

import (
	"fmt"
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

var (
	globalMu      sync.Mutex
	globalContext *oto.Context
)

const channels = 1

// Output is a streaming mono audio sink backed by oto.
type Output struct {
	player *oto.Player
	writer *io.PipeWriter
	reader *io.PipeReader

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// Open starts streaming audio at sampleRate, pulling chunkSize samples at a
// time from fill and writing them to the audio backend until Close is
// called. fill is called from the streaming goroutine only; callers (e.g.
// internal/player.Player.FillBuffer) must be safe to call repeatedly from a
// single dedicated thread.
func Open(sampleRate, chunkSize int, fill func(buffer []float32)) (*Output, error) {
	out := &Output{}

	out.reader, out.writer = io.Pipe()

	context, err := sharedContext(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("audio: failed to create oto context: %w", err)
	}

	out.player = context.NewPlayer(out.reader)

	out.wg.Add(1)
	go func() {
		defer out.wg.Done()
		out.player.Play()
	}()

	out.wg.Add(1)
	go out.pump(chunkSize, fill)

	return out, nil
}

func sharedContext(sampleRate int) (*oto.Context, error) {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalContext != nil {
		return globalContext, nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}
	context, ready, err := oto.NewContext(op)
	if err != nil {
		return nil, err
	}
	<-ready
	globalContext = context
	return context, nil
}

// pump repeatedly calls fill and writes the converted samples to the pipe
// until the Output is closed.
func (o *Output) pump(chunkSize int, fill func(buffer []float32)) {
	defer o.wg.Done()

	buffer := make([]float32, chunkSize)
	pcm := make([]byte, chunkSize*2)

	for {
		o.mu.Lock()
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return
		}

		fill(buffer)
		encodeInt16LE(buffer, pcm)

		if _, err := o.writer.Write(pcm); err != nil {
			return
		}
	}
}

// encodeInt16LE converts float32 samples in [-1, 1] to little-endian signed
// 16-bit PCM bytes.
func encodeInt16LE(samples []float32, out []byte) {
	for i, s := range samples {
		v := int32(s * 32767.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
}

// Close stops streaming and releases the backend player. Calls after the
// first are no-ops.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	if o.writer != nil {
		o.writer.Close()
	}
	if o.player != nil {
		o.player.Close()
	}
	if o.reader != nil {
		o.reader.Close()
	}
	o.wg.Wait()
	return nil
}
