// Package audio provides PortAudio-backed capture and playback stage
// payloads for 16-bit signed mono audio, adapted from a callback-driven
// recorder/player onto the blocking ring-buffer model the rest of this
// module's stages use: the PortAudio callback pushes or pulls directly
// against a stage's ring buffer instead of an intermediate streaming
// buffer plus a handler interface.
package audio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

const framesPerBuffer = 1024

// Capture reads from the default (or SampleRate/Channels matching) input
// device and writes S16 samples to its output.
type Capture struct {
	SampleRate int
	Channels   int

	stream  *portaudio.Stream
	stopped int32
}

// Init initializes PortAudio and opens an input stream at SampleRate.
// There is no input side: Capture is a pure producer.
func (c *Capture) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	if err := portaudio.Initialize(); err != nil {
		return sample.Invalid, sample.Invalid, fmt.Errorf("audio: portaudio init: %w", err)
	}

	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	var pending []int16
	callback := func(in []int16) {
		if atomic.LoadInt32(&c.stopped) == 1 {
			return
		}
		pending = in
		buf := s16ToBytes(pending)
		st.Output().BlockingWrite(buf, len(pending), st.Cancelled)
		st.AddProcessed(uint64(len(pending)))
	}

	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(c.SampleRate), framesPerBuffer, callback)
	if err != nil {
		portaudio.Terminate()
		return sample.Invalid, sample.Invalid, fmt.Errorf("audio: open input stream: %w", err)
	}
	c.stream = stream

	return sample.Invalid, sample.S16, nil
}

// Run starts the stream and blocks until cancellation; PortAudio delivers
// samples to the output ring through the callback registered in Init.
func (c *Capture) Run(st *stage.Stage) error {
	if err := c.stream.Start(); err != nil {
		return fmt.Errorf("audio: start capture: %w", err)
	}
	for !st.Cancelled() {
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

// Free stops the stream, closes it, and terminates PortAudio.
func (c *Capture) Free(st *stage.Stage) error {
	atomic.StoreInt32(&c.stopped, 1)
	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	return portaudio.Terminate()
}

// Playback reads S16 samples from its input and writes them to the
// default output device.
type Playback struct {
	SampleRate int
	Channels   int

	stream *portaudio.Stream
}

// Init initializes PortAudio and opens an output stream at SampleRate.
// There is no output side: Playback is a pure consumer.
func (p *Playback) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	if err := portaudio.Initialize(); err != nil {
		return sample.Invalid, sample.Invalid, fmt.Errorf("audio: portaudio init: %w", err)
	}

	channels := p.Channels
	if channels <= 0 {
		channels = 1
	}

	callback := func(out []int16) {
		buf := make([]byte, len(out)*2)
		n := st.Input().BlockingRead(buf, len(out), st.Cancelled)
		samples := bytesToS16(buf[:n*2])
		copy(out, samples)
		for i := len(samples); i < len(out); i++ {
			out[i] = 0
		}
		st.AddProcessed(uint64(len(samples)))
	}

	stream, err := portaudio.OpenDefaultStream(0, channels, float64(p.SampleRate), framesPerBuffer, callback)
	if err != nil {
		portaudio.Terminate()
		return sample.Invalid, sample.Invalid, fmt.Errorf("audio: open output stream: %w", err)
	}
	p.stream = stream

	return sample.S16, sample.Invalid, nil
}

// Run starts the stream and blocks until end-of-stream or cancellation.
func (p *Playback) Run(st *stage.Stage) error {
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("audio: start playback: %w", err)
	}
	in := st.Input()
	for in.IsAlive() && !st.Cancelled() {
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

// Free stops the stream, closes it, and terminates PortAudio.
func (p *Playback) Free(st *stage.Stage) error {
	if p.stream != nil {
		p.stream.Stop()
		p.stream.Close()
	}
	return portaudio.Terminate()
}

func s16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func bytesToS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}
