// Package wav provides WAV encode/decode stage payloads for 16-bit
// signed mono/stereo PCM, built on go-audio/wav and go-audio/riff rather
// than a hand-rolled header writer.
package wav

import (
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// Encoder drains S16 samples from its input and writes a WAV file to the
// destination writer. wav.NewEncoder needs Seek to patch the RIFF/data
// chunk sizes once the total length is known, so Dest must support it —
// an *os.File does, and the tests use one.
type Encoder struct {
	Dest       interface {
		io.Writer
		io.Seeker
	}
	SampleRate int
	Channels   int

	enc *wav.Encoder
}

// Init constructs the underlying wav.Encoder. There is no output side:
// Encoder is a pure consumer.
func (e *Encoder) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	channels := e.Channels
	if channels <= 0 {
		channels = 1
	}
	e.enc = wav.NewEncoder(e.Dest, e.SampleRate, 16, channels, 1)
	return sample.S16, sample.Invalid, nil
}

// Run reads S16 samples from the input ring and feeds them to the WAV
// encoder until end-of-stream or cancellation.
func (e *Encoder) Run(st *stage.Stage) error {
	in := st.Input()
	elemSize := sample.S16.Size()
	chunkElems := st.ChunkSize()
	if chunkElems <= 0 {
		chunkElems = 256
	}
	buf := make([]byte, chunkElems*elemSize)

	for {
		n := in.BlockingRead(buf, chunkElems, st.Cancelled)
		if n == 0 && !in.IsAlive() {
			return nil
		}
		if n == 0 {
			continue
		}

		samples := bytesToS16(buf[:n*elemSize])
		intBuf := &audio.IntBuffer{
			Format:         &audio.Format{SampleRate: e.SampleRate, NumChannels: maxInt(e.Channels, 1)},
			SourceBitDepth: 16,
			Data:           make([]int, len(samples)),
		}
		for i, s := range samples {
			intBuf.Data[i] = int(s)
		}
		if err := e.enc.Write(intBuf); err != nil {
			return fmt.Errorf("wav: encode: %w", err)
		}
		st.AddProcessed(uint64(len(samples)))
	}
}

// Free flushes and finalizes the WAV header (go-audio/wav writes a
// placeholder size up front and fixes it up on Close).
func (e *Encoder) Free(st *stage.Stage) error {
	if e.enc == nil {
		return nil
	}
	return e.enc.Close()
}

// Decoder reads a WAV file from a source reader and writes its S16
// samples to its output.
type Decoder struct {
	Src interface {
		io.Reader
		io.Seeker
	}

	dec *wav.Decoder
	buf *audio.IntBuffer
}

// Init parses the WAV header. There is no input side: Decoder is a pure
// producer.
func (d *Decoder) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	d.dec = wav.NewDecoder(d.Src)
	if !d.dec.IsValidFile() {
		return sample.Invalid, sample.Invalid, fmt.Errorf("wav: not a valid WAV file")
	}
	d.buf = &audio.IntBuffer{Data: make([]int, 4096)}
	return sample.Invalid, sample.S16, nil
}

// Run decodes PCM frames and writes them to the output ring until EOF.
// PCMBuffer resizes buf.Data to the number of samples actually read on
// each call; an empty result marks end of file.
func (d *Decoder) Run(st *stage.Stage) error {
	out := st.Output()
	for {
		if st.Cancelled() {
			return nil
		}
		if err := d.dec.PCMBuffer(d.buf); err != nil {
			return fmt.Errorf("wav: decode: %w", err)
		}
		n := len(d.buf.Data)
		if n == 0 {
			return nil
		}

		samples := make([]int16, n)
		for i := 0; i < n; i++ {
			samples[i] = int16(d.buf.Data[i])
		}
		data := s16ToBytes(samples)

		off := 0
		for off < n {
			w := out.BlockingWrite(data[off*sample.S16.Size():], n-off, st.Cancelled)
			if w == 0 {
				return nil
			}
			off += w
		}
		st.AddProcessed(uint64(n))
	}
}

// Free releases nothing beyond what the caller-owned Src holds.
func (d *Decoder) Free(st *stage.Stage) error { return nil }

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func bytesToS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}

func s16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
