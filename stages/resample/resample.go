// Package resample provides a linear-interpolation sample-rate converter
// stage for 16-bit signed mono audio. No pure-Go resampling library was
// available to wire in (see DESIGN.md); this keeps a simple, effective
// interpolation approach suitable for speech-bandwidth audio rather than
// a polyphase or windowed-sinc filter.
package resample

import (
	"encoding/binary"

	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// Stage resamples a stream of S16 elements from FromRate to ToRate.
type Stage struct {
	FromRate int
	ToRate   int

	carry int16
	have  bool
}

// Init declares both sides as S16; resampling changes element rate, not
// element type.
func (p *Stage) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	return sample.S16, sample.S16, nil
}

// Run reads S16 samples, resamples each chunk against one carried-over
// trailing sample for continuity across chunk boundaries, and writes the
// result downstream.
func (p *Stage) Run(st *stage.Stage) error {
	in, out := st.Input(), st.Output()
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
		if p.have {
			samples = append([]int16{p.carry}, samples...)
		}
		p.carry = samples[len(samples)-1]
		p.have = true

		resampled := resampleLinear(samples, p.FromRate, p.ToRate)
		outBytes := s16ToBytes(resampled)

		off := 0
		for off < len(resampled) {
			w := out.BlockingWrite(outBytes[off*elemSize:], len(resampled)-off, st.Cancelled)
			if w == 0 {
				return nil
			}
			off += w
		}
		st.AddProcessed(uint64(n))
	}
}

// Free releases nothing; Stage acquires no external resource.
func (p *Stage) Free(st *stage.Stage) error { return nil }

func bytesToS16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func s16ToBytes(s []int16) []byte {
	out := make([]byte, len(s)*2)
	for i, v := range s {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// resampleLinear resamples input from fromRate to toRate using linear
// interpolation between adjacent samples.
func resampleLinear(input []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(input) == 0 {
		return input
	}

	ratio := float64(fromRate) / float64(toRate)
	outputLength := int(float64(len(input)) / ratio)
	output := make([]int16, outputLength)

	for i := 0; i < outputLength; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)

		if srcIdx >= len(input)-1 {
			output[i] = input[len(input)-1]
			continue
		}

		fraction := srcPos - float64(srcIdx)
		s1 := float64(input[srcIdx])
		s2 := float64(input[srcIdx+1])
		output[i] = int16(s1 + (s2-s1)*fraction)
	}

	return output
}
