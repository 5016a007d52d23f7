package resample

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResampleLinearDownsample(t *testing.T) {
	input := []int16{0, 100, 200, 300, 400, 500, 600, 700}
	out := resampleLinear(input, 8000, 4000)
	assert.Len(t, out, 4)
	assert.Equal(t, int16(0), out[0])
}

func TestResampleLinearSameRateIsNoop(t *testing.T) {
	input := []int16{1, 2, 3}
	out := resampleLinear(input, 16000, 16000)
	assert.Equal(t, input, out)
}

func TestS16ByteRoundTrip(t *testing.T) {
	input := []int16{-32768, -1, 0, 1, 32767}
	assert.Equal(t, input, bytesToS16(s16ToBytes(input)))
}
