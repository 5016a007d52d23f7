package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

type passthroughSource struct {
	data []byte
	tag  sample.Tag
}

func (p *passthroughSource) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	return sample.Invalid, p.tag, nil
}

func (p *passthroughSource) Run(st *stage.Stage) error {
	out := st.Output()
	off := 0
	for off < len(p.data) {
		n := out.BlockingWrite(p.data[off:], len(p.data)-off, st.Cancelled)
		if n == 0 {
			break
		}
		off += n
		st.AddProcessed(uint64(n))
	}
	return nil
}

func (p *passthroughSource) Free(st *stage.Stage) error { return nil }

type collectSink struct {
	tag      sample.Tag
	received []byte
}

func (p *collectSink) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	return p.tag, sample.Invalid, nil
}

func (p *collectSink) Run(st *stage.Stage) error {
	in := st.Input()
	buf := make([]byte, 16)
	for {
		n := in.BlockingRead(buf, len(buf), st.Cancelled)
		if n == 0 && !in.IsAlive() {
			return nil
		}
		p.received = append(p.received, buf[:n]...)
		st.AddProcessed(uint64(n))
	}
}

func (p *collectSink) Free(st *stage.Stage) error { return nil }

func TestGraphWiresStartsJoinsCleansUp(t *testing.T) {
	src := stage.New(stage.Config{Name: "src", Capacity: 32, ChunkSize: 8})
	sink := stage.New(stage.Config{Name: "sink", Capacity: 32, ChunkSize: 8})

	srcPayload := &passthroughSource{data: []byte{1, 2, 3, 4, 5}, tag: sample.U8}
	sinkPayload := &collectSink{tag: sample.U8}

	require.NoError(t, src.Setup(srcPayload))
	require.NoError(t, sink.Setup(sinkPayload))

	g := New().Add(src).Add(sink).Bind(sink, src)

	require.NoError(t, g.Wire())
	require.NoError(t, g.Start())
	g.Join()

	assert.Equal(t, []byte{1, 2, 3, 4, 5}, sinkPayload.received)
	assert.NoError(t, g.Cleanup())
}

func TestGraphWireFailsOnUnknownProducer(t *testing.T) {
	src := stage.New(stage.Config{Name: "src", Capacity: 8, ChunkSize: 4})
	sink := stage.New(stage.Config{Name: "sink", Capacity: 8, ChunkSize: 4})
	require.NoError(t, src.Setup(&passthroughSource{data: []byte{1}, tag: sample.U8}))
	require.NoError(t, sink.Setup(&collectSink{tag: sample.U8}))

	g := New().Add(sink).Bind(sink, src) // src never added
	assert.Error(t, g.Wire())
}
