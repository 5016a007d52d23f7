package tcp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// memSource and memSink mirror the minimal in-memory payloads used across
// the stage packages' own tests.
type memSource struct {
	data []byte
	tag  sample.Tag
}

func (p *memSource) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	return sample.Invalid, p.tag, nil
}

func (p *memSource) Run(st *stage.Stage) error {
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

func (p *memSource) Free(st *stage.Stage) error { return nil }

type memSink struct {
	tag      sample.Tag
	received []byte
}

func (p *memSink) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	return p.tag, sample.Invalid, nil
}

func (p *memSink) Run(st *stage.Stage) error {
	in := st.Input()
	buf := make([]byte, 32)
	for {
		n := in.BlockingRead(buf, len(buf), st.Cancelled)
		if n == 0 && !in.IsAlive() {
			return nil
		}
		p.received = append(p.received, buf[:n]...)
		st.AddProcessed(uint64(n))
	}
}

func (p *memSink) Free(st *stage.Stage) error { return nil }

func TestClientServerRoundTrip(t *testing.T) {
	const addr = "127.0.0.1:18181"

	ln := NewListener(addr)
	dialer := NewDialer(addr, 2*time.Second)

	srcStage := stage.New(stage.Config{Name: "src", Capacity: 32, ChunkSize: 8})
	sendStage := stage.New(stage.Config{Name: "send", Capacity: 32, ChunkSize: 8})
	recvStage := stage.New(stage.Config{Name: "recv", Capacity: 32, ChunkSize: 8})
	sinkStage := stage.New(stage.Config{Name: "sink", Capacity: 32, ChunkSize: 8})

	data := []byte{9, 8, 7, 6, 5, 4, 3, 2, 1}

	require.NoError(t, srcStage.Setup(&memSource{data: data, tag: sample.U8}))

	// Recv's Init opens the listening socket and then blocks in Accept
	// until the dialer connects, so it runs on its own goroutine while the
	// dialing side is set up.
	recvSetup := make(chan error, 1)
	go func() { recvSetup <- recvStage.Setup(ln.Recv(sample.U8)) }()
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, sendStage.Setup(dialer.Send(sample.U8)))
	require.NoError(t, sendStage.BindInput(srcStage))

	sinkPayload := &memSink{tag: sample.U8}
	require.NoError(t, <-recvSetup)
	require.NoError(t, sinkStage.Setup(sinkPayload))
	require.NoError(t, sinkStage.BindInput(recvStage))

	require.NoError(t, recvStage.Start())
	require.NoError(t, sinkStage.Start())
	require.NoError(t, srcStage.Start())
	require.NoError(t, sendStage.Start())

	srcStage.Join()
	sendStage.Join()

	// Give the receiving side time to drain the connection before we tear
	// it down; Send.Free below closes the shared connection, which is
	// Recv's normal end-of-stream signal here (TestRecvStopsOnShutdown
	// covers the no-data, shutdown-driven termination path instead).
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, sendStage.Cleanup())

	recvStage.Join()
	sinkStage.Join()

	assert.Equal(t, data, sinkPayload.received)

	require.NoError(t, srcStage.Cleanup())
	require.NoError(t, recvStage.Cleanup())
	require.NoError(t, sinkStage.Cleanup())
	require.NoError(t, ln.Close())
}

// TestRecvStopsOnShutdown confirms a Recv blocked on a connection with no
// pending data returns once the stage is asked to end, rather than
// hanging until the peer sends something or closes.
func TestRecvStopsOnShutdown(t *testing.T) {
	const addr = "127.0.0.1:18182"

	ln := NewListener(addr)
	ln.ReadTimeout = 20 * time.Millisecond

	recvStage := stage.New(stage.Config{Name: "recv", Capacity: 32, ChunkSize: 8})
	sinkStage := stage.New(stage.Config{Name: "sink", Capacity: 32, ChunkSize: 8})

	// Connect but never send anything, so the listener's accept completes
	// and Recv ends up with a live connection with nothing to read.
	go func() {
		time.Sleep(50 * time.Millisecond) // let Recv's Init open the listening socket first
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			defer conn.Close()
		}
		time.Sleep(200 * time.Millisecond)
	}()

	sinkPayload := &memSink{tag: sample.U8}
	require.NoError(t, recvStage.Setup(ln.Recv(sample.U8)))
	require.NoError(t, sinkStage.Setup(sinkPayload))
	require.NoError(t, sinkStage.BindInput(recvStage))

	require.NoError(t, sinkStage.Start())
	require.NoError(t, recvStage.Start())

	recvStage.EndRequest()

	done := make(chan struct{})
	go func() {
		recvStage.Join()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Recv.Run did not return after EndRequest")
	}

	sinkStage.EndRequest()
	sinkStage.Join()

	require.NoError(t, recvStage.Cleanup())
	require.NoError(t, sinkStage.Cleanup())
	require.NoError(t, ln.Close())
}
