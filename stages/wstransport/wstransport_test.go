package wstransport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

type memSource struct {
	data []byte
	tag  sample.Tag
}

func (p *memSource) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	return sample.Invalid, p.tag, nil
}

func (p *memSource) Run(st *stage.Stage) error {
	out := st.Output()
	n := out.BlockingWrite(p.data, len(p.data), st.Cancelled)
	st.AddProcessed(uint64(n))
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
	buf := make([]byte, 64)
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

// TestSendToEchoServer drives a Send payload against a server that echoes
// every binary frame back, confirming frames flow out correctly.
func TestSendToEchoServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan []byte, 4)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				received <- append([]byte(nil), data...)
			}
		}
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	dialer := &Dialer{URL: url}

	srcStage := stage.New(stage.Config{Name: "src", Capacity: 32, ChunkSize: 8})
	sendStage := stage.New(stage.Config{Name: "send", Capacity: 32, ChunkSize: 8})

	data := []byte{1, 2, 3, 4}
	require.NoError(t, srcStage.Setup(&memSource{data: data, tag: sample.U8}))
	require.NoError(t, sendStage.Setup(dialer.Send(sample.U8)))
	require.NoError(t, sendStage.BindInput(srcStage))

	require.NoError(t, srcStage.Start())
	require.NoError(t, sendStage.Start())
	srcStage.Join()
	sendStage.Join()

	require.NoError(t, srcStage.Cleanup())
	require.NoError(t, sendStage.Cleanup())

	select {
	case got := <-received:
		assert.Equal(t, data, got)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the frame")
	}
}

// TestRecvStopsOnShutdown confirms a Recv blocked inside ReadMessage on a
// connection that never sends anything still returns once the stage is
// asked to end, instead of hanging on the peer forever.
func TestRecvStopsOnShutdown(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverUp := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		close(serverUp)
		// Hold the connection open without sending anything; Recv has
		// nothing to read until the test tears the stage down.
		<-r.Context().Done()
		conn.Close()
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")

	dialer := &Dialer{URL: url, ReadTimeout: 20 * time.Millisecond, PingInterval: 10 * time.Millisecond}

	recvStage := stage.New(stage.Config{Name: "recv", Capacity: 32, ChunkSize: 8})
	sinkStage := stage.New(stage.Config{Name: "sink", Capacity: 32, ChunkSize: 8})

	sinkPayload := &memSink{tag: sample.U8}
	require.NoError(t, recvStage.Setup(dialer.Recv(sample.U8)))
	require.NoError(t, sinkStage.Setup(sinkPayload))
	require.NoError(t, sinkStage.BindInput(recvStage))

	require.NoError(t, sinkStage.Start())
	require.NoError(t, recvStage.Start())

	select {
	case <-serverUp:
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted the connection")
	}

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
}
