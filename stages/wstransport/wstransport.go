// Package wstransport provides WebSocket transport stage payloads,
// carrying binary element frames over a gorilla/websocket connection
// rather than the JSON chat protocol this stage's connection handling was
// adapted from.
package wstransport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/convertino-dsp/dspnode/internal/config"
	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// Dialer connects out to a WebSocket URL and shares the resulting
// connection between its Send and Recv payloads.
type Dialer struct {
	URL string

	// ReadTimeout bounds each Recv.conn.ReadMessage call; see Recv.Run.
	// PingInterval is how often Recv.Run's ping goroutine nudges the
	// peer to keep the connection from idling out. Both default to
	// config.DefaultNetworkConfig() when zero.
	ReadTimeout  time.Duration
	PingInterval time.Duration

	conn    *websocket.Conn
	writeMu sync.Mutex
}

// dial is idempotent across the pair of payloads constructed from it.
func (d *Dialer) dial() error {
	if d.conn != nil {
		return nil
	}
	if d.ReadTimeout <= 0 || d.PingInterval <= 0 {
		defaults := config.DefaultNetworkConfig()
		if d.ReadTimeout <= 0 {
			d.ReadTimeout = defaults.ReadTimeout
		}
		if d.PingInterval <= 0 {
			d.PingInterval = defaults.PingInterval
		}
	}
	conn, _, err := websocket.DefaultDialer.Dial(d.URL, nil)
	if err != nil {
		return fmt.Errorf("wstransport: dial %s: %w", d.URL, err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(d.ReadTimeout))
	})
	d.conn = conn
	return nil
}

// writeMessage serializes writes across Send and the ping goroutine;
// gorilla/websocket connections support at most one writer at a time.
func (d *Dialer) writeMessage(kind int, data []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.conn.SetWriteDeadline(time.Now().Add(d.ReadTimeout)); err != nil {
		return err
	}
	return d.conn.WriteMessage(kind, data)
}

// Send returns a payload writing binary frames from its input to this
// dialer's connection.
func (d *Dialer) Send(tag sample.Tag) *Send { return &Send{dialer: d, tag: tag} }

// Recv returns a payload writing this dialer's connection's binary frames
// to its output.
func (d *Dialer) Recv(tag sample.Tag) *Recv { return &Recv{dialer: d, tag: tag} }

// Send drains its input and writes each chunk as one binary WebSocket
// frame.
type Send struct {
	tag    sample.Tag
	dialer *Dialer
}

// Init establishes the connection (shared with any paired Recv).
func (p *Send) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	if err := p.dialer.dial(); err != nil {
		return sample.Invalid, sample.Invalid, err
	}
	return p.tag, sample.Invalid, nil
}

// Run reads from the input ring and writes one binary frame per chunk
// read, until end-of-stream, cancellation, or a write error.
func (p *Send) Run(st *stage.Stage) error {
	in := st.Input()
	elemSize := in.ElementSize()
	buf := make([]byte, st.ChunkSize()*elemSize)
	if len(buf) == 0 {
		buf = make([]byte, 1024)
	}
	for {
		n := in.BlockingRead(buf, len(buf)/elemSize, st.Cancelled)
		if n == 0 && !in.IsAlive() {
			return nil
		}
		if n > 0 {
			if err := p.dialer.writeMessage(websocket.BinaryMessage, buf[:n*elemSize]); err != nil {
				return fmt.Errorf("wstransport: send: %w", err)
			}
			st.AddProcessed(uint64(n))
		}
	}
}

// Free closes the underlying connection.
func (p *Send) Free(st *stage.Stage) error {
	if p.dialer.conn == nil {
		return nil
	}
	return p.dialer.conn.Close()
}

// Recv reads binary WebSocket frames and writes their contents to its
// output.
type Recv struct {
	tag    sample.Tag
	dialer *Dialer
}

// Init establishes the connection (shared with any paired Send).
func (p *Recv) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	if err := p.dialer.dial(); err != nil {
		return sample.Invalid, sample.Invalid, err
	}
	return sample.Invalid, p.tag, nil
}

// Run reads binary frames and writes their payload to the output ring
// until the connection closes, cancellation, or a read error. Each
// ReadMessage is bounded by the dialer's ReadTimeout, refreshed on every
// pong, so an idle connection's deadline expiring mid-read isn't treated
// as a connection error; it's the loop's cue to re-check st.Cancelled()
// before rolling the deadline forward and reading again. A ping
// goroutine keeps the peer from seeing the connection go quiet and
// closing it first. Bytes at the end of a frame that do not fill a whole
// element are not written.
func (p *Recv) Run(st *stage.Stage) error {
	out := st.Output()
	elemSize := out.ElementSize()
	conn := p.dialer.conn

	pingDone := make(chan struct{})
	defer close(pingDone)
	go p.pingLoop(pingDone)

	for {
		if st.Cancelled() {
			return nil
		}
		if err := conn.SetReadDeadline(time.Now().Add(p.dialer.ReadTimeout)); err != nil {
			return fmt.Errorf("wstransport: set read deadline: %w", err)
		}
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil
		}
		if kind != websocket.BinaryMessage || len(data) == 0 {
			continue
		}
		elems := len(data) / elemSize
		off := 0
		for off < elems {
			w := out.BlockingWrite(data[off*elemSize:], elems-off, st.Cancelled)
			if w == 0 {
				return nil
			}
			off += w
		}
		st.AddProcessed(uint64(elems))
	}
}

// pingLoop sends a ping frame on dialer.PingInterval until done is closed
// or a write fails, the way the connection this transport was adapted
// from keeps an idle link alive between chat turns.
func (p *Recv) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(p.dialer.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := p.dialer.writeMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Free does nothing further; Send.Free on the same connection handles
// close.
func (p *Recv) Free(st *stage.Stage) error { return nil }
