// Package tcp provides TCP transport stage payloads for a single point-
// to-point connection: a Dialer that connects out, and a Listener that
// accepts one inbound connection. Each side exposes separate Send and
// Recv payloads, since a stage moves data in one direction at a time;
// wire a Send payload to an input-bound stage and a Recv payload to an
// output-bound one to get a full-duplex link.
//
// The accept/connect-once shape and the single shared net.Conn handed to
// both directions follows the "single connection only" transport this
// package's upstream protocol target uses, rather than pooling or
// multiplexing connections.
package tcp

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/convertino-dsp/dspnode/internal/config"
	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// connHolder lets a Dialer or Listener hand the same net.Conn to both a
// Send and a Recv payload without either side racing the other's Init.
type connHolder struct {
	mu   sync.Mutex
	cond *sync.Cond
	conn net.Conn
	err  error
	done bool
}

func newConnHolder() *connHolder {
	h := &connHolder{}
	h.cond = sync.NewCond(&h.mu)
	return h
}

func (h *connHolder) set(c net.Conn, err error) {
	h.mu.Lock()
	h.conn, h.err, h.done = c, err, true
	h.cond.Broadcast()
	h.mu.Unlock()
}

func (h *connHolder) get() (net.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for !h.done {
		h.cond.Wait()
	}
	return h.conn, h.err
}

// Dialer connects out to Address the first time one of its payloads is
// initialized and shares the resulting connection between its Send and
// Recv payloads.
type Dialer struct {
	Address string
	Timeout time.Duration

	// ReadTimeout bounds each individual Recv.conn.Read call. Recv rolls
	// the read deadline forward every iteration so a read timeout isn't
	// treated as a connection error; it just gives the loop a chance to
	// re-check st.Cancelled() instead of blocking past shutdown. Defaults
	// to config.DefaultNetworkConfig().ReadTimeout when zero.
	ReadTimeout time.Duration

	holder *connHolder
	once   sync.Once
}

// NewDialer returns a Dialer targeting address. Dial happens lazily, the
// first time either Send or Recv is initialized, and the result is shared.
func NewDialer(address string, timeout time.Duration) *Dialer {
	return &Dialer{
		Address:     address,
		Timeout:     timeout,
		ReadTimeout: config.DefaultNetworkConfig().ReadTimeout,
		holder:      newConnHolder(),
	}
}

func (d *Dialer) dial() {
	d.once.Do(func() {
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		conn, err := net.DialTimeout("tcp", d.Address, timeout)
		if err != nil {
			d.holder.set(nil, fmt.Errorf("tcp: dial %s: %w", d.Address, err))
			return
		}
		d.holder.set(conn, nil)
	})
}

// Send returns a payload that writes its input to this dialer's connection.
func (d *Dialer) Send(tag sample.Tag) *Send { return &Send{holder: d.holder, tag: tag, dial: d.dial} }

// Recv returns a payload that writes this dialer's connection contents to
// its output.
func (d *Dialer) Recv(tag sample.Tag) *Recv {
	return &Recv{holder: d.holder, tag: tag, dial: d.dial, readTimeout: d.ReadTimeout}
}

// Listener accepts exactly one inbound connection on Address and shares it
// between its Send and Recv payloads.
type Listener struct {
	Address string

	// ReadTimeout bounds each individual Recv.conn.Read call; see the
	// field of the same name on Dialer.
	ReadTimeout time.Duration

	holder *connHolder
	ln     net.Listener
	once   sync.Once
}

// NewListener returns a Listener bound to address. The socket is opened
// and the first connection accepted lazily, the first time either Send
// or Recv is initialized.
func NewListener(address string) *Listener {
	return &Listener{
		Address:     address,
		ReadTimeout: config.DefaultNetworkConfig().ReadTimeout,
		holder:      newConnHolder(),
	}
}

func (l *Listener) accept() {
	l.once.Do(func() {
		ln, err := net.Listen("tcp", l.Address)
		if err != nil {
			l.holder.set(nil, fmt.Errorf("tcp: listen %s: %w", l.Address, err))
			return
		}
		l.ln = ln
		conn, err := ln.Accept()
		if err != nil {
			l.holder.set(nil, fmt.Errorf("tcp: accept on %s: %w", l.Address, err))
			return
		}
		l.holder.set(conn, nil)
	})
}

// Send returns a payload that writes its input to the accepted connection.
func (l *Listener) Send(tag sample.Tag) *Send {
	return &Send{holder: l.holder, tag: tag, dial: l.accept}
}

// Recv returns a payload that writes the accepted connection's contents
// to its output.
func (l *Listener) Recv(tag sample.Tag) *Recv {
	return &Recv{holder: l.holder, tag: tag, dial: l.accept, readTimeout: l.ReadTimeout}
}

// Close releases the listening socket, if one was opened. Does not close
// the accepted connection; whichever of Send's or Recv's Free runs first
// does that.
func (l *Listener) Close() error {
	if l.ln == nil {
		return nil
	}
	return l.ln.Close()
}

// Send drains its bound input and writes every byte read to a shared TCP
// connection.
type Send struct {
	tag    sample.Tag
	holder *connHolder
	dial   func()

	conn net.Conn
}

// Init triggers the connect/accept (once, shared with any paired Recv)
// and blocks until it completes.
func (p *Send) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	p.dial()
	conn, err := p.holder.get()
	if err != nil {
		return sample.Invalid, sample.Invalid, err
	}
	p.conn = conn
	return p.tag, sample.Invalid, nil
}

// Run reads from the input ring and writes to the connection until end of
// stream, cancellation, or a write error.
func (p *Send) Run(st *stage.Stage) error {
	in := st.Input()
	elemSize := in.ElementSize()
	buf := make([]byte, st.ChunkSize()*elemSize)
	if len(buf) == 0 {
		buf = make([]byte, 256)
	}
	for {
		n := in.BlockingRead(buf, len(buf)/elemSize, st.Cancelled)
		if n == 0 && !in.IsAlive() {
			return nil
		}
		if n > 0 {
			nb := n * elemSize
			off := 0
			for off < nb {
				w, err := p.conn.Write(buf[off:nb])
				if err != nil {
					return fmt.Errorf("tcp: send: %w", err)
				}
				off += w
			}
			st.AddProcessed(uint64(n))
		}
	}
}

// Free closes the shared connection. Safe to call from both the Send and
// Recv side of the same link; closing twice is harmless, and Free
// discards the result of Close.
func (p *Send) Free(st *stage.Stage) error {
	if p.conn == nil {
		return nil
	}
	p.conn.Close()
	return nil
}

// Recv reads from a shared TCP connection and writes everything it reads
// to its output.
type Recv struct {
	tag    sample.Tag
	holder *connHolder
	dial   func()

	readTimeout time.Duration
	conn        net.Conn
}

// Init triggers the connect/accept (once, shared with any paired Send)
// and blocks until it completes.
func (p *Recv) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	p.dial()
	conn, err := p.holder.get()
	if err != nil {
		return sample.Invalid, sample.Invalid, err
	}
	p.conn = conn
	if p.readTimeout <= 0 {
		p.readTimeout = config.DefaultNetworkConfig().ReadTimeout
	}
	return sample.Invalid, p.tag, nil
}

// Run reads from the connection and writes to the output ring until the
// connection closes, cancellation, or a read error. Each Read is bounded
// by readTimeout; a deadline expiring mid-read isn't a connection error,
// it's just the loop's cue to re-check st.Cancelled() before rolling the
// deadline forward and reading again, so shutdown is noticed promptly
// even when the peer never sends anything and never closes. Bytes that do
// not yet fill a whole element are held until the next Read completes it.
func (p *Recv) Run(st *stage.Stage) error {
	out := st.Output()
	elemSize := out.ElementSize()
	buf := make([]byte, st.ChunkSize()*elemSize)
	if len(buf) == 0 {
		buf = make([]byte, 256)
	}
	have := 0
	for {
		if st.Cancelled() {
			return nil
		}
		if err := p.conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
			return fmt.Errorf("tcp: set read deadline: %w", err)
		}
		n, err := p.conn.Read(buf[have:])
		have += n
		if elems := have / elemSize; elems > 0 {
			off := 0
			for off < elems {
				w := out.BlockingWrite(buf[off*elemSize:elems*elemSize], elems-off, st.Cancelled)
				if w == 0 {
					return nil
				}
				off += w
			}
			st.AddProcessed(uint64(elems))
			have = copy(buf, buf[elems*elemSize:have])
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return nil
		}
	}
}

// Free closes the shared connection. Safe to call from both the Send and
// Recv side of the same link; net.Conn.Close tolerates a double close by
// returning an error the second time, which Free discards.
func (p *Recv) Free(st *stage.Stage) error {
	if p.conn == nil {
		return nil
	}
	p.conn.Close()
	return nil
}
