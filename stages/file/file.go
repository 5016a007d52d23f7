// Package file provides source and sink stage payloads that read a
// pipeline's output from, or write its input to, a plain file on disk.
package file

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/convertino-dsp/dspnode/pkg/sample"
	"github.com/convertino-dsp/dspnode/pkg/stage"
)

// IOMethod selects how a Writer opens its file.
type IOMethod int

const (
	// Append opens an existing file for writing at its end, creating it
	// if it does not exist. Existing contents are preserved.
	Append IOMethod = iota
	// Overwrite truncates an existing file before writing, or creates it.
	Overwrite
)

// Reader streams a file's contents to its output, tagged with a caller-
// supplied element type, and ends its output at EOF.
type Reader struct {
	Path string
	Tag  sample.Tag

	f *os.File
	r *bufio.Reader
}

// Init opens Path for reading. There is no input side: Reader is a pure
// producer.
func (p *Reader) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return sample.Invalid, sample.Invalid, fmt.Errorf("file: open %s: %w", p.Path, err)
	}
	p.f = f
	p.r = bufio.NewReader(f)
	return sample.Invalid, p.Tag, nil
}

// Run reads Path in chunks of ChunkSize elements and writes each to the
// output ring until EOF, cancellation, or a read error. A trailing
// partial element at EOF is not written.
func (p *Reader) Run(st *stage.Stage) error {
	out := st.Output()
	elemSize := out.ElementSize()
	chunkElems := st.ChunkSize()
	if chunkElems <= 0 {
		chunkElems = 1
	}
	buf := make([]byte, chunkElems*elemSize)

	for {
		if st.Cancelled() {
			return nil
		}
		n, err := io.ReadFull(p.r, buf)
		elems := n / elemSize
		if elems > 0 {
			off := 0
			for off < elems {
				w := out.BlockingWrite(buf[off*elemSize:elems*elemSize], elems-off, st.Cancelled)
				if w == 0 {
					return nil
				}
				off += w
			}
			st.AddProcessed(uint64(elems))
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return fmt.Errorf("file: read %s: %w", p.Path, err)
		}
	}
}

// Free closes the underlying file.
func (p *Reader) Free(st *stage.Stage) error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}

// Writer drains its bound input to a file, opened either in append or
// overwrite mode.
type Writer struct {
	Path   string
	Tag    sample.Tag
	Method IOMethod

	f *os.File
	w *bufio.Writer
}

// Init opens Path for writing per Method. There is no output side: Writer
// is a pure consumer.
func (p *Writer) Init(st *stage.Stage) (sample.Tag, sample.Tag, error) {
	flags := os.O_WRONLY | os.O_CREATE
	switch p.Method {
	case Append:
		flags |= os.O_APPEND
	case Overwrite:
		flags |= os.O_TRUNC
	default:
		return sample.Invalid, sample.Invalid, fmt.Errorf("file: unknown io method %d", p.Method)
	}

	f, err := os.OpenFile(p.Path, flags, 0o644)
	if err != nil {
		return sample.Invalid, sample.Invalid, fmt.Errorf("file: open %s: %w", p.Path, err)
	}
	p.f = f
	p.w = bufio.NewWriter(f)
	return p.Tag, sample.Invalid, nil
}

// Run drains the input ring buffer and writes everything it reads,
// flushing after each chunk so a crash loses at most the in-flight write.
func (p *Writer) Run(st *stage.Stage) error {
	in := st.Input()
	elemSize := in.ElementSize()
	chunkElems := st.ChunkSize()
	if chunkElems <= 0 {
		chunkElems = 1
	}
	buf := make([]byte, chunkElems*elemSize)

	for {
		n := in.BlockingRead(buf, chunkElems, st.Cancelled)
		if n == 0 && !in.IsAlive() {
			return p.w.Flush()
		}
		if n > 0 {
			if _, err := p.w.Write(buf[:n*elemSize]); err != nil {
				return fmt.Errorf("file: write %s: %w", p.Path, err)
			}
			if err := p.w.Flush(); err != nil {
				return fmt.Errorf("file: flush %s: %w", p.Path, err)
			}
			st.AddProcessed(uint64(n))
		}
	}
}

// Free closes the underlying file.
func (p *Writer) Free(st *stage.Stage) error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}
