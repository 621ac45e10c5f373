package render

import (
	"bufio"
	"io"
)

// WriterPool recycles buffered writers. Writers are reset onto the target
// on Get and flushed on Release; they are never closed, since the
// underlying response belongs to the server.
type WriterPool struct {
	free chan *bufio.Writer
	size int
}

// NewWriterPool creates a pool holding at most n writers of size bytes.
func NewWriterPool(n, size int) *WriterPool {
	return &WriterPool{free: make(chan *bufio.Writer, n), size: size}
}

// Get returns a writer that buffers into w.
func (p *WriterPool) Get(w io.Writer) *bufio.Writer {
	select {
	case bw := <-p.free:
		bw.Reset(w)
		return bw
	default:
		return bufio.NewWriterSize(w, p.size)
	}
}

// Release flushes bw and returns it to the pool. The writer is put back
// even when the flush fails.
func (p *WriterPool) Release(bw *bufio.Writer) error {
	err := bw.Flush()
	bw.Reset(io.Discard)
	select {
	case p.free <- bw:
	default:
	}
	return err
}

// Idle returns the number of writers waiting in the pool.
func (p *WriterPool) Idle() int {
	return len(p.free)
}
