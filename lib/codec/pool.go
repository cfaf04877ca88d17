package codec

import (
	"bytes"
	"sync"
)

// maxPooledBuffer is the largest buffer capacity kept for reuse.
const maxPooledBuffer = 1 << 20

// Pool hands out reusable encoding buffers. A Pool is passed explicitly to
// the codecs that need scratch space, there is no package level state.
type Pool struct {
	p sync.Pool
}

// NewPool creates an empty buffer pool.
func NewPool() *Pool {
	return &Pool{p: sync.Pool{New: func() any { return new(bytes.Buffer) }}}
}

// Get returns an empty buffer.
func (p *Pool) Get() *bytes.Buffer {
	return p.p.Get().(*bytes.Buffer)
}

// Put returns buf to the pool. Oversized buffers are dropped.
func (p *Pool) Put(buf *bytes.Buffer) {
	if buf.Cap() > maxPooledBuffer {
		return
	}
	buf.Reset()
	p.p.Put(buf)
}
