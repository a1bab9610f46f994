package proxy

import (
	"io"
	"sync"
)

// relayBufferSize is the per-direction copy buffer used by the relay.
const relayBufferSize = 32 * 1024

// BufferPool recycles fixed-size byte slices between relays.
type BufferPool struct {
	pool sync.Pool
}

func NewBufferPool(size int) *BufferPool {
	bp := &BufferPool{}
	bp.pool.New = func() any {
		b := make([]byte, size)
		return &b
	}

	return bp
}

func (p *BufferPool) Get() []byte {
	b := p.pool.Get().(*[]byte)
	return *b
}

func (p *BufferPool) Put(b []byte) {
	// This &b forces a 32-byte heap allocation.  There's no way to avoid this when converting a non-pointer to an interface{}.
	p.pool.Put(&b)
}

// Copy copies src to dst using a pooled buffer. A nil pool falls back to
// io.Copy.
func (p *BufferPool) Copy(dst io.Writer, src io.Reader) (int64, error) {
	if p == nil {
		return io.Copy(dst, src)
	}

	b := p.Get()
	defer p.Put(b)
	return io.CopyBuffer(dst, src, b)
}
