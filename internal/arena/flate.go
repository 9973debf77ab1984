package arena

import (
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

// FlateDecoderPool manages reusable raw-DEFLATE decoders (windowBits=-15, no
// zlib/gzip wrapper, matching the ZIP "deflate" storage method), the same
// shape as the teacher's zstd DecompressPool but for klauspost/compress's
// flate package, which this format needs instead of zstd.
type FlateDecoderPool struct {
	pool *sync.Pool
}

// NewFlateDecoderPool constructs a pool of reusable flate.Reader values.
func NewFlateDecoderPool() *FlateDecoderPool {
	return &FlateDecoderPool{
		pool: &sync.Pool{
			New: func() any {
				return flate.NewReader(nil)
			},
		},
	}
}

// Get returns an io.ReadCloser decoding from r. The caller must call the
// returned release func when done; it returns the decoder to the pool.
func (p *FlateDecoderPool) Get(r io.Reader) (io.ReadCloser, func(), error) {
	if p == nil || p.pool == nil {
		rc := flate.NewReader(r)
		return rc, func() { _ = rc.Close() }, nil
	}
	value := p.pool.Get()
	rc, ok := value.(io.ReadCloser)
	if !ok {
		rc = flate.NewReader(r)
		return rc, func() { _ = rc.Close() }, nil
	}
	resetter, ok := rc.(flate.Resetter)
	if !ok {
		return rc, func() { _ = rc.Close() }, nil
	}
	if err := resetter.Reset(r, nil); err != nil {
		_ = rc.Close()
		rc = flate.NewReader(r)
		return rc, func() { _ = rc.Close() }, nil
	}
	return rc, func() {
		p.pool.Put(rc)
	}, nil
}

// FlateEncoderPool manages reusable raw-DEFLATE writers. CacheRW.Update
// creates its writers with flate.NewWriter and does not use this pool.
type FlateEncoderPool struct {
	level int
	pool  *sync.Pool
}

// NewFlateEncoderPool constructs a pool of reusable flate.Writer values at
// the given compression level.
func NewFlateEncoderPool(level int) *FlateEncoderPool {
	p := &FlateEncoderPool{level: level}
	p.pool = &sync.Pool{
		New: func() any {
			w, err := flate.NewWriter(io.Discard, p.level)
			if err != nil {
				return nil
			}
			return w
		},
	}
	return p
}

// Get returns a *flate.Writer writing to w. The caller must call the
// returned release func after Close-ing the writer to return it to the pool.
func (p *FlateEncoderPool) Get(w io.Writer) (*flate.Writer, func(), error) {
	value := p.pool.Get()
	fw, ok := value.(*flate.Writer)
	if !ok || fw == nil {
		newFW, err := flate.NewWriter(w, p.level)
		if err != nil {
			return nil, nil, err
		}
		return newFW, func() {}, nil
	}
	fw.Reset(w)
	return fw, func() { p.pool.Put(fw) }, nil
}
