package codec

import (
	"bytes"
	"encoding/gob"
)

// NewGOBCodec creates a codec using Go's gob format. Encoding buffers are
// taken from pool (a new pool is used if pool is nil).
func NewGOBCodec(pool *Pool) ICodec {
	if pool == nil {
		pool = NewPool()
	}
	return &gobCodecImpl{pool: pool}
}

type gobCodecImpl struct {
	pool *Pool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (g *gobCodecImpl) Kind() Kind { return KindGob }

func (g *gobCodecImpl) Encode(v any) ([]byte, error) {
	buf := g.pool.Get()
	defer g.pool.Put(buf)

	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}

func (g *gobCodecImpl) Decode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
