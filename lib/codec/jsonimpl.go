package codec

import (
	"bytes"
	"encoding/json"
)

// NewJSONCodec creates a codec using JSON. Encoding buffers are taken from
// pool (a new pool is used if pool is nil).
func NewJSONCodec(pool *Pool) ICodec {
	if pool == nil {
		pool = NewPool()
	}
	return &jsonCodecImpl{pool: pool}
}

type jsonCodecImpl struct {
	pool *Pool
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (j *jsonCodecImpl) Kind() Kind { return KindJSON }

func (j *jsonCodecImpl) Encode(v any) ([]byte, error) {
	buf := j.pool.Get()
	defer j.pool.Put(buf)

	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	// Encoder terminates every value with a newline
	return bytes.Clone(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}

func (j *jsonCodecImpl) Decode(b []byte, v any) error {
	return json.Unmarshal(b, v)
}
