package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ValentinKolb/edb/lib/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count int
	Tags  []string
}

func TestStructCodecs(t *testing.T) {
	pool := NewPool()
	for _, kind := range []Kind{KindJSON, KindGob} {
		t.Run(string(kind), func(t *testing.T) {
			c, err := New(kind, pool)
			require.NoError(t, err)
			assert.Equal(t, kind, c.Kind())

			in := record{Name: "alpha", Count: 3, Tags: []string{"x", "y"}}
			a, err := c.Encode(in)
			require.NoError(t, err)
			b, err := c.Encode(in)
			require.NoError(t, err)
			assert.Equal(t, a, b, "encoding must be deterministic")

			var out record
			require.NoError(t, c.Decode(a, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestJSONHasNoTrailingNewline(t *testing.T) {
	c := NewJSONCodec(nil)
	b, err := c.Encode(map[string]int{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(b))
}

func TestBinaryIntegerOrder(t *testing.T) {
	c := NewBinaryCodec(false)
	values := []int64{-1 << 40, -5, -1, 0, 1, 7, 1 << 40}

	var prev []byte
	for _, v := range values {
		b, err := c.Encode(v)
		require.NoError(t, err)
		if prev != nil {
			assert.Equal(t, -1, bytes.Compare(prev, b), "encoding of %d must sort after its predecessor", v)
		}
		prev = b

		var back int64
		require.NoError(t, c.Decode(b, &back))
		assert.Equal(t, v, back)
	}

	// int and int64 share one representation
	a, _ := c.Encode(42)
	b, _ := c.Encode(int64(42))
	assert.Equal(t, a, b)
}

func TestBinaryNFC(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	plain := NewBinaryCodec(false)
	p1, _ := plain.Encode(composed)
	p2, _ := plain.Encode(decomposed)
	assert.NotEqual(t, p1, p2)

	nfc := NewBinaryCodec(true)
	n1, _ := nfc.Encode(composed)
	n2, _ := nfc.Encode(decomposed)
	assert.Equal(t, n1, n2)
	assert.Equal(t, KindBinaryNFC, nfc.Kind())
}

func TestBinaryCopiesBytes(t *testing.T) {
	c := NewBinaryCodec(false)
	in := []byte("abc")
	out, err := c.Encode(in)
	require.NoError(t, err)
	in[0] = 'X'
	assert.Equal(t, []byte("abc"), out)
}

func TestBinaryErrors(t *testing.T) {
	c := NewBinaryCodec(false)

	_, err := c.Encode(nil)
	assert.Error(t, err)
	_, err = c.Encode(3.14)
	assert.Error(t, err)

	var i int64
	assert.Error(t, c.Decode([]byte{1, 2}, &i))
	var f float64
	assert.Error(t, c.Decode([]byte{1}, &f))
}

func TestUnknownCodec(t *testing.T) {
	_, err := New("protobuf", nil)
	assert.True(t, errors.Is(err, errs.ErrInvalidSpec))

	c, err := New("", nil)
	require.NoError(t, err)
	assert.Equal(t, KindBinary, c.Kind())
}

func TestPoolDropsLargeBuffers(t *testing.T) {
	p := NewPool()
	buf := p.Get()
	buf.WriteString("data")
	p.Put(buf)

	reused := p.Get()
	assert.Equal(t, 0, reused.Len(), "pooled buffers must be reset")

	big := bytes.NewBuffer(make([]byte, 0, 2*maxPooledBuffer))
	p.Put(big) // must not panic, buffer is discarded
}
