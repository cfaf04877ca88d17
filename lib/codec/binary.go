package codec

import (
	"encoding"
	"encoding/binary"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// NewBinaryCodec creates the codec for raw values. It encodes []byte as is,
// strings as their UTF-8 bytes and integers as 8 byte big endian numbers
// (signed integers with the sign bit flipped, so byte order equals numeric
// order). Types implementing encoding.BinaryMarshaler are supported too.
//
// With nfc set, strings are normalized to Unicode NFC before encoding so
// that canonically equal keys map to the same bytes (and the same shard).
func NewBinaryCodec(nfc bool) ICodec {
	return &binaryCodecImpl{nfc: nfc}
}

type binaryCodecImpl struct {
	nfc bool
}

const signBit = uint64(1) << 63

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *binaryCodecImpl) Kind() Kind {
	if c.nfc {
		return KindBinaryNFC
	}
	return KindBinary
}

func (c *binaryCodecImpl) Encode(v any) ([]byte, error) {
	switch x := v.(type) {
	case []byte:
		out := make([]byte, len(x))
		copy(out, x)
		return out, nil
	case string:
		if c.nfc {
			return norm.NFC.Bytes([]byte(x)), nil
		}
		return []byte(x), nil
	case int:
		return putUint64(uint64(x) ^ signBit), nil
	case int32:
		return putUint64(uint64(int64(x)) ^ signBit), nil
	case int64:
		return putUint64(uint64(x) ^ signBit), nil
	case uint:
		return putUint64(uint64(x)), nil
	case uint32:
		return putUint64(uint64(x)), nil
	case uint64:
		return putUint64(x), nil
	case bool:
		if x {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case encoding.BinaryMarshaler:
		return x.MarshalBinary()
	case nil:
		return nil, fmt.Errorf("binary codec: cannot encode nil")
	default:
		return nil, fmt.Errorf("binary codec: unsupported type %T", v)
	}
}

func (c *binaryCodecImpl) Decode(b []byte, v any) error {
	switch x := v.(type) {
	case *[]byte:
		*x = append((*x)[:0], b...)
	case *string:
		*x = string(b)
	case *int:
		u, err := getUint64(b)
		if err != nil {
			return err
		}
		*x = int(int64(u ^ signBit))
	case *int64:
		u, err := getUint64(b)
		if err != nil {
			return err
		}
		*x = int64(u ^ signBit)
	case *uint64:
		u, err := getUint64(b)
		if err != nil {
			return err
		}
		*x = u
	case *bool:
		if len(b) != 1 {
			return fmt.Errorf("binary codec: expected 1 byte for bool, got %d", len(b))
		}
		*x = b[0] != 0
	case encoding.BinaryUnmarshaler:
		return x.UnmarshalBinary(b)
	default:
		return fmt.Errorf("binary codec: unsupported target type %T", v)
	}
	return nil
}

func putUint64(u uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, u)
	return b
}

func getUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("binary codec: expected 8 bytes for integer, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
