package codec

import (
	"github.com/ValentinKolb/edb/lib/errs"
)

// Kinds lists all codec kinds in a stable order.
func Kinds() []Kind {
	return []Kind{KindBinary, KindBinaryNFC, KindJSON, KindGob}
}

// New creates the codec for kind. Codecs that need scratch buffers share
// pool. An empty kind selects the binary codec.
func New(kind Kind, pool *Pool) (ICodec, error) {
	switch kind {
	case "", KindBinary:
		return NewBinaryCodec(false), nil
	case KindBinaryNFC:
		return NewBinaryCodec(true), nil
	case KindJSON:
		return NewJSONCodec(pool), nil
	case KindGob:
		return NewGOBCodec(pool), nil
	default:
		return nil, errs.New(errs.CodeInvalidSpec, "unknown codec %q (expected one of %v)", kind, Kinds())
	}
}
