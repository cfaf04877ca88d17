package codec

// Kind identifies a codec. It is the value stored in the "codec" section of
// a domain spec.
type Kind string

const (
	KindBinary    Kind = "binary"     // raw bytes, strings and fixed width integers
	KindBinaryNFC Kind = "binary-nfc" // like binary, strings are NFC normalized first
	KindJSON      Kind = "json"
	KindGob       Kind = "gob"
)

// ICodec converts keys or values to the byte form stored in shards.
// Implementations are stateless and safe for concurrent use.
type ICodec interface {
	// Encode returns the byte form of v.
	Encode(v any) ([]byte, error)
	// Decode decodes b into the value v points to.
	Decode(b []byte, v any) error
	// Kind returns the identifier of the codec.
	Kind() Kind
}
