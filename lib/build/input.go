package build

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ValentinKolb/edb/lib/codec"
	"github.com/ValentinKolb/edb/lib/errs"
)

// --------------------------------------------------------------------------
// Records
// --------------------------------------------------------------------------

// Record is one key/value pair read from a build input.
type Record struct {
	Key   any
	Value any
}

// IRecordReader reads the records of a build input one at a time.
// Next returns io.EOF after the last record.
type IRecordReader interface {
	Next() (Record, error)
}

// InputFormat names a build input format.
type InputFormat string

const (
	InputJSONL InputFormat = "jsonl" // one {"key": ..., "value": ...} object per line
	InputCSV   InputFormat = "csv"   // two columns, key and value
)

// InputFormatFor derives the input format from a file name.
func InputFormatFor(name string) (InputFormat, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson", ".json":
		return InputJSONL, nil
	case ".csv":
		return InputCSV, nil
	default:
		return "", errs.New(errs.CodeInvalidSpec, "cannot derive input format of %q (expected .jsonl, .ndjson or .csv)", name)
	}
}

// NewRecordReader creates the reader for format.
func NewRecordReader(format InputFormat, r io.Reader) (IRecordReader, error) {
	switch format {
	case InputJSONL:
		return newJSONLReader(r), nil
	case InputCSV:
		return newCSVReader(r), nil
	default:
		return nil, errs.New(errs.CodeInvalidSpec, "unknown input format %q", format)
	}
}

// Load writes every record of rr with w.WriteKV. Keys and values are
// adapted to the codecs of the domain first (see AdaptForCodec). It returns
// the number of records written.
func Load(w *Writer, rr IRecordReader) (int64, error) {
	keyKind := w.shards.KeyCodec().Kind()
	valueKind := w.shards.ValueCodec().Kind()

	var n int64
	for {
		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		key, err := AdaptForCodec(keyKind, rec.Key)
		if err != nil {
			return n, fmt.Errorf("record %d: key: %w", n+1, err)
		}
		value, err := AdaptForCodec(valueKind, rec.Value)
		if err != nil {
			return n, fmt.Errorf("record %d: value: %w", n+1, err)
		}
		if err := w.WriteKV(key, value); err != nil {
			return n, err
		}
		n++
	}
}

// AdaptForCodec converts a decoded input value to a type the codec of kind
// can encode. The binary codecs get strings, int64s, bools or raw bytes
// (objects and arrays become their JSON text). The structured codecs get
// the value as is, with JSON numbers turned into int64 or float64.
func AdaptForCodec(kind codec.Kind, v any) (any, error) {
	if n, ok := v.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		if kind == codec.KindBinary || kind == codec.KindBinaryNFC {
			return n.String(), nil
		}
		return n.Float64()
	}
	if kind != codec.KindBinary && kind != codec.KindBinaryNFC {
		return v, nil
	}
	switch x := v.(type) {
	case nil:
		return nil, errs.New(errs.CodeInvalidSpec, "null cannot be stored with the %s codec", kind)
	case string, bool, []byte:
		return x, nil
	default:
		return json.Marshal(x)
	}
}

// --------------------------------------------------------------------------
// JSON Lines
// --------------------------------------------------------------------------

type jsonlReader struct {
	scanner *bufio.Scanner
	line    int
}

func newJSONLReader(r io.Reader) *jsonlReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64<<10), 64<<20)
	return &jsonlReader{scanner: s}
}

func (j *jsonlReader) Next() (Record, error) {
	for j.scanner.Scan() {
		j.line++
		line := bytes.TrimSpace(j.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var raw struct {
			Key   any `json:"key"`
			Value any `json:"value"`
		}
		dec := json.NewDecoder(bytes.NewReader(line))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return Record{}, fmt.Errorf("line %d: %w", j.line, err)
		}
		if raw.Key == nil {
			return Record{}, fmt.Errorf("line %d: missing key", j.line)
		}
		return Record{Key: raw.Key, Value: raw.Value}, nil
	}
	if err := j.scanner.Err(); err != nil {
		return Record{}, err
	}
	return Record{}, io.EOF
}

// --------------------------------------------------------------------------
// CSV
// --------------------------------------------------------------------------

type csvReader struct {
	r *csv.Reader
}

func newCSVReader(r io.Reader) *csvReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.ReuseRecord = true
	return &csvReader{r: cr}
}

func (c *csvReader) Next() (Record, error) {
	row, err := c.r.Read()
	if err != nil {
		return Record{}, err
	}
	return Record{Key: row[0], Value: row[1]}, nil
}
