package internal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/ValentinKolb/edb/lib/persistence/util"
	"github.com/cespare/xxhash/v2"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Snapshot Format
// --------------------------------------------------------------------------

const (
	MagicNum        = "MAPLESNP" // File format identifier
	SnapshotVersion = 2          // Snapshot format version
	SnapshotFile    = "maple.snap"

	// chunks are read in steps of this size so a corrupt length can not
	// allocate more than the file holds
	readStep = 64 << 10
)

// --------------------------------------------------------------------------
// Table (in-memory state of one shard)
// --------------------------------------------------------------------------

// Table holds the entries of one shard. Keys are the raw key bytes
// converted to a string so that they can be used as map keys.
type Table struct {
	Data *xsync.MapOf[string, []byte]
}

// NewTable creates an empty table whose map hashes keys with the seeded
// FNV-1a function.
func NewTable() *Table {
	return &Table{
		Data: xsync.NewMapOfWithHasher[string, []byte](util.HashString),
	}
}

// SortedKeys returns all keys in byte order.
func (t *Table) SortedKeys() []string {
	keys := make([]string, 0, t.Data.Size())
	t.Data.Range(func(k string, _ []byte) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// WriteTo writes the table as a snapshot to w. Entries are written in key
// order so that equal tables produce byte-identical snapshots. The snapshot
// ends with the xxhash64 of all preceding bytes.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriterSize(w, 1<<20)
	h := xxhash.New()
	cw := &countingWriter{w: io.MultiWriter(bw, h)}

	keys := t.SortedKeys()

	if _, err := cw.Write([]byte(MagicNum)); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint8(SnapshotVersion)); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, uint64(len(keys))); err != nil {
		return cw.n, err
	}

	for _, k := range keys {
		v, ok := t.Data.Load(k)
		if !ok {
			// deleted concurrently, the count is already written
			v = nil
		}
		if err := writeChunk(cw, []byte(k)); err != nil {
			return cw.n, err
		}
		if err := writeChunk(cw, v); err != nil {
			return cw.n, err
		}
	}

	if err := binary.Write(bw, binary.LittleEndian, h.Sum64()); err != nil {
		return cw.n, err
	}
	return cw.n + 8, bw.Flush()
}

// ReadTable reads a snapshot written by WriteTo and verifies its checksum.
func ReadTable(r io.Reader) (*Table, error) {
	raw := bufio.NewReaderSize(r, 1<<20)
	h := xxhash.New()
	br := io.TeeReader(raw, h)

	magic := make([]byte, len(MagicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("failed to read snapshot header: %w", err)
	}
	if string(magic) != MagicNum {
		return nil, fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, err
	}
	if version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d (expected %d)", version, SnapshotVersion)
	}

	var count uint64
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, err
	}

	t := NewTable()
	for i := uint64(0); i < count; i++ {
		k, err := readChunk(br)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		v, err := readChunk(br)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		t.Data.Store(string(k), v)
	}

	sum := h.Sum64()
	var stored uint64
	if err := binary.Read(raw, binary.LittleEndian, &stored); err != nil {
		return nil, fmt.Errorf("failed to read snapshot checksum: %w", err)
	}
	if stored != sum {
		return nil, fmt.Errorf("snapshot checksum mismatch: stored %016x, computed %016x", stored, sum)
	}
	return t, nil
}

func writeChunk(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readChunk(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(make([]byte, 0, min(int(n), readStep)))
	if _, err := io.CopyN(buf, r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
