package internal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	t := NewTable()
	for i := 0; i < 100; i++ {
		t.Data.Store(fmt.Sprintf("key-%03d", i), []byte(fmt.Sprintf("value-%d", i)))
	}
	t.Data.Store("empty", []byte{})
	return t
}

func snapshot(t *testing.T, table *Table) []byte {
	t.Helper()
	var buf bytes.Buffer
	n, err := table.WriteTo(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(buf.Len()), n)
	return buf.Bytes()
}

func TestSnapshotRoundTrip(t *testing.T) {
	table := sampleTable()
	data := snapshot(t, table)

	read, err := ReadTable(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, table.SortedKeys(), read.SortedKeys())
	for _, k := range table.SortedKeys() {
		want, _ := table.Data.Load(k)
		got, ok := read.Data.Load(k)
		require.True(t, ok, k)
		assert.Equal(t, want, got, k)
	}

	// equal tables give identical snapshots
	assert.Equal(t, data, snapshot(t, read))
}

func TestSnapshotChecksum(t *testing.T) {
	data := snapshot(t, sampleTable())

	// flip one byte of a value
	corrupt := bytes.Clone(data)
	corrupt[len(corrupt)-12] ^= 0xff
	_, err := ReadTable(bytes.NewReader(corrupt))
	assert.ErrorContains(t, err, "checksum mismatch")

	// missing trailer
	_, err = ReadTable(bytes.NewReader(data[:len(data)-8]))
	assert.Error(t, err)
}

func TestSnapshotTruncated(t *testing.T) {
	data := snapshot(t, sampleTable())
	for _, n := range []int{0, 4, len(MagicNum) + 1, len(data) / 2} {
		_, err := ReadTable(bytes.NewReader(data[:n]))
		assert.Error(t, err, "truncated to %d bytes", n)
	}
}

func TestSnapshotHugeChunkLength(t *testing.T) {
	// header with one entry whose key claims to be 4 GiB long
	var buf bytes.Buffer
	buf.WriteString(MagicNum)
	buf.WriteByte(SnapshotVersion)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint64(1)))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, uint32(1<<32-1)))
	buf.WriteString("short")

	_, err := ReadTable(&buf)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestSnapshotVersionMismatch(t *testing.T) {
	data := snapshot(t, sampleTable())
	data[len(MagicNum)] = SnapshotVersion + 1
	_, err := ReadTable(bytes.NewReader(data))
	assert.ErrorContains(t, err, "unsupported snapshot version")
}
