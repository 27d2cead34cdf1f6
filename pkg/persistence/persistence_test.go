package persistence

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Edges map[uint64][]uint64
}

func TestFrame(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, OpBody, []byte("payload")))
	require.NoError(t, WriteFrame(&buf, OpHeader, nil))
	assert.Equal(t, 2*HeaderSize+len("payload"), buf.Len())

	r := bytes.NewReader(buf.Bytes())
	op, payload, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, OpBody, op)
	assert.Equal(t, []byte("payload"), payload)

	op, payload, err = ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, OpHeader, op)
	assert.Empty(t, payload)

	_, _, err = ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrame_Corruption(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, OpBody, []byte("payload")))
	data := buf.Bytes()

	corrupted := bytes.Clone(data)
	corrupted[len(corrupted)-1] ^= 0xFF
	_, _, err := ReadFrame(bytes.NewReader(corrupted))
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	badMagic := bytes.Clone(data)
	badMagic[0] = 0x00
	_, _, err = ReadFrame(bytes.NewReader(badMagic))
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, _, err = ReadFrame(bytes.NewReader(data[:HeaderSize+2]))
	assert.ErrorIs(t, err, ErrIncompleteFrame)

	_, _, err = ReadFrame(bytes.NewReader(data[:3]))
	assert.ErrorIs(t, err, ErrIncompleteFrame)
}

func TestArchive(t *testing.T) {
	in := sample{Name: "dominance", Edges: map[uint64][]uint64{1: {2, 3}, 2: {4}}}

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(&buf, "sample", in))

	var out sample
	require.NoError(t, ReadArchive(bytes.NewReader(buf.Bytes()), "sample", &out))
	assert.Equal(t, in, out)

	err := ReadArchive(bytes.NewReader(buf.Bytes()), "other", &out)
	assert.ErrorContains(t, err, `expected "other"`)

	// a body frame where the header is expected
	var body bytes.Buffer
	require.NoError(t, WriteFrame(&body, OpBody, []byte{1}))
	err = ReadArchive(&body, "sample", &out)
	assert.ErrorIs(t, err, ErrUnexpectedFrame)
}

func TestSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gs", "component.annis")
	in := sample{Name: "ordering", Edges: map[uint64][]uint64{0: {1}}}

	require.NoError(t, SaveFile(path, func(w io.Writer) error {
		return WriteArchive(w, "sample", in)
	}))

	var out sample
	require.NoError(t, LoadFile(path, func(r io.Reader) error {
		return ReadArchive(r, "sample", &out)
	}))
	assert.Equal(t, in, out)

	// no temporary files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	assert.Error(t, LoadFile(filepath.Join(t.TempDir(), "missing"), func(io.Reader) error { return nil }))
}
