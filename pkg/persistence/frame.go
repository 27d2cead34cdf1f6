// Package persistence implements the binary archive format used to save graph
// storages and corpus tables to disk.
//
// An archive is a sequence of frames. Every frame carries an opcode, the payload
// length and a CRC32 of the payload, so truncated or corrupted files are
// detected before any payload is decoded.
package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	// MagicByte marks the start of every frame.
	MagicByte = 0xA7

	// HeaderSize is 1 byte magic + 1 byte opcode + 4 bytes length + 4 bytes CRC32.
	HeaderSize = 10
)

// OpCode tells what kind of payload a frame carries.
type OpCode byte

const (
	// OpHeader frames hold the archive kind and format version.
	OpHeader OpCode = 0x01
	// OpBody frames hold the encoded archive content.
	OpBody OpCode = 0x02
)

var (
	// ErrInvalidMagic indicates the stream lost synchronization or is not an archive.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates corruption within a frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the stream ended in the middle of a frame.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrUnexpectedFrame indicates a frame with a different opcode than required.
	ErrUnexpectedFrame = errors.New("unexpected frame")
)

// WriteFrame writes one frame: [Magic][OpCode][Length][CRC][Payload].
func WriteFrame(w io.Writer, op OpCode, payload []byte) error {
	header := make([]byte, HeaderSize)
	header[0] = MagicByte
	header[1] = byte(op)
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads and validates the next frame. A clean end of stream before
// the header is reported as io.EOF.
func ReadFrame(r io.Reader) (OpCode, []byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		if err == io.EOF {
			return 0, nil, io.EOF
		}
		return 0, nil, ErrIncompleteFrame
	}
	if header[0] != MagicByte {
		return 0, nil, ErrInvalidMagic
	}

	op := OpCode(header[1])
	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, ErrIncompleteFrame
	}
	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return 0, nil, ErrChecksumMismatch
	}
	return op, payload, nil
}
