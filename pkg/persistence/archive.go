package persistence

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FormatVersion is bumped whenever an archive body changes incompatibly.
const FormatVersion = 1

type archiveHeader struct {
	Kind    string
	Version int
}

// WriteArchive encodes body as an archive of the given kind.
func WriteArchive(w io.Writer, kind string, body any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(archiveHeader{Kind: kind, Version: FormatVersion}); err != nil {
		return fmt.Errorf("failed to encode %s archive header: %w", kind, err)
	}
	if err := WriteFrame(w, OpHeader, buf.Bytes()); err != nil {
		return err
	}

	buf.Reset()
	if err := gob.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("failed to encode %s archive: %w", kind, err)
	}
	return WriteFrame(w, OpBody, buf.Bytes())
}

// ReadArchive decodes an archive of the given kind into body.
func ReadArchive(r io.Reader, kind string, body any) error {
	op, payload, err := ReadFrame(r)
	if err != nil {
		return fmt.Errorf("failed to read %s archive header: %w", kind, err)
	}
	if op != OpHeader {
		return fmt.Errorf("%w: expected header, got opcode %#x", ErrUnexpectedFrame, op)
	}
	var header archiveHeader
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&header); err != nil {
		return fmt.Errorf("failed to decode %s archive header: %w", kind, err)
	}
	if header.Kind != kind {
		return fmt.Errorf("archive has kind %q, expected %q", header.Kind, kind)
	}
	if header.Version != FormatVersion {
		return fmt.Errorf("archive %q has unsupported version %d", kind, header.Version)
	}

	op, payload, err = ReadFrame(r)
	if err != nil {
		return fmt.Errorf("failed to read %s archive body: %w", kind, err)
	}
	if op != OpBody {
		return fmt.Errorf("%w: expected body, got opcode %#x", ErrUnexpectedFrame, op)
	}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(body); err != nil {
		return fmt.Errorf("failed to decode %s archive: %w", kind, err)
	}
	return nil
}

// SaveFile writes the archive produced by write to path. The data goes to a
// temporary file first which is synced and renamed, so a crash never leaves a
// half written archive behind.
func SaveFile(path string, write func(w io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	buf := bufio.NewWriter(tmp)
	if err := write(buf); err != nil {
		tmp.Close()
		return err
	}
	if err := buf.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadFile opens path and hands a buffered reader to read.
func LoadFile(path string, read func(r io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return read(bufio.NewReader(f))
}
