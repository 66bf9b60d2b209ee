package cache

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
)

// Every stored value carries a one-byte envelope marker so reads never have
// to guess: raw payloads that happen to start with a zlib header byte (0x78)
// are unambiguous.
const (
	markerRaw  byte = 0x00
	markerZlib byte = 0x01
)

// encode wraps value in an envelope, compressing when it meets the
// threshold and compression actually helps.
func encode(value []byte, threshold int) ([]byte, bool) {
	if threshold <= 0 || len(value) < threshold {
		return append([]byte{markerRaw}, value...), false
	}

	var buf bytes.Buffer
	buf.WriteByte(markerZlib)
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(value); err != nil {
		w.Close()
		return append([]byte{markerRaw}, value...), false
	}
	if err := w.Close(); err != nil {
		return append([]byte{markerRaw}, value...), false
	}
	if buf.Len() >= len(value)+1 {
		return append([]byte{markerRaw}, value...), false
	}
	return buf.Bytes(), true
}

// decode unwraps an envelope produced by encode.
func decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("empty cache envelope")
	}
	switch stored[0] {
	case markerRaw:
		return stored[1:], nil
	case markerZlib:
		r, err := zlib.NewReader(bytes.NewReader(stored[1:]))
		if err != nil {
			return nil, fmt.Errorf("open zlib envelope: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("decompress cache value: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown cache envelope marker 0x%02x", stored[0])
	}
}
