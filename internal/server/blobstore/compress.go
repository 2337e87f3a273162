package blobstore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// compress zstd-encodes the payload. Generic byte compression only; the
// store never inspects content formats.
func compress(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("zstd writer error: %w", err)
	}
	if _, err := enc.Write(raw); err != nil {
		enc.Close()
		return nil, fmt.Errorf("compress error: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("compress close error: %w", err)
	}
	return buf.Bytes(), nil
}

// decompress reverses compress, reading from a stream.
func decompress(r io.Reader) ([]byte, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("zstd reader error: %w", err)
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decompress error: %w", err)
	}
	return raw, nil
}
