package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/bft-labs/tickbridge/internal/domain"
)

// Frame size caps per server role.
const (
	MaxTickFrameSize  uint32 = 1 << 20  // 1 MiB
	MaxBatchFrameSize uint32 = 10 << 20 // 10 MiB
)

const lengthPrefixSize = 4

// WriteFrame writes payload prefixed with its u32 little-endian length.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d bytes", domain.ErrFrameTooLarge, len(payload))
	}
	buf := make([]byte, lengthPrefixSize+len(payload))
	binary.LittleEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[lengthPrefixSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed payload.
//
// It returns io.EOF only when r ends exactly at a frame boundary. A declared
// length above max yields domain.ErrFrameTooLarge before any of the body is read.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read length: %w", err)
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if n > max {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", domain.ErrFrameTooLarge, n, max)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return payload, nil
}

// WriteMessage encodes msg and writes it as one frame.
func WriteMessage(w io.Writer, msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}
