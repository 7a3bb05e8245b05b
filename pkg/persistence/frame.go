package persistence

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// Constants for the journal binary protocol.
const (
	// MagicByte is the marker used to identify the start of a valid frame.
	MagicByte = 0xA5

	// HeaderSize is the fixed size of the frame metadata:
	// 1 byte (Magic) + 1 byte (OpCode) + 4 bytes (Length) + 4 bytes (CRC32) = 10 bytes.
	HeaderSize = 10
)

var (
	// ErrInvalidMagic indicates the file stream lost synchronization or is not a journal.
	ErrInvalidMagic = errors.New("invalid magic byte")
	// ErrChecksumMismatch indicates data corruption within the frame payload.
	ErrChecksumMismatch = errors.New("crc32 checksum mismatch")
	// ErrIncompleteFrame indicates the file ended abruptly (e.g., power loss during write).
	ErrIncompleteFrame = errors.New("incomplete frame")
)

// Frame is one decoded journal entry.
type Frame struct {
	Op      OpCode
	Payload []byte
}

// AppendFrame encodes a frame onto dst.
// Frame Format: [Magic(1)][OpCode(1)][Length(4)][CRC(4)][Payload(N)]
func AppendFrame(dst []byte, op OpCode, payload []byte) []byte {
	var header [HeaderSize]byte
	header[0] = MagicByte
	header[1] = byte(op)
	binary.LittleEndian.PutUint32(header[2:6], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[6:10], crc32.ChecksumIEEE(payload))
	dst = append(dst, header[:]...)
	return append(dst, payload...)
}

// FrameWriter handles the safe writing of binary frames to an io.Writer.
type FrameWriter struct {
	w   io.Writer
	buf []byte
}

// NewFrameWriter creates a writer that wraps an underlying io.Writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame encodes the payload into a binary frame and writes it with a
// single Write call.
func (fw *FrameWriter) WriteFrame(op OpCode, payload []byte) error {
	fw.buf = AppendFrame(fw.buf[:0], op, payload)
	_, err := fw.w.Write(fw.buf)
	return err
}

// ReadFrame reads the next frame from the reader.
// It performs validation of the Magic Byte and the CRC32 Checksum.
// Returns the frame, the total bytes read (header + payload), and an error.
func ReadFrame(r io.Reader) (Frame, int, error) {
	header := make([]byte, HeaderSize)

	// 1. Read Header
	if _, err := io.ReadFull(r, header); err != nil {
		// EOF exactly at a frame boundary is a clean exit.
		if err == io.EOF {
			return Frame{}, 0, io.EOF
		}
		return Frame{}, 0, ErrIncompleteFrame
	}

	// 2. Validate Magic Byte
	if header[0] != MagicByte {
		return Frame{}, HeaderSize, ErrInvalidMagic
	}

	// 3. Parse Length and Expected CRC
	length := binary.LittleEndian.Uint32(header[2:6])
	expectedCRC := binary.LittleEndian.Uint32(header[6:10])

	// 4. Read Payload
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, HeaderSize, ErrIncompleteFrame
	}

	// 5. Verify Checksum
	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return Frame{}, HeaderSize + int(length), ErrChecksumMismatch
	}

	return Frame{Op: OpCode(header[1]), Payload: payload}, HeaderSize + int(length), nil
}
