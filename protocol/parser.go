package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// MaxBulkSize bounds a single bulk value so a corrupt length field can't
	// make us allocate an arbitrary amount of memory.
	MaxBulkSize = 512 * 1024 * 1024

	// MaxFrameElements bounds the element count of a single frame.
	MaxFrameElements = 1024 * 1024
)

var (
	ErrInvalidLength   = errors.New("Frame is malformed, a length field is not a non-negative integer")
	ErrBulkTooLarge    = errors.New("Frame is malformed, a bulk value exceeds the maximum size")
	ErrTooManyElements = errors.New("Frame is malformed, the element count exceeds the maximum")
	ErrShortReply      = errors.New("Reply is missing result values")
	ErrEmptyFrame      = errors.New("Frame contains no elements")

	PrefixArray byte = '*'
	PrefixBulk  byte = '$'
)

// ReadFrame decodes one frame from r.
//
// It skips forward to the next '*', reads the element count, then for each
// element skips forward to the next '$', reads the length and reads exactly
// that many bytes. The newline that follows each value on the wire is
// swallowed by the next skip, so a frame is complete as soon as its last
// value has been read.
//
// ReadFrame returns io.EOF only if the stream ended cleanly between frames.
// Ending anywhere inside a frame returns io.ErrUnexpectedEOF.
func ReadFrame(r *Reader) (Reply, error) {
	if err := r.skipToMarker(PrefixArray); err != nil {
		return nil, err
	}

	count, err := readLength(r)
	if err != nil {
		return nil, fmt.Errorf("Failed to read element count: %w", err)
	}

	if count > MaxFrameElements {
		return nil, fmt.Errorf("Failed to read frame of %d elements: %w", count, ErrTooManyElements)
	}

	frame := make(Reply, count)
	for i := range frame {
		if _, err := r.ReadUntil(PrefixBulk); err != nil {
			return nil, eofIsUnexpected(err)
		}

		size, err := readLength(r)
		if err != nil {
			return nil, fmt.Errorf("Failed to read length of element %d: %w", i, err)
		}

		if size > MaxBulkSize {
			return nil, fmt.Errorf("Failed to read element %d of %d bytes: %w", i, size, ErrBulkTooLarge)
		}

		if frame[i], err = r.ReadExact(size); err != nil {
			return nil, err
		}
	}

	return frame, nil
}

// ReadRequest decodes one client request frame.
func ReadRequest(r *Reader) (*Request, error) {
	frame, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}

	return NewRequest(Command(frame[0]), frame[1:]...), nil
}

// skipToMarker consumes bytes up to and including marker. If the stream ends
// with nothing but whitespace skipped, that is a clean end of stream.
func (r *Reader) skipToMarker(marker byte) error {
	skipped, err := r.rd.ReadBytes(marker)
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) && len(bytes.TrimSpace(skipped)) > 0 {
		return io.ErrUnexpectedEOF
	}

	return err
}

func readLength(r *Reader) (int, error) {
	line, err := r.ReadUntil('\n')
	if err != nil {
		return 0, eofIsUnexpected(err)
	}

	digits := RemoveTrailingCR(line[:len(line)-1])
	if len(digits) == 0 {
		return 0, ErrInvalidLength
	}

	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("Failed to parse '%s': %w", string(digits), ErrInvalidLength)
		}
	}

	n, err := strconv.Atoi(string(digits))
	if err != nil {
		return 0, fmt.Errorf("Failed to parse '%s': %w", string(digits), ErrInvalidLength)
	}

	return n, nil
}

func eofIsUnexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}

func RemoveTrailingCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		// Remove the optional trailing \r
		return data[:len(data)-1]
	}

	return data
}
