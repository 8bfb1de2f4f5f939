package protocol

import (
	"bufio"
	"errors"
	"io"
)

const (
	// DefaultReadSize is how much is requested from the socket whenever the
	// buffer cannot satisfy a read.
	DefaultReadSize = 2048

	minReadSize = 16
)

// Reader buffers the inbound side of a single connection. A reply frame is
// decoded through a sequence of ReadUntil/ReadExact calls that all share this
// buffer, so bytes read past the current delimiter or length are kept for the
// next call rather than dropped.
//
// Short reads are handled by issuing more reads until the request can be
// satisfied or the underlying reader returns an error.
type Reader struct {
	rd *bufio.Reader
}

func NewReader(rd io.Reader) *Reader {
	return NewReaderSize(rd, DefaultReadSize)
}

func NewReaderSize(rd io.Reader, size int) *Reader {
	if size < minReadSize {
		size = minReadSize
	}

	return &Reader{rd: bufio.NewReaderSize(rd, size)}
}

// Reset drops any buffered bytes and starts reading from rd. Used when a
// connection is re-established.
func (r *Reader) Reset(rd io.Reader) {
	r.rd.Reset(rd)
}

// Buffered returns the number of bytes read from the socket but not yet
// consumed.
func (r *Reader) Buffered() int {
	return r.rd.Buffered()
}

// ReadUntil returns everything up to and including delim.
//
// If the reader fails before delim is found the bytes read so far are
// discarded and the error returned.
func (r *Reader) ReadUntil(delim byte) ([]byte, error) {
	line, err := r.rd.ReadBytes(delim)
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return line, nil
}

// ReadExact returns exactly n bytes.
func (r *Reader) ReadExact(n int) ([]byte, error) {
	b := make([]byte, n)
	if n == 0 {
		return b, nil
	}

	if _, err := io.ReadFull(r.rd, b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}

		return nil, err
	}

	return b, nil
}
