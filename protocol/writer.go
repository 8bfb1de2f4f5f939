package protocol

import (
	"bytes"
	"io"
	"strconv"
)

var (
	Terminal = []byte("\n")
)

// Encode serialises args into a single frame, a count header followed by one
// length-prefixed value per arg:
//
//	*<count>\n
//	$<len>\n<bytes>\n
//
// Lengths are byte counts, so args may hold arbitrary binary data.
func Encode(args ...[]byte) []byte {
	size := 1 + len(strconv.Itoa(len(args))) + 1
	for _, arg := range args {
		size += 1 + len(strconv.Itoa(len(arg))) + 1 + len(arg) + 1
	}

	b := bytes.NewBuffer(make([]byte, 0, size))
	writeHeader(b, PrefixArray, len(args))

	for _, arg := range args {
		writeHeader(b, PrefixBulk, len(arg))
		b.Write(arg)
		b.Write(Terminal)
	}

	return b.Bytes()
}

func EncodeStrings(ss ...string) []byte {
	args := make([][]byte, len(ss))
	for i, s := range ss {
		args[i] = []byte(s)
	}

	return Encode(args...)
}

func writeHeader(b *bytes.Buffer, prefix byte, n int) {
	b.WriteByte(prefix)
	b.WriteString(strconv.Itoa(n))
	b.Write(Terminal)
}

// WriteFrame encodes args and writes the whole frame to w.
func WriteFrame(w io.Writer, args ...[]byte) error {
	_, err := WriteFull(w, Encode(args...))
	return err
}

func WriteStrings(w io.Writer, ss ...string) error {
	_, err := WriteFull(w, EncodeStrings(ss...))
	return err
}

// WriteOk writes a success reply carrying msg and any result values.
func WriteOk(w io.Writer, msg string, values ...[]byte) error {
	args := make([][]byte, 0, len(values)+2)
	args = append(args, []byte(StatusOK), []byte(msg))
	return WriteFrame(w, append(args, values...)...)
}

// WriteError writes a failure reply with the given code and message.
func WriteError(w io.Writer, code, msg string) error {
	return WriteStrings(w, code, msg)
}

// WriteFull writes all of b to w, issuing as many Write calls as it takes.
// Each call advances by exactly the number of bytes the writer reports.
func WriteFull(w io.Writer, b []byte) (int, error) {
	var written int

	for written < len(b) {
		n, err := w.Write(b[written:])
		written += n

		if err != nil {
			return written, err
		}

		if n == 0 {
			return written, io.ErrShortWrite
		}
	}

	return written, nil
}
