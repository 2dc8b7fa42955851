package bf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// InputSource feeds the ',' instruction.
type InputSource interface {
	ReadByte() (byte, error)
}

// ZeroInput is an input source which always yields 0, so ',' clears the
// current cell.
type ZeroInput struct{}

func (ZeroInput) ReadByte() (byte, error) {
	return 0, nil
}

// ContextInput is an input source whose reads can be abandoned when ctx is
// done. The interpreter prefers it over ReadByte.
type ContextInput interface {
	InputSource
	ReadByteContext(ctx context.Context) (byte, error)
}

// consecutive empty reads tolerated before giving up, as in bufio
const maxEmptyReads = 100

type readResult struct {
	b   byte
	err error
}

// ReaderInput reads one byte per ',' from an io.Reader. The end of the input
// reads as 0.
type ReaderInput struct {
	R   io.Reader
	buf [1]byte
	// a read left in flight by a cancelled ReadByteContext
	pending chan readResult
}

func NewReaderInput(r io.Reader) *ReaderInput {
	return &ReaderInput{R: r}
}

func (in *ReaderInput) ReadByte() (byte, error) {
	return in.ReadByteContext(context.Background())
}

// ReadByteContext returns ctx.Err() once ctx is done, even while the
// underlying read blocks. That read is kept and its byte is returned by the
// next call.
func (in *ReaderInput) ReadByteContext(ctx context.Context) (byte, error) {
	if in.pending == nil {
		if ctx.Done() == nil {
			return in.read()
		}
		pending := make(chan readResult, 1)
		go func() {
			b, err := in.read()
			pending <- readResult{b, err}
		}()
		in.pending = pending
	}
	select {
	case r := <-in.pending:
		in.pending = nil
		return r.b, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (in *ReaderInput) read() (byte, error) {
	if br, ok := in.R.(io.ByteReader); ok {
		b, err := br.ReadByte()
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return b, err
	}
	for range maxEmptyReads {
		n, err := in.R.Read(in.buf[:])
		if n == 1 {
			return in.buf[0], nil
		}
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, io.ErrNoProgress
}

// Encoding maps a cell value to the bytes written for '.'.
type Encoding int

const (
	// Latin1 renders the cell as the ISO-8859-1 character of the same value,
	// UTF-8 encoded. Every cell value is representable.
	Latin1 Encoding = iota
	// Raw writes the cell value as a single byte.
	Raw
	// ASCII writes values 0-127 as a single byte and rejects the rest with
	// ErrEncoding.
	ASCII
)

func (e Encoding) String() string {
	switch e {
	case Latin1:
		return "latin1"
	case Raw:
		return "raw"
	case ASCII:
		return "ascii"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ParseEncoding is the inverse of Encoding.String.
func ParseEncoding(name string) (Encoding, error) {
	switch strings.ToLower(name) {
	case "latin1", "latin-1", "iso-8859-1", "":
		return Latin1, nil
	case "raw", "bytes":
		return Raw, nil
	case "ascii":
		return ASCII, nil
	}
	return 0, fmt.Errorf("unknown encoding %q", name)
}

// Append appends the encoding of v to dst.
func (e Encoding) Append(dst []byte, v uint8) ([]byte, error) {
	switch e {
	case Latin1:
		return utf8.AppendRune(dst, charmap.ISO8859_1.DecodeByte(v)), nil
	case Raw:
		return append(dst, v), nil
	case ASCII:
		if v >= utf8.RuneSelf {
			return dst, fmt.Errorf("%w: %d is not ASCII", ErrEncoding, v)
		}
		return append(dst, v), nil
	}
	return dst, fmt.Errorf("%w: unknown encoding %v", ErrEncoding, e)
}

type flusher interface {
	Flush() error
}

// writeFlush writes p and flushes w if it buffers.
func writeFlush(w io.Writer, p []byte) error {
	if _, err := w.Write(p); err != nil {
		return err
	}
	if f, ok := w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
