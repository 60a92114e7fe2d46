// Package framing implements the length-prefixed message framing used by the
// agent wire protocol: each message is a UTF-8 JSON document preceded by a
// header block of the form "Content-Length: <n>\r\n\r\n".
package framing

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
)

// DefaultMaxFrameSize bounds how large an incoming frame may claim to be
// before it is rejected without allocation.
const DefaultMaxFrameSize = 64 << 20

var (
	// ErrInvalidHeader indicates a malformed or missing framing header. The
	// stream cannot be resynchronized after this error.
	ErrInvalidHeader = errors.New("framing: invalid header")
	// ErrFrameTooLarge indicates a frame that declared a length beyond the
	// configured maximum.
	ErrFrameTooLarge = errors.New("framing: frame too large")
)

// Option configures a Stream.
type Option func(*Stream)

// WithMaxFrameSize overrides the maximum accepted frame size. Non-positive
// values are ignored.
func WithMaxFrameSize(n int) Option {
	return func(s *Stream) {
		if n > 0 {
			s.maxFrameSize = n
		}
	}
}

// Stream reads and writes framed JSON messages over a byte-oriented
// transport. Reads must be performed by a single goroutine; writes are safe
// for concurrent use.
type Stream struct {
	r *bufio.Reader

	wmu sync.Mutex
	w   io.Writer

	maxFrameSize int
}

// NewStream wraps the given reader and writer in a framed message stream.
func NewStream(r io.Reader, w io.Writer, opts ...Option) *Stream {
	s := &Stream{
		r:            bufio.NewReader(r),
		w:            w,
		maxFrameSize: DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriteMessage JSON-encodes v and writes it as a single frame. The header and
// body are emitted in one Write call so concurrent writers never interleave
// partial frames.
func (s *Stream) WriteMessage(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("framing: marshal message: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("framing: write frame: %w", err)
	}
	return nil
}

// ReadMessage reads the next frame and returns its body. It returns io.EOF
// only when the stream ends cleanly on a frame boundary; an EOF inside a
// frame surfaces as io.ErrUnexpectedEOF. Header errors wrap ErrInvalidHeader
// and leave the stream in an unrecoverable state.
func (s *Stream) ReadMessage() ([]byte, error) {
	length := -1
	first := true

	for {
		line, err := s.readHeaderLine()
		if err != nil {
			if errors.Is(err, io.EOF) && !first {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
		first = false

		if line == "" {
			break
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidHeader, line)
		}
		// Headers other than Content-Length (e.g. Content-Type) are ignored.
		if !strings.EqualFold(strings.TrimSpace(name), "Content-Length") {
			continue
		}

		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad Content-Length %q", ErrInvalidHeader, strings.TrimSpace(value))
		}
		length = n
	}

	if length < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length", ErrInvalidHeader)
	}
	if length > s.maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, length, s.maxFrameSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(s.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// readHeaderLine reads one header line, stripping the trailing line ending.
// An EOF with no bytes consumed for this line is reported as io.EOF; an EOF
// mid-line is io.ErrUnexpectedEOF.
func (s *Stream) readHeaderLine() (string, error) {
	line, err := s.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return "", io.EOF
			}
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
