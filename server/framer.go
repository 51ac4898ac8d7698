package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// framing errors; any of them abandons the connection without a response
var (
	ErrIncomplete       = errors.New("incomplete request")
	ErrHeaderTooLarge   = errors.New("headers too large")
	ErrBodyTooLarge     = errors.New("body too large")
	ErrBadContentLength = errors.New("invalid content length")
)

var (
	headerDelimiter    = []byte("\r\n\r\n")
	lineDelimiter      = []byte("\r\n")
	contentLengthToken = []byte("Content-Length")
)

// Limits bounds how much a single request may occupy. Zero means unbounded.
type Limits struct {
	MaxHeaderSize int
	MaxBodySize   int64
}

// Frame is one request split at the header/body delimiter.
// Header excludes the delimiter; Body holds exactly the declared length.
type Frame struct {
	Header []byte
	Body   []byte
}

// ReadFrame reads from r until the header delimiter is found, then reads
// exactly Content-Length body bytes. Bytes past the declared length are
// discarded, and without a Content-Length the body is empty.
func ReadFrame(r io.Reader, lim Limits) (*Frame, error) {
	bufPtr := frameBufferPool.Get().(*[]byte)
	buf := (*bufPtr)[:0]

	defer func() {
		if cap(buf) <= maxPoolBufferSize {
			*bufPtr = buf[:0]
			frameBufferPool.Put(bufPtr)
		}
	}()

	chunkPtr := chunkBufferPool.Get().(*[]byte)
	defer chunkBufferPool.Put(chunkPtr)
	chunk := *chunkPtr

	end := -1
	scanned := 0
	for {
		n, err := r.Read(chunk)
		buf = append(buf, chunk[:n]...)

		// the delimiter may straddle two reads
		from := scanned - len(headerDelimiter) + 1
		if from < 0 {
			from = 0
		}
		if i := bytes.Index(buf[from:], headerDelimiter); i >= 0 {
			end = from + i
			break
		}
		scanned = len(buf)

		if lim.MaxHeaderSize > 0 && len(buf) > lim.MaxHeaderSize {
			return nil, ErrHeaderTooLarge
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, ErrIncomplete
			}
			return nil, err
		}
	}

	if lim.MaxHeaderSize > 0 && end > lim.MaxHeaderSize {
		return nil, ErrHeaderTooLarge
	}

	frame := &Frame{Header: make([]byte, end)}
	copy(frame.Header, buf[:end])
	rest := buf[end+len(headerDelimiter):]

	length, ok, err := contentLength(frame.Header)
	if err != nil {
		return nil, err
	}
	if !ok || length == 0 {
		return frame, nil
	}
	if lim.MaxBodySize > 0 && int64(length) > lim.MaxBodySize {
		return nil, ErrBodyTooLarge
	}

	body := make([]byte, length)
	copied := copy(body, rest)
	if copied < length {
		if _, err := io.ReadFull(r, body[copied:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, ErrIncomplete
			}
			return nil, err
		}
	}
	frame.Body = body

	return frame, nil
}

// contentLength scans the raw header block for a Content-Length field.
// Parsing has not happened yet, so the literal token is matched at the
// start of a line.
func contentLength(header []byte) (int, bool, error) {
	offset := 0
	for {
		i := bytes.Index(header[offset:], contentLengthToken)
		if i < 0 {
			return 0, false, nil
		}
		i += offset
		offset = i + len(contentLengthToken)
		if i > 0 && header[i-1] != '\n' {
			continue
		}

		rest := bytes.TrimLeft(header[offset:], " \t")
		if len(rest) == 0 || rest[0] != ':' {
			continue
		}
		rest = rest[1:]
		if j := bytes.Index(rest, lineDelimiter); j >= 0 {
			rest = rest[:j]
		}

		value := bytes.TrimSpace(rest)
		n, err := strconv.Atoi(string(value))
		if err != nil || n < 0 {
			return 0, false, fmt.Errorf("%w: %q", ErrBadContentLength, value)
		}
		return n, true, nil
	}
}
