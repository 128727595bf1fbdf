// Package transport implements the connection drivers: message framing,
// the threaded acceptor, the dialing initiator, and the single-threaded
// reactor variant.
package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// -------------------------------------------------------------------------
// Framing
// -------------------------------------------------------------------------

// Framing limits. A frame larger than maxFrameSize is treated as garbage
// and resynchronized away.
const (
	maxFrameSize = 1 << 20

	// checksumFieldLen is the fixed wire size of "10=NNN<SOH>".
	checksumFieldLen = 7
)

// ErrGarbledFrame indicates bytes that cannot begin a FIX message. The
// framer discards them and resynchronizes on the next BeginString.
var ErrGarbledFrame = errors.New("garbled frame")

var beginStringPrefix = []byte("8=")

// ExtractFrame scans buf for one complete FIX message: BeginString through
// the CheckSum field's SOH. It frames by reading the declared BodyLength
// after the BodyLength field's SOH plus the fixed-size CheckSum field.
//
// Returns (frame, rest, nil) when a full message is present, (nil, buf,
// nil) when more bytes are needed, and (nil, rest, ErrGarbledFrame) when
// leading bytes had to be discarded to resynchronize.
func ExtractFrame(buf []byte) (frame, rest []byte, err error) {
	start := bytes.Index(buf, beginStringPrefix)
	if start < 0 {
		// Nothing that looks like a message start; keep at most one byte
		// in case a prefix straddles the read boundary.
		if len(buf) > 1 {
			return nil, buf[len(buf)-1:], ErrGarbledFrame
		}
		return nil, buf, nil
	}
	if start > 0 {
		return nil, buf[start:], ErrGarbledFrame
	}

	// BeginString field.
	soh := bytes.IndexByte(buf, sohByte)
	if soh < 0 {
		return nil, buf, needMore(buf)
	}

	// BodyLength field must follow immediately.
	lengthField := buf[soh+1:]
	if len(lengthField) < 2 {
		return nil, buf, needMore(buf)
	}
	if lengthField[0] != '9' || lengthField[1] != '=' {
		return nil, buf[soh+1:], ErrGarbledFrame
	}
	lengthEnd := bytes.IndexByte(lengthField, sohByte)
	if lengthEnd < 0 {
		return nil, buf, needMore(buf)
	}

	bodyLength := 0
	for _, c := range lengthField[2:lengthEnd] {
		if c < '0' || c > '9' {
			return nil, buf[soh+1:], ErrGarbledFrame
		}
		bodyLength = bodyLength*10 + int(c-'0')
		if bodyLength > maxFrameSize {
			return nil, buf[soh+1:], ErrGarbledFrame
		}
	}

	total := soh + 1 + lengthEnd + 1 + bodyLength + checksumFieldLen
	if total > maxFrameSize {
		return nil, buf[soh+1:], ErrGarbledFrame
	}
	if len(buf) < total {
		return nil, buf, nil
	}

	frame = buf[:total]
	if !bytes.HasPrefix(frame[total-checksumFieldLen:], []byte("10=")) ||
		frame[total-1] != sohByte {
		return nil, buf[soh+1:], ErrGarbledFrame
	}
	return frame, buf[total:], nil
}

// needMore distinguishes "incomplete" from "oversized garbage".
func needMore(buf []byte) error {
	if len(buf) > maxFrameSize {
		return ErrGarbledFrame
	}
	return nil
}

const sohByte = 0x01

// -------------------------------------------------------------------------
// FrameReader — blocking framer over an io.Reader
// -------------------------------------------------------------------------

// FrameReader frames messages from a blocking byte stream. Used by the
// thread-per-connection drivers; the reactor feeds ExtractFrame directly
// from its non-blocking read buffer.
type FrameReader struct {
	r   io.Reader
	buf []byte
}

// NewFrameReader wraps a stream.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r, buf: make([]byte, 0, 4096)}
}

// ReadFrame blocks until one complete message is available and returns it.
// Garbled leading bytes are discarded. Returns the underlying read error
// (io.EOF on orderly close).
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for {
		frame, rest, err := ExtractFrame(fr.buf)
		fr.buf = rest
		if frame != nil {
			cp := make([]byte, len(frame))
			copy(cp, frame)
			return cp, nil
		}
		if err != nil && !errors.Is(err, ErrGarbledFrame) {
			return nil, err
		}
		if err == nil && len(fr.buf) > maxFrameSize {
			return nil, fmt.Errorf("frame exceeds %d bytes: %w", maxFrameSize, ErrGarbledFrame)
		}

		chunk := make([]byte, 4096)
		n, rerr := fr.r.Read(chunk)
		if n > 0 {
			fr.buf = append(fr.buf, chunk[:n]...)
			continue
		}
		if rerr != nil {
			return nil, rerr
		}
	}
}
