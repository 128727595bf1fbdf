package transport_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/tradewire/gofix/internal/transport"
)

// frame is a correctly framed two-field message: BodyLength 5 covers
// "35=0\x01" and the trailer is the fixed-size CheckSum field.
const frame = "8=FIX.4.4\x019=5\x0135=0\x0110=111\x01"

func TestExtractFrameComplete(t *testing.T) {
	t.Parallel()

	got, rest, err := transport.ExtractFrame([]byte(frame + "8=FIX"))
	if err != nil {
		t.Fatalf("ExtractFrame: %v", err)
	}
	if string(got) != frame {
		t.Errorf("frame = %q", got)
	}
	if string(rest) != "8=FIX" {
		t.Errorf("rest = %q", rest)
	}
}

func TestExtractFrameIncomplete(t *testing.T) {
	t.Parallel()

	for i := 1; i < len(frame); i++ {
		got, rest, err := transport.ExtractFrame([]byte(frame[:i]))
		if err != nil {
			t.Fatalf("prefix %d: unexpected error %v", i, err)
		}
		if got != nil {
			t.Fatalf("prefix %d: got frame %q from incomplete input", i, got)
		}
		if string(rest) != frame[:i] {
			t.Fatalf("prefix %d: buffer not preserved: %q", i, rest)
		}
	}
}

func TestExtractFrameResynchronizes(t *testing.T) {
	t.Parallel()

	garbled := "NOISE\x01garbage" + frame
	buf := []byte(garbled)
	for {
		got, rest, err := transport.ExtractFrame(buf)
		buf = rest
		if got != nil {
			if string(got) != frame {
				t.Fatalf("frame = %q", got)
			}
			return
		}
		if err == nil {
			t.Fatalf("lost the frame while resynchronizing, rest = %q", rest)
		}
		if !errors.Is(err, transport.ErrGarbledFrame) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestExtractFrameBadBodyLength(t *testing.T) {
	t.Parallel()

	_, _, err := transport.ExtractFrame([]byte("8=FIX.4.4\x019=abc\x0135=0\x01"))
	if !errors.Is(err, transport.ErrGarbledFrame) {
		t.Errorf("error = %v, want ErrGarbledFrame", err)
	}
}

// chunkReader serves its payload in fixed-size pieces to exercise partial
// reads across frame boundaries.
type chunkReader struct {
	data []byte
	size int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := c.size
	if n > len(c.data) {
		n = len(c.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, c.data[:n])
	c.data = c.data[n:]
	return n, nil
}

func TestFrameReaderAcrossChunks(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte(frame), 3)
	for _, chunkSize := range []int{1, 3, 7, 64, len(payload)} {
		fr := transport.NewFrameReader(&chunkReader{data: append([]byte(nil), payload...), size: chunkSize})
		for i := 0; i < 3; i++ {
			got, err := fr.ReadFrame()
			if err != nil {
				t.Fatalf("chunk %d frame %d: %v", chunkSize, i, err)
			}
			if string(got) != frame {
				t.Fatalf("chunk %d frame %d = %q", chunkSize, i, got)
			}
		}
		if _, err := fr.ReadFrame(); !errors.Is(err, io.EOF) {
			t.Fatalf("chunk %d: expected EOF, got %v", chunkSize, err)
		}
	}
}
