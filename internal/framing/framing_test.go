package framing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestWriteMessage_WireFormat(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(strings.NewReader(""), &buf)

	if err := s.WriteMessage(map[string]string{"hello": "world"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"hello": "world"})
	want := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
	if got := buf.String(); got != want {
		t.Fatalf("frame mismatch:\n got: %q\nwant: %q", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewStream(strings.NewReader(""), &buf)

	msgs := []map[string]string{
		{"msg": "plain ascii"},
		{"msg": "héllo wörld ✓ 世界"},
		{"msg": ""},
	}
	for _, m := range msgs {
		if err := w.WriteMessage(m); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	r := NewStream(&buf, io.Discard)
	for i, want := range msgs {
		body, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		var got map[string]string
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if got["msg"] != want["msg"] {
			t.Fatalf("message %d: got %q, want %q", i, got["msg"], want["msg"])
		}
	}

	if _, err := r.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after last frame, got %v", err)
	}
}

func TestReadMessage_PartialDelivery(t *testing.T) {
	pr, pw := io.Pipe()
	s := NewStream(pr, io.Discard)

	body := []byte(`{"msg":"dribbled ✓"}`)
	frame := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)

	go func() {
		defer pw.Close()
		for _, b := range []byte(frame) {
			if _, err := pw.Write([]byte{b}); err != nil {
				return
			}
			time.Sleep(10 * time.Microsecond)
		}
	}()

	got, err := s.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("body mismatch: got %q, want %q", got, body)
	}
}

func TestReadMessage_CleanEOF(t *testing.T) {
	s := NewStream(strings.NewReader(""), io.Discard)
	if _, err := s.ReadMessage(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadMessage_EOFInHeaders(t *testing.T) {
	s := NewStream(strings.NewReader("Content-Length: 10\r\n"), io.Discard)
	if _, err := s.ReadMessage(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadMessage_TruncatedBody(t *testing.T) {
	s := NewStream(strings.NewReader("Content-Length: 10\r\n\r\n{}"), io.Discard)
	if _, err := s.ReadMessage(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestReadMessage_BadContentLength(t *testing.T) {
	for _, raw := range []string{
		"Content-Length: nope\r\n\r\n",
		"Content-Length: -1\r\n\r\n",
		"not a header line\r\n\r\n",
		"Content-Type: application/json\r\n\r\n",
	} {
		s := NewStream(strings.NewReader(raw), io.Discard)
		if _, err := s.ReadMessage(); !errors.Is(err, ErrInvalidHeader) {
			t.Fatalf("input %q: expected ErrInvalidHeader, got %v", raw, err)
		}
	}
}

func TestReadMessage_FrameTooLarge(t *testing.T) {
	s := NewStream(strings.NewReader("Content-Length: 1048576\r\n\r\n"), io.Discard, WithMaxFrameSize(16))
	if _, err := s.ReadMessage(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadMessage_ExtraHeadersAndCasing(t *testing.T) {
	body := `{"ok":true}`
	raw := fmt.Sprintf("Content-Type: application/json\r\ncontent-length: %d\r\n\r\n%s", len(body), body)
	s := NewStream(strings.NewReader(raw), io.Discard)

	got, err := s.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != body {
		t.Fatalf("body mismatch: got %q, want %q", got, body)
	}
}

// Headers may arrive with bare \n line endings from lenient peers.
func TestReadMessage_BareNewlines(t *testing.T) {
	body := `{"ok":true}`
	raw := fmt.Sprintf("Content-Length: %d\n\n%s", len(body), body)
	s := NewStream(strings.NewReader(raw), io.Discard)

	got, err := s.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != body {
		t.Fatalf("body mismatch: got %q, want %q", got, body)
	}
}

func TestWriteMessage_ConcurrentWritersDoNotInterleave(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(strings.NewReader(""), &buf)

	const writers = 16
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			msg := map[string]string{"writer": fmt.Sprintf("w-%d", n), "pad": strings.Repeat("x", 256)}
			if err := s.WriteMessage(msg); err != nil {
				t.Errorf("writer %d: %v", n, err)
			}
		}(i)
	}
	wg.Wait()

	r := NewStream(&buf, io.Discard)
	seen := map[string]bool{}
	for i := 0; i < writers; i++ {
		body, err := r.ReadMessage()
		if err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		var got map[string]string
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("frame %d corrupted: %v", i, err)
		}
		seen[got["writer"]] = true
	}
	if len(seen) != writers {
		t.Fatalf("expected %d distinct frames, got %d", writers, len(seen))
	}
}
