package switchboard

import (
	"bytes"
	"strings"
	"testing"

	"legacy_chat_server/pkg/errorx"
)

func TestReadSimpleFrame(t *testing.T) {
	r := NewFrameReader(strings.NewReader("USR 1 a@example.com token-1\r\n"))
	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Verb != "USR" {
		t.Fatalf("verb = %q", frame.Verb)
	}
	if len(frame.Args) != 3 || frame.Args[1] != "a@example.com" {
		t.Fatalf("args = %v", frame.Args)
	}
	if frame.Payload != nil {
		t.Fatal("non-payload verb must not carry a payload")
	}
}

func TestReadFrameUnescapesTokens(t *testing.T) {
	r := NewFrameReader(strings.NewReader("USR 1 some%20name token\r\n"))
	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Args[1] != "some name" {
		t.Fatalf("unescaped arg = %q", frame.Args[1])
	}
}

func TestReadPayloadFrame(t *testing.T) {
	body := "MIME-Version: 1.0\r\n\r\nhello"
	input := "MSG 3 N " + "26" + "\r\n" + body
	if len(body) != 26 {
		t.Fatalf("fixture length drifted: %d", len(body))
	}
	r := NewFrameReader(strings.NewReader(input))
	frame, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Verb != "MSG" || len(frame.Args) != 2 {
		t.Fatalf("frame = %+v", frame)
	}
	if string(frame.Payload) != body {
		t.Fatalf("payload = %q", frame.Payload)
	}
}

func TestReadFrameRejectsBadPayloadLength(t *testing.T) {
	for _, input := range []string{
		"MSG 3 N xyz\r\n",
		"MSG 3 N 999999999\r\n",
		"MSG\r\n",
	} {
		r := NewFrameReader(strings.NewReader(input))
		_, err := r.ReadFrame()
		if errorx.GetCode(err) != errorx.CodeProtocolViolation {
			t.Fatalf("input %q: expected protocol violation, got %v", input, err)
		}
	}
}

func TestReadFrameRejectsEmptyLine(t *testing.T) {
	r := NewFrameReader(strings.NewReader("\r\n"))
	if _, err := r.ReadFrame(); errorx.GetCode(err) != errorx.CodeProtocolViolation {
		t.Fatalf("expected protocol violation, got %v", err)
	}
}

func TestWriteFrameEscapesSpaces(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	if err := w.WriteFrame("USR", "1", "OK", "a@example.com", "Some Name"); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got := buf.String(); got != "USR 1 OK a@example.com Some%20Name\r\n" {
		t.Fatalf("wire = %q", got)
	}
}

func TestWriteFramePayload(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	payload := []byte("raw bytes here")
	if err := w.WriteFrame("MSG", "a@example.com", "Alice", payload); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	want := "MSG a@example.com Alice 14\r\nraw bytes here"
	if got := buf.String(); got != want {
		t.Fatalf("wire = %q, want %q", got, want)
	}
}

func TestWriteFrameIntArgs(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	if err := w.WriteFrame("IRO", "2", 1, 4, "a@example.com"); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if got := buf.String(); got != "IRO 2 1 4 a@example.com\r\n" {
		t.Fatalf("wire = %q", got)
	}
}
