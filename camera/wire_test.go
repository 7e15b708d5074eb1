package camera

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestMethodcall(t *testing.T) {
	got := methodcall(1, "live", [2]string{"cameraid", "cam-1"})
	want := `<?xml version="1.0" encoding="UTF-8"?>` +
		"<methodcall><requestid>1</requestid><methodname>live</methodname>" +
		"<cameraid>cam-1</cameraid></methodcall>"
	if got != want {
		t.Errorf("methodcall = %q, want %q", got, want)
	}
}

func TestWriteRequest(t *testing.T) {
	var b strings.Builder
	body := methodcall(0, "systeminfo")
	if err := writeRequest(&b, body); err != nil {
		t.Fatalf("writeRequest: %v", err)
	}

	got := b.String()
	if !strings.HasPrefix(got, "Accept: application/json\r\n") {
		t.Errorf("missing Accept header: %q", got)
	}
	if !strings.Contains(got, "Content-Type: application/xml\r\n") {
		t.Errorf("missing Content-Type header: %q", got)
	}
	if !strings.HasSuffix(got, "\r\n\r\n"+body) {
		t.Errorf("body not after blank line: %q", got)
	}
}

func TestReadMessage(t *testing.T) {
	raw := "Content-Length: 5\r\nContent-Type: application/json\r\n\r\nhello"
	msg, err := readMessage(bufio.NewReader(strings.NewReader(raw)), testLogger())
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if string(msg.body) != "hello" {
		t.Errorf("body = %q", msg.body)
	}
	if !msg.isJSON() {
		t.Error("content type not recognized as JSON")
	}
}

func TestReadMessage_SkipsMalformedHeaderLine(t *testing.T) {
	raw := "Content-Type: application/xml\r\n" +
		"this line has no separator\r\n" +
		"Content-Length: 9\r\n" +
		"\r\n" +
		"<ok></ok>"
	msg, err := readMessage(bufio.NewReader(strings.NewReader(raw)), testLogger())
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if string(msg.body) != "<ok></ok>" {
		t.Errorf("body = %q", msg.body)
	}
	if msg.contentType != "application/xml" {
		t.Errorf("content type = %q", msg.contentType)
	}
}

func TestReadMessage_EmptyBody(t *testing.T) {
	raw := "Content-Type: application/json\r\n\r\n"
	msg, err := readMessage(bufio.NewReader(strings.NewReader(raw)), testLogger())
	if err != nil {
		t.Fatalf("readMessage: %v", err)
	}
	if len(msg.body) != 0 {
		t.Errorf("body = %q, want empty", msg.body)
	}
}

func TestReadMessage_CleanEOF(t *testing.T) {
	_, err := readMessage(bufio.NewReader(strings.NewReader("")), testLogger())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestReadMessage_BadContentLength(t *testing.T) {
	raw := "Content-Length: banana\r\n\r\n"
	if _, err := readMessage(bufio.NewReader(strings.NewReader(raw)), testLogger()); err == nil {
		t.Fatal("readMessage accepted non-numeric Content-Length")
	}
}
