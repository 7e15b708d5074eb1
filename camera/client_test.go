package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"
)

// fixtureServer accepts one connection, reads the request, and writes
// a scripted sequence of framed messages.
type fixtureServer struct {
	listener net.Listener
	requests chan string
}

func newFixtureServer(t *testing.T, serve func(w io.Writer)) *fixtureServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fixtureServer{listener: ln, requests: make(chan string, 1)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		var req strings.Builder
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			req.WriteString(line)
			if line == "\r\n" {
				break
			}
		}
		// The XML body follows the blank line; drain what fits.
		body := make([]byte, 4096)
		conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		n, _ := r.Read(body)
		req.Write(body[:n])
		s.requests <- req.String()

		conn.SetReadDeadline(time.Time{})
		serve(conn)
	}()
	return s
}

func (s *fixtureServer) hostPort(t *testing.T) (string, int) {
	t.Helper()
	addr := s.listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func writeFramed(w io.Writer, contentType string, body []byte) {
	fmt.Fprintf(w, "Content-Length: %d\r\nContent-Type: %s\r\n\r\n", len(body), contentType)
	w.Write(body)
}

func TestClient_SystemInfo(t *testing.T) {
	srv := newFixtureServer(t, func(w io.Writer) {
		writeFramed(w, contentJSON, []byte(`{"cam-a": {"name": "gate"}, "cam-b": {"name": "lobby"}}`))
	})

	host, port := srv.hostPort(t)
	client := NewClient(host, port, testLogger())

	info, err := client.SystemInfo(context.Background())
	if err != nil {
		t.Fatalf("SystemInfo: %v", err)
	}
	if got := info.Cameras(); len(got) != 2 || got[0] != "cam-a" || got[1] != "cam-b" {
		t.Errorf("cameras = %v", got)
	}

	req := <-srv.requests
	if !strings.Contains(req, "<methodname>systeminfo</methodname>") {
		t.Errorf("request = %q", req)
	}
	if !strings.Contains(req, "Content-Type: application/xml") {
		t.Errorf("request missing content type: %q", req)
	}
}

func TestClient_Live(t *testing.T) {
	const w, h = 4, 2
	frame := append(buildFrameHeader(FormatLuma8, w, h, w, w/2), make([]byte, w*h)...)

	srv := newFixtureServer(t, func(out io.Writer) {
		writeFramed(out, contentJSON, []byte(`{"status": "ok"}`)) // request ack
		writeFramed(out, "application/octet-stream", frame)
	})

	host, port := srv.hostPort(t)
	client := NewClient(host, port, testLogger())

	stream, err := client.Live(context.Background(), "cam-a")
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	defer stream.Close()

	f, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Image.Bounds().Dx() != w || f.Image.Bounds().Dy() != h {
		t.Errorf("bounds = %v", f.Image.Bounds())
	}
	if f.Timestamp.IsZero() {
		t.Error("live frame has no timestamp")
	}

	req := <-srv.requests
	if !strings.Contains(req, "<cameraid>cam-a</cameraid>") {
		t.Errorf("request = %q", req)
	}
}

func TestClient_Live_UnknownFormatEndsStream(t *testing.T) {
	frame := append(buildFrameHeader(7, 4, 2, 4, 2), make([]byte, 8)...)

	srv := newFixtureServer(t, func(out io.Writer) {
		writeFramed(out, contentJSON, []byte(`{}`))
		writeFramed(out, "application/octet-stream", frame)
	})

	host, port := srv.hostPort(t)
	client := NewClient(host, port, testLogger())

	stream, err := client.Live(context.Background(), "cam-a")
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	defer stream.Close()

	if _, err := stream.Next(context.Background()); err == nil {
		t.Fatal("Next accepted unknown image format")
	}
}

func TestClient_Replay(t *testing.T) {
	good := encodeJPEG(t, 8, 6)

	srv := newFixtureServer(t, func(out io.Writer) {
		// Declared format disagrees with the packet bytes; the sniffed
		// codec must win.
		writeFramed(out, contentJSON, []byte(`{"FrameTime": "2024-03-01T12:00:00Z", "Format": "H264"}`))
		writeFramed(out, "application/octet-stream", good)

		// A corrupt packet resets the decoder; the stream continues.
		writeFramed(out, contentJSON, []byte(`{"FrameTime": "2024-03-01T12:00:01Z", "Format": "H264"}`))
		writeFramed(out, "application/octet-stream", []byte{0x01, 0x02, 0x03})

		writeFramed(out, contentJSON, []byte(`{"FrameTime": "2024-03-01T12:00:02Z", "Format": "H264"}`))
		writeFramed(out, "application/octet-stream", good)
	})

	host, port := srv.hostPort(t)
	client := NewClient(host, port, testLogger())

	stream, err := client.Replay(context.Background(), "cam-a",
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC),
		5,
	)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	defer stream.Close()

	f1, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	want1 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	if !f1.Timestamp.Equal(want1) {
		t.Errorf("first frame time = %v, want %v", f1.Timestamp, want1)
	}

	// The corrupt packet is skipped; the next frame carries the third
	// metadata timestamp.
	f2, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next after corrupt packet: %v", err)
	}
	want2 := time.Date(2024, 3, 1, 12, 0, 2, 0, time.UTC)
	if !f2.Timestamp.Equal(want2) {
		t.Errorf("second frame time = %v, want %v", f2.Timestamp, want2)
	}

	req := <-srv.requests
	for _, part := range []string{
		"<methodname>replay</methodname>",
		"<cameraid>cam-a</cameraid>",
		"<fromtime>2024-03-01T12:00:00Z</fromtime>",
		"<totime>2024-03-01T12:05:00Z</totime>",
		"<gap>5</gap>",
	} {
		if !strings.Contains(req, part) {
			t.Errorf("request missing %q: %q", part, req)
		}
	}
}

func TestClient_Replay_EndOfStream(t *testing.T) {
	srv := newFixtureServer(t, func(out io.Writer) {
		writeFramed(out, contentJSON, []byte(`{"FrameTime": "2024-03-01T12:00:00Z", "Format": "mjpeg"}`))
	})

	host, port := srv.hostPort(t)
	client := NewClient(host, port, testLogger())

	stream, err := client.Replay(context.Background(), "cam-a",
		time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 12, 5, 0, 0, time.UTC),
		0,
	)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	defer stream.Close()

	_, err = stream.Next(context.Background())
	if err == nil {
		t.Fatal("Next returned a frame from an ended stream")
	}
	if !errors.Is(err, io.EOF) {
		// The server closing mid-read surfaces as a protocol error;
		// either way the stream ends.
		var perr interface{ Unwrap() error }
		if !errors.As(err, &perr) {
			t.Fatalf("err = %v", err)
		}
	}
}

func TestClient_Replay_ContextCancelled(t *testing.T) {
	srv := newFixtureServer(t, func(out io.Writer) {
		writeFramed(out, contentJSON, []byte(`{"FrameTime": "2024-03-01T12:00:00Z", "Format": "mjpeg"}`))
		time.Sleep(500 * time.Millisecond)
	})

	host, port := srv.hostPort(t)
	client := NewClient(host, port, testLogger())

	stream, err := client.Replay(context.Background(), "cam-a",
		time.Now().Add(-time.Hour), time.Now(), 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	defer stream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stream.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
