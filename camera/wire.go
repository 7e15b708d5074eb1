package camera

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	forensic "github.com/sightline/forensic"
)

// Content types the protocol declares on message bodies.
const (
	contentJSON = "application/json"
	contentXML  = "application/xml"
)

// methodcall builds the XML control body for a request. Parameters
// are emitted in order as simple child elements.
func methodcall(requestID int, method string, params ...[2]string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("<methodcall>")
	fmt.Fprintf(&b, "<requestid>%d</requestid>", requestID)
	fmt.Fprintf(&b, "<methodname>%s</methodname>", method)
	for _, p := range params {
		fmt.Fprintf(&b, "<%s>%s</%s>", p[0], p[1], p[0])
	}
	b.WriteString("</methodcall>")
	return b.String()
}

// writeRequest sends the header block and XML body over the connection.
func writeRequest(w io.Writer, xmlBody string) error {
	var b strings.Builder
	b.WriteString("Accept: application/json\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(xmlBody))
	b.WriteString("Content-Type: application/xml\r\n")
	b.WriteString("\r\n")
	b.WriteString(xmlBody)

	if _, err := io.WriteString(w, b.String()); err != nil {
		return &forensic.ProtocolError{Op: "write request", Err: err}
	}
	return nil
}

// message is one header-block framed unit read off the wire.
type message struct {
	contentType string
	body        []byte
}

// isJSON reports whether the body was declared as JSON.
func (m *message) isJSON() bool {
	return strings.Contains(strings.ToLower(m.contentType), contentJSON)
}

// readMessage reads one header block and its body. A header line
// without a "key: value" shape is logged and skipped; the message
// still parses using the declared Content-Length. A connection closed
// cleanly before any header byte returns io.EOF.
func readMessage(r *bufio.Reader, logger *slog.Logger) (*message, error) {
	headers := make(map[string]string)
	first := true
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if first && errors.Is(err, io.EOF) && line == "" {
				return nil, io.EOF
			}
			return nil, &forensic.ProtocolError{Op: "read headers", Err: err}
		}
		first = false
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		key, value, found := strings.Cut(line, ": ")
		if !found {
			logger.Warn("skipping malformed header line", slog.String("line", line))
			continue
		}
		headers[key] = value
	}

	length := 0
	if raw, ok := headers["Content-Length"]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, &forensic.ProtocolError{Op: "parse content length", Err: err}
		}
		length = n
	}

	body := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, &forensic.ProtocolError{Op: "read body", Err: err}
		}
	}

	return &message{contentType: headers["Content-Type"], body: body}, nil
}

// conn is a single-use protocol connection. One request is written at
// open; messages are read until the stream ends or the conn is closed.
type conn struct {
	tcp         net.Conn
	reader      *bufio.Reader
	readTimeout time.Duration
	logger      *slog.Logger
}

// dial opens a connection and sends the request body.
func dial(addr string, dialTimeout, readTimeout time.Duration, xmlBody string, logger *slog.Logger) (*conn, error) {
	tcp, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, &forensic.ProtocolError{Op: "dial " + addr, Err: err}
	}

	if err := tcp.SetWriteDeadline(time.Now().Add(dialTimeout)); err != nil {
		tcp.Close()
		return nil, &forensic.ProtocolError{Op: "set write deadline", Err: err}
	}
	if err := writeRequest(tcp, xmlBody); err != nil {
		tcp.Close()
		return nil, err
	}

	return &conn{
		tcp:         tcp,
		reader:      bufio.NewReader(tcp),
		readTimeout: readTimeout,
		logger:      logger,
	}, nil
}

// next reads the next framed message, bounded by the read timeout.
func (c *conn) next() (*message, error) {
	if err := c.tcp.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return nil, &forensic.ProtocolError{Op: "set read deadline", Err: err}
	}
	return readMessage(c.reader, c.logger)
}

func (c *conn) Close() error {
	return c.tcp.Close()
}

// decodeJSONBody parses a JSON message body into dst.
func decodeJSONBody(m *message, dst any) error {
	if err := json.Unmarshal(m.body, dst); err != nil {
		return &forensic.ProtocolError{Op: "decode json body", Err: err}
	}
	return nil
}
