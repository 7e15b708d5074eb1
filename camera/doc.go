// Package camera implements the client side of the camera-management
// server protocol: a minimal single-shot header-block exchange carrying
// XML control messages, with live and replay video streams multiplexed
// over the same framing.
//
// Every request opens its own TCP connection; the connection is closed
// on every exit path. A request is a block of header lines (Accept,
// Content-Length, Content-Type), a blank line, and an XML methodcall
// body. Responses are parsed the same way; the body is JSON, XML, or
// raw bytes depending on the declared Content-Type. A malformed header
// line is skipped, not fatal.
//
// Live streams deliver raw frames behind a fixed big-endian binary
// header (luma8 or planar YUV420). Replay streams interleave JSON
// frame metadata with encoded video packets, decoded through the
// package's codec registry; a packet that fails to decode resets the
// decoder and the stream continues.
package camera
