// Package infer implements the client side of the inference service:
// an HTTP describe handshake that gates on server version and lists
// the available model paths, and one lazily-opened persistent
// WebSocket channel per model carrying detection and classification
// requests.
//
// A request is a JSON control frame (thresholds), a JSON envelope
// (image type, resolution for planar images), then the raw image
// bytes: one blob for JPEG, three ordered blobs (Y, U, V) for planar
// YUV420. Responses are read with a bounded per-read deadline,
// skipping non-terminal messages until one with msg "response" or
// "error" arrives.
//
// Detector boxes use a normalized coordinate frame centered on the
// image, x scaled by 8/3 and y inverted; PixelBox converts to clamped
// pixel coordinates and Thumbnail crops an expanded JPEG around a box.
package infer
