package camera

import (
	"context"
	"encoding/binary"
	"fmt"
	"image"
	"time"

	forensic "github.com/sightline/forensic"
)

// Image format codes carried in the live frame header.
const (
	FormatLuma8  = 1
	FormatYUV420 = 2
)

// frameHeaderSize is the fixed byte length of the live frame header:
// big-endian u16 u32 u16 u16 u16 u64 u32 u32 u32 u32 u32.
const frameHeaderSize = 40

// frameHeader is the binary header preceding every live frame.
type frameHeader struct {
	Channel  uint16
	Sequence uint32
	Format   uint16
	Flags    uint16
	Reserved uint16
	Timecode uint64
	Width    uint32
	Height   uint32
	StrideY  uint32
	StrideUV uint32
	Tail     uint32
}

// parseFrameHeader decodes the header and returns the remaining frame
// payload.
func parseFrameHeader(data []byte) (frameHeader, []byte, error) {
	if len(data) < frameHeaderSize {
		return frameHeader{}, nil, &forensic.ProtocolError{
			Op:  "parse frame header",
			Err: fmt.Errorf("short message: %d bytes", len(data)),
		}
	}
	h := frameHeader{
		Channel:  binary.BigEndian.Uint16(data[0:2]),
		Sequence: binary.BigEndian.Uint32(data[2:6]),
		Format:   binary.BigEndian.Uint16(data[6:8]),
		Flags:    binary.BigEndian.Uint16(data[8:10]),
		Reserved: binary.BigEndian.Uint16(data[10:12]),
		Timecode: binary.BigEndian.Uint64(data[12:20]),
		Width:    binary.BigEndian.Uint32(data[20:24]),
		Height:   binary.BigEndian.Uint32(data[24:28]),
		StrideY:  binary.BigEndian.Uint32(data[28:32]),
		StrideUV: binary.BigEndian.Uint32(data[32:36]),
		Tail:     binary.BigEndian.Uint32(data[36:40]),
	}
	return h, data[frameHeaderSize:], nil
}

// frameImage converts the raw payload to an image according to the
// header's format code.
func frameImage(h frameHeader, payload []byte) (image.Image, error) {
	w, ht := int(h.Width), int(h.Height)
	if w <= 0 || ht <= 0 {
		return nil, &forensic.ProtocolError{
			Op:  "decode frame",
			Err: fmt.Errorf("invalid dimensions %dx%d", w, ht),
		}
	}

	strideY := int(h.StrideY)
	if strideY == 0 {
		strideY = w
	}
	strideUV := int(h.StrideUV)
	if strideUV == 0 {
		strideUV = w / 2
	}

	switch h.Format {
	case FormatLuma8:
		need := strideY * ht
		if len(payload) < need {
			return nil, &forensic.ProtocolError{
				Op:  "decode luma8 frame",
				Err: fmt.Errorf("payload %d bytes, need %d", len(payload), need),
			}
		}
		return &image.Gray{
			Pix:    payload[:need],
			Stride: strideY,
			Rect:   image.Rect(0, 0, w, ht),
		}, nil

	case FormatYUV420:
		ySize := strideY * ht
		cSize := strideUV * ((ht + 1) / 2)
		need := ySize + 2*cSize
		if len(payload) < need {
			return nil, &forensic.ProtocolError{
				Op:  "decode yuv420 frame",
				Err: fmt.Errorf("payload %d bytes, need %d", len(payload), need),
			}
		}
		return &image.YCbCr{
			Y:              payload[:ySize],
			Cb:             payload[ySize : ySize+cSize],
			Cr:             payload[ySize+cSize : need],
			YStride:        strideY,
			CStride:        strideUV,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           image.Rect(0, 0, w, ht),
		}, nil

	default:
		return nil, &forensic.ProtocolError{
			Op:  "decode frame",
			Err: fmt.Errorf("unknown image format %d", h.Format),
		}
	}
}

// liveStream reads header-framed raw frames off a live connection.
type liveStream struct {
	conn *conn
}

// Next returns the next live frame. An unknown image format ends the
// stream.
func (s *liveStream) Next(ctx context.Context) (*Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	msg, err := s.conn.next()
	if err != nil {
		return nil, err
	}

	h, payload, err := parseFrameHeader(msg.body)
	if err != nil {
		return nil, err
	}

	img, err := frameImage(h, payload)
	if err != nil {
		return nil, err
	}

	return &Frame{Image: img, Timestamp: time.Now().UTC()}, nil
}

func (s *liveStream) Close() error {
	return s.conn.Close()
}
