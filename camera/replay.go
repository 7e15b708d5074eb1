package camera

import (
	"context"
	"image"
	"io"
	"log/slog"
	"strings"
	"time"
)

// replayMeta is the JSON metadata message preceding each run of
// encoded packets in a replay stream.
type replayMeta struct {
	FrameTime string `json:"FrameTime"`
	Format    string `json:"Format"`
}

// replayStream demultiplexes JSON frame metadata and encoded video
// packets. The codec is taken from the first packet's bytes; when the
// sniffed codec disagrees with the declared tag the sniffed one wins.
type replayStream struct {
	conn   *conn
	codecs *Registry
	logger *slog.Logger

	decoder  Decoder
	declared string
	sniffed  string
	pts      int64

	frameTime time.Time
	pending   []*Frame
}

// Next returns the next decoded frame, in strict stream order. A
// packet that fails to decode resets the decoder and is skipped.
func (s *replayStream) Next(ctx context.Context) (*Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if len(s.pending) > 0 {
			f := s.pending[0]
			s.pending = s.pending[1:]
			return f, nil
		}

		msg, err := s.conn.next()
		if err != nil {
			return nil, err
		}

		if msg.isJSON() {
			var meta replayMeta
			if err := decodeJSONBody(msg, &meta); err != nil {
				return nil, err
			}
			s.frameTime = time.Time{}
			if meta.FrameTime != "" {
				t, parseErr := time.Parse(time.RFC3339Nano, meta.FrameTime)
				if parseErr != nil {
					s.logger.Warn("unparseable frame time",
						slog.String("frame_time", meta.FrameTime),
						slog.String("error", parseErr.Error()),
					)
				} else {
					s.frameTime = t.UTC()
				}
			}
			s.declared = strings.ToLower(meta.Format)
			continue
		}

		if len(msg.body) == 0 {
			return nil, io.EOF
		}

		frames := s.decodePacket(msg.body)
		for _, img := range frames {
			s.pending = append(s.pending, &Frame{Image: img, Timestamp: s.frameTime})
		}
	}
}

// decodePacket feeds one encoded packet through the decoder, creating
// it from the first packet's sniffed codec. Decode failures reset the
// decoder for re-sniffing on the next packet.
func (s *replayStream) decodePacket(packet []byte) []image.Image {
	if s.decoder == nil {
		sniffed := SniffCodec(packet)
		if sniffed == "" {
			sniffed = s.declared
		}
		if s.declared != "" && sniffed != s.declared {
			s.logger.Error("sniffed codec disagrees with declared format",
				slog.String("sniffed", sniffed),
				slog.String("declared", s.declared),
			)
		}

		dec, err := s.codecs.New(sniffed)
		if err != nil {
			s.logger.Error("no decoder for codec",
				slog.String("codec", sniffed),
				slog.String("error", err.Error()),
			)
			return nil
		}
		s.decoder = dec
		s.sniffed = sniffed
		s.pts = 0
	}

	frames, err := s.decoder.Decode(packet, s.pts)
	s.pts++
	if err != nil {
		s.logger.Error("packet decode failed",
			slog.String("codec", s.sniffed),
			slog.String("error", err.Error()),
		)
		s.decoder.Reset()
		s.decoder = nil
		return nil
	}
	return frames
}

func (s *replayStream) Close() error {
	return s.conn.Close()
}
