package infer

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/sightline/forensic/job"
)

func TestPixelBox(t *testing.T) {
	tests := []struct {
		name string
		box  job.Box
		w, h int
		want image.Rectangle
	}{
		{
			name: "full frame",
			box:  job.Box{MinX: -4.0 / 3.0, MinY: -1, MaxX: 4.0 / 3.0, MaxY: 1},
			w:    100, h: 80,
			want: image.Rect(0, 0, 100, 80),
		},
		{
			name: "centered quarter",
			box:  job.Box{MinX: -2.0 / 3.0, MinY: -0.5, MaxX: 2.0 / 3.0, MaxY: 0.5},
			w:    100, h: 80,
			want: image.Rect(25, 20, 75, 60),
		},
		{
			name: "clamped outside right edge",
			box:  job.Box{MinX: 2, MinY: -0.5, MaxX: 3, MaxY: 0.5},
			w:    100, h: 80,
			want: image.Rect(100, 20, 100, 60),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PixelBox(tt.box, tt.w, tt.h)
			if got != tt.want {
				t.Fatalf("PixelBox = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPixelRoundTrip(t *testing.T) {
	const w, h = 640, 480
	for _, px := range []int{0, 1, 17, 320, 639, 640} {
		back := pixelX(NormalizedX(px, w), w)
		if diff := back - px; diff < -1 || diff > 1 {
			t.Errorf("x round trip %d -> %d", px, back)
		}
	}
	for _, py := range []int{0, 1, 240, 479, 480} {
		back := pixelY(NormalizedY(py, h), h)
		if diff := back - py; diff < -1 || diff > 1 {
			t.Errorf("y round trip %d -> %d", py, back)
		}
	}
}

func testFrame(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestThumbnail(t *testing.T) {
	frame := testFrame(100, 80)
	box := job.Box{MinX: -2.0 / 3.0, MinY: -0.5, MaxX: 2.0 / 3.0, MaxY: 0.5}

	data, err := Thumbnail(frame, box, 1.0)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	crop, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := crop.Bounds(); b.Dx() != 50 || b.Dy() != 40 {
		t.Fatalf("thumbnail bounds = %v, want 50x40", b)
	}
}

func TestThumbnail_ExpandedAndClamped(t *testing.T) {
	frame := testFrame(100, 80)
	box := job.Box{MinX: -2.0 / 3.0, MinY: -0.5, MaxX: 2.0 / 3.0, MaxY: 0.5}

	data, err := Thumbnail(frame, box, 2.0)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	crop, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := crop.Bounds(); b.Dx() != 100 || b.Dy() != 80 {
		t.Fatalf("thumbnail bounds = %v, want full frame after clamping", b)
	}
}

func TestThumbnail_OutsideFrame(t *testing.T) {
	frame := testFrame(100, 80)
	box := job.Box{MinX: 2, MinY: 0.2, MaxX: 3, MaxY: 0.8}

	if _, err := Thumbnail(frame, box, 1.0); err == nil {
		t.Fatal("expected error for a box entirely outside the frame")
	}
}
