package processor_test

import (
	"bytes"
	"image"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/closetspace/asset-api/internal/infrastructure/processor"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height)), imaging.PNG); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	b := img.Bounds()
	return b.Dx(), b.Dy()
}

func TestBoundTo_NoOpWhenWithinBound(t *testing.T) {
	input := encodePNG(t, 200, 200)

	got, err := processor.New().BoundTo(input, 1024)
	if err != nil {
		t.Fatalf("BoundTo() error = %v", err)
	}
	if !bytes.Equal(got, input) {
		t.Error("BoundTo() re-encoded an image that already fits")
	}
}

func TestBoundTo_ScalesDownPreservingAspect(t *testing.T) {
	tests := []struct {
		name       string
		width      int
		height     int
		maxDim     int
		wantWidth  int
		wantHeight int
	}{
		{"landscape", 2048, 1024, 1024, 1024, 512},
		{"portrait", 800, 3000, 1024, 273, 1024},
		{"square", 1500, 1500, 1024, 1024, 1024},
		{"one dimension over", 1200, 800, 1024, 1024, 683},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := processor.New().BoundTo(encodePNG(t, tt.width, tt.height), tt.maxDim)
			if err != nil {
				t.Fatalf("BoundTo() error = %v", err)
			}
			gotWidth, gotHeight := decodeDims(t, got)
			if gotWidth != tt.wantWidth || gotHeight != tt.wantHeight {
				t.Errorf("BoundTo() dims = %dx%d, want %dx%d", gotWidth, gotHeight, tt.wantWidth, tt.wantHeight)
			}
		})
	}
}

func TestBoundTo_FloorsAtOnePixel(t *testing.T) {
	got, err := processor.New().BoundTo(encodePNG(t, 10000, 2), 1024)
	if err != nil {
		t.Fatalf("BoundTo() error = %v", err)
	}
	gotWidth, gotHeight := decodeDims(t, got)
	if gotWidth != 1024 || gotHeight != 1 {
		t.Errorf("BoundTo() dims = %dx%d, want 1024x1", gotWidth, gotHeight)
	}
}

func TestBoundTo_DecodeFailure(t *testing.T) {
	if _, err := processor.New().BoundTo([]byte("not an image"), 1024); err == nil {
		t.Error("BoundTo() expected error for undecodable input")
	}
}
