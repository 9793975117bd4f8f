package core

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	// Bridges that do not speak PNG return BMP (AT-SPI) or WebP (Chromium).
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// PixelFormat describes the layout of Screenshot.Pixels.
type PixelFormat int

const (
	// FormatEncoded means only Encoded is populated; the payload could not
	// be decoded into pixels.
	FormatEncoded PixelFormat = iota
	// FormatRGBA is 4 bytes per pixel, row-major, top-left origin, with
	// straight (non-premultiplied) alpha as in image.NRGBA.
	FormatRGBA
)

// MaxScreenshotPixels caps decoded screenshot area (8K x 8K).
const MaxScreenshotPixels = 8192 * 8192

// Screenshot is a captured image.
type Screenshot struct {
	Width   int
	Height  int
	Pixels  []byte
	Format  PixelFormat
	Encoded []byte // Original bytes as returned by the bridge
}

// NewScreenshot converts img into an RGBA screenshot.
func NewScreenshot(img image.Image) *Screenshot {
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) || nrgba.Stride != b.Dx()*4 {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	return &Screenshot{
		Width:  b.Dx(),
		Height: b.Dy(),
		Pixels: nrgba.Pix,
		Format: FormatRGBA,
	}
}

// DecodeScreenshot decodes PNG, BMP or WebP bytes. Bytes that are not an
// image are kept as an encoded-only screenshot.
func DecodeScreenshot(data []byte) (*Screenshot, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return &Screenshot{Format: FormatEncoded, Encoded: data}, nil
	}
	if cfg.Width*cfg.Height > MaxScreenshotPixels {
		return nil, ErrOutOfMemory.WithMessage(
			fmt.Sprintf("screenshot %dx%d exceeds decode budget", cfg.Width, cfg.Height))
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return &Screenshot{Format: FormatEncoded, Encoded: data}, nil
	}
	shot := NewScreenshot(img)
	shot.Encoded = data
	return shot, nil
}

// HasPixels reports whether the screenshot carries decoded RGBA pixels.
func (s *Screenshot) HasPixels() bool {
	return s != nil && s.Format == FormatRGBA && len(s.Pixels) == s.Width*s.Height*4
}

// Image returns the pixels as an *image.NRGBA sharing the underlying buffer.
func (s *Screenshot) Image() (*image.NRGBA, error) {
	if !s.HasPixels() {
		return nil, fmt.Errorf("screenshot has no decoded pixels")
	}
	return &image.NRGBA{
		Pix:    s.Pixels,
		Stride: s.Width * 4,
		Rect:   image.Rect(0, 0, s.Width, s.Height),
	}, nil
}

// PNG returns the screenshot encoded as PNG, reusing the original bytes
// when the bridge already sent PNG.
func (s *Screenshot) PNG() ([]byte, error) {
	if len(s.Encoded) > 8 && bytes.HasPrefix(s.Encoded, []byte("\x89PNG\r\n\x1a\n")) {
		return s.Encoded, nil
	}
	img, err := s.Image()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}
