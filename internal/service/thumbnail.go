// Package service contains the upload flow and the background processing
// of assets
package service

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	defaultThumbWidth = 400
	maxDecodePixels   = 100_000_000
)

var (
	ErrImageTooLarge    = errors.New("image dimensions too large to decode")
	ErrUndecodableImage = errors.New("image can't be decoded")
)

type thumbnail struct {
	Width, Height int // Of the original
	JPEG          []byte
}

// MakeThumbnail decodes an image and scales it down to width while keeping
// the aspect ratio. Images narrower than width keep their size.
func MakeThumbnail(r io.Reader, width int) (*thumbnail, error) {
	if width <= 0 {
		width = defaultThumbWidth
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image, %w", err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image config, %w: %w", err, ErrUndecodableImage)
	}

	if cfg.Width*cfg.Height > maxDecodePixels {
		return nil, ErrImageTooLarge
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image, %w: %w", err, ErrUndecodableImage)
	}

	b := src.Bounds()
	tw, th := b.Dx(), b.Dy()
	if tw > width {
		th = max(1, th*width/tw)
		tw = width
	}

	dst := image.NewRGBA(image.Rect(0, 0, tw, th))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail, %w", err)
	}

	return &thumbnail{
		Width:  b.Dx(),
		Height: b.Dy(),
		JPEG:   buf.Bytes(),
	}, nil
}
