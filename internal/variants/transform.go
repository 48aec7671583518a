package variants

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
)

// Transform is one step of a variant's image manipulation chain. Implementations
// never mutate their input; they return a new image.
type Transform interface {
	Apply(img image.Image) (image.Image, error)
}

// Resize scales to exactly Width x Height, ignoring aspect ratio.
type Resize struct {
	Width  int
	Height int
}

func (t Resize) Apply(img image.Image) (image.Image, error) {
	return imaging.Resize(img, t.Width, t.Height, imaging.Lanczos), nil
}

// Fit scales down to fit within Width x Height, preserving aspect ratio.
type Fit struct {
	Width  int
	Height int
}

func (t Fit) Apply(img image.Image) (image.Image, error) {
	return imaging.Fit(img, t.Width, t.Height, imaging.Lanczos), nil
}

// Pad fits the image within Width x Height and composites it onto a solid
// background canvas of exactly that size, anchored at Position.
type Pad struct {
	Width      int
	Height     int
	Background color.NRGBA
	Position   string
}

func (t Pad) Apply(img image.Image) (image.Image, error) {
	fitted := imaging.Fit(img, t.Width, t.Height, imaging.Lanczos)
	canvas := imaging.New(t.Width, t.Height, t.Background)
	offset, err := anchorOffset(t.Position, t.Width, t.Height, fitted.Bounds().Dx(), fitted.Bounds().Dy())
	if err != nil {
		return nil, err
	}
	return imaging.Paste(canvas, fitted, offset), nil
}

func anchorOffset(position string, canvasW, canvasH, imgW, imgH int) (image.Point, error) {
	centerX := (canvasW - imgW) / 2
	centerY := (canvasH - imgH) / 2
	rightX := canvasW - imgW
	bottomY := canvasH - imgH

	switch strings.ToLower(strings.TrimSpace(position)) {
	case "", "center":
		return image.Pt(centerX, centerY), nil
	case "top":
		return image.Pt(centerX, 0), nil
	case "bottom":
		return image.Pt(centerX, bottomY), nil
	case "left":
		return image.Pt(0, centerY), nil
	case "right":
		return image.Pt(rightX, centerY), nil
	case "top-left":
		return image.Pt(0, 0), nil
	case "top-right":
		return image.Pt(rightX, 0), nil
	case "bottom-left":
		return image.Pt(0, bottomY), nil
	case "bottom-right":
		return image.Pt(rightX, bottomY), nil
	}
	return image.Point{}, fmt.Errorf("unknown pad position %q", position)
}

// ParseHexColor decodes a 6-digit hex color such as "ffffff" with or without
// a leading '#'.
func ParseHexColor(raw string) (color.NRGBA, error) {
	hexStr := strings.TrimPrefix(strings.TrimSpace(raw), "#")
	if hexStr == "" {
		return color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}, nil
	}
	if len(hexStr) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", raw)
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(hexStr, "%02x%02x%02x", &r, &g, &b); err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid hex color %q", raw)
	}
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}, nil
}
