package variants

import (
	"bytes"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
)

func solidImage(w, h int, fill color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, fill)
		}
	}
	return img
}

func TestPadProducesExactCanvas(t *testing.T) {
	src := solidImage(200, 100, color.NRGBA{R: 0xff, A: 0xff})
	white, _ := ParseHexColor("ffffff")

	out, err := Pad{Width: 600, Height: 600, Background: white, Position: "center"}.Apply(src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Bounds().Dx() != 600 || out.Bounds().Dy() != 600 {
		t.Fatalf("canvas = %dx%d, want 600x600", out.Bounds().Dx(), out.Bounds().Dy())
	}

	// A wide source centered on a square canvas leaves background above it.
	nrgba := imaging.Clone(out)
	if got := nrgba.NRGBAAt(300, 10); got != white {
		t.Fatalf("top band pixel = %+v, want background %+v", got, white)
	}
	if got := nrgba.NRGBAAt(300, 300); got.R != 0xff || got.G != 0 {
		t.Fatalf("center pixel = %+v, want source red", got)
	}
}

func TestPadUpscalesSmallSource(t *testing.T) {
	src := solidImage(10, 10, color.NRGBA{B: 0xff, A: 0xff})
	white, _ := ParseHexColor("")

	out, err := Pad{Width: 150, Height: 150, Background: white}.Apply(src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Bounds().Dx() != 150 || out.Bounds().Dy() != 150 {
		t.Fatalf("canvas = %dx%d, want 150x150", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestResizeIgnoresAspectRatio(t *testing.T) {
	src := solidImage(100, 50, color.NRGBA{G: 0xff, A: 0xff})
	out, err := Resize{Width: 30, Height: 30}.Apply(src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Bounds().Dx() != 30 || out.Bounds().Dy() != 30 {
		t.Fatalf("resized = %dx%d, want 30x30", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestFitPreservesAspectRatio(t *testing.T) {
	src := solidImage(100, 50, color.NRGBA{G: 0xff, A: 0xff})
	out, err := Fit{Width: 30, Height: 30}.Apply(src)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if out.Bounds().Dx() != 30 || out.Bounds().Dy() != 15 {
		t.Fatalf("fitted = %dx%d, want 30x15", out.Bounds().Dx(), out.Bounds().Dy())
	}
}

func TestAnchorOffsets(t *testing.T) {
	cases := []struct {
		position string
		want     image.Point
	}{
		{"center", image.Pt(20, 10)},
		{"", image.Pt(20, 10)},
		{"top", image.Pt(20, 0)},
		{"bottom", image.Pt(20, 20)},
		{"left", image.Pt(0, 10)},
		{"right", image.Pt(40, 10)},
		{"top-left", image.Pt(0, 0)},
		{"bottom-right", image.Pt(40, 20)},
	}
	for _, tc := range cases {
		got, err := anchorOffset(tc.position, 100, 60, 60, 40)
		if err != nil {
			t.Fatalf("anchorOffset(%q): %v", tc.position, err)
		}
		if got != tc.want {
			t.Errorf("anchorOffset(%q) = %v, want %v", tc.position, got, tc.want)
		}
	}
	if _, err := anchorOffset("diagonal", 100, 60, 60, 40); err == nil {
		t.Error("unknown position accepted")
	}
}

func TestParseHexColor(t *testing.T) {
	got, err := ParseHexColor("#336699")
	if err != nil {
		t.Fatalf("ParseHexColor: %v", err)
	}
	if (got != color.NRGBA{R: 0x33, G: 0x66, B: 0x99, A: 0xff}) {
		t.Fatalf("color = %+v", got)
	}
	if _, err := ParseHexColor("xyz"); err == nil {
		t.Fatal("invalid color accepted")
	}
	fallback, err := ParseHexColor("")
	if err != nil || (fallback != color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}) {
		t.Fatalf("empty color = %+v, %v", fallback, err)
	}
}

func TestEncoderRoundTrip(t *testing.T) {
	src := solidImage(20, 20, color.NRGBA{R: 0x10, G: 0x20, B: 0x30, A: 0xff})

	for _, ext := range []string{"jpg", "png", "gif"} {
		var buf bytes.Buffer
		if err := Encode(&buf, src, ext, Encoder{Quality: 80}); err != nil {
			t.Fatalf("Encode %s: %v", ext, err)
		}
		decoded, _, err := image.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			t.Fatalf("decode %s output: %v", ext, err)
		}
		if decoded.Bounds().Dx() != 20 || decoded.Bounds().Dy() != 20 {
			t.Fatalf("%s output = %dx%d", ext, decoded.Bounds().Dx(), decoded.Bounds().Dy())
		}
	}

	var buf bytes.Buffer
	if err := Encode(&buf, src, "tiff", Encoder{}); err == nil {
		t.Fatal("unsupported extension accepted")
	}
}

func TestMimeType(t *testing.T) {
	if got := MimeType("jpg"); got != "image/jpeg" {
		t.Fatalf("MimeType(jpg) = %q", got)
	}
	if got := MimeType("png"); got != "image/png" {
		t.Fatalf("MimeType(png) = %q", got)
	}
}
