package variants

import (
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
)

// Encoder holds the settings for one output encoding of a variant.
type Encoder struct {
	Quality       int
	StripMetadata bool
}

var mimeByExtension = map[string]string{
	"jpg": "image/jpeg",
	"png": "image/png",
	"gif": "image/gif",
}

// SupportedExtension reports whether ext names an encodable output format.
func SupportedExtension(ext string) bool {
	_, ok := mimeByExtension[ext]
	return ok
}

// MimeType returns the content type stored alongside a variant file.
func MimeType(ext string) string {
	return mimeByExtension[ext]
}

// Encode writes img to w in the format named by ext. Re-encoding never
// carries source metadata forward, so StripMetadata is inherently satisfied.
func Encode(w io.Writer, img image.Image, ext string, enc Encoder) error {
	switch ext {
	case "jpg":
		quality := enc.Quality
		if quality <= 0 {
			quality = 75
		}
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case "png":
		return imaging.Encode(w, img, imaging.PNG)
	case "gif":
		return imaging.Encode(w, img, imaging.GIF)
	}
	return fmt.Errorf("unsupported output extension %q", ext)
}
