// Package validate classifies downloaded files as acceptable images.
package validate

import (
	"image"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	// Decoders for every sniffable input format. Registration is what lets
	// image.DecodeConfig obtain dimensions.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Stable failure reasons recorded verbatim into failed records. Operators and
// tests match on these strings; do not reword them.
const (
	ReasonNotAFile     = "Downloaded file is not a valid file."
	ReasonTooLarge     = "Downloaded file is too large."
	ReasonInvalidImage = "Downloaded file is not a valid image."
)

// Report is the outcome of probing one local file. FirstError is empty only
// when Valid is true.
type Report struct {
	Valid      bool
	MimeType   string
	Extension  string
	Size       int64
	Width      int
	Height     int
	FirstError string
}

// Checker probes files against a size cap and an extension allow-list.
type Checker struct {
	maxFileSize int64
	allowed     map[string]struct{}
}

// NewChecker builds a Checker. Extensions are matched lowercase without a
// leading dot; maxFileSize <= 0 disables the size check.
func NewChecker(maxFileSize int64, allowedExtensions []string) *Checker {
	allowed := make(map[string]struct{}, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = struct{}{}
		}
	}
	return &Checker{maxFileSize: maxFileSize, allowed: allowed}
}

// Check probes path with short-circuiting checks: the file must exist, fit
// the size cap, sniff to an allowed image type, and decode to obtainable
// pixel dimensions. The first failing check fixes FirstError. The sniffed
// bytes decide the type; the URL and HTTP headers are never trusted.
func (c *Checker) Check(path string) Report {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return Report{FirstError: ReasonNotAFile}
	}
	size := info.Size()

	if c.maxFileSize > 0 && size > c.maxFileSize {
		return Report{Size: size, FirstError: ReasonTooLarge}
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return Report{Size: size, FirstError: ReasonInvalidImage}
	}
	mime := mtype.String()
	ext := strings.TrimPrefix(mtype.Extension(), ".")

	if _, ok := c.allowed[strings.ToLower(ext)]; !ok {
		return Report{Size: size, MimeType: mime, Extension: ext, FirstError: ReasonInvalidImage}
	}

	width, height, ok := decodeDimensions(path)
	if !ok {
		return Report{Size: size, MimeType: mime, Extension: ext, FirstError: ReasonInvalidImage}
	}

	return Report{
		Valid:     true,
		MimeType:  mime,
		Extension: ext,
		Size:      size,
		Width:     width,
		Height:    height,
	}
}

func decodeDimensions(path string) (width, height int, ok bool) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}
