package artifacts

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/brettbedarf/libfs"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Deriver turns source bytes into a w×h artifact.
type Deriver interface {
	// Derive returns the encoded artifact and its content type.
	// Undecodable input fails with libfs.ErrUnprocessable.
	Derive(src []byte, w, h int) ([]byte, string, error)
	// CanProduce reports whether sources of contentType are expected to
	// derive. Advisory only.
	CanProduce(contentType string) bool
}

// DefaultFormats are the output formats used when none are configured
var DefaultFormats = []string{"JPEG", "PNG"}

// maxSourcePixels refuses sources whose decoded size would be absurd
const maxSourcePixels = 100_000_000

var decodable = map[string]bool{
	"image/jpeg":     true,
	"image/png":      true,
	"image/gif":      true,
	"image/bmp":      true,
	"image/x-ms-bmp": true,
	"image/tiff":     true,
	"image/webp":     true,
}

var formatTypes = map[imaging.Format]string{
	imaging.JPEG: "image/jpeg",
	imaging.PNG:  "image/png",
	imaging.GIF:  "image/gif",
	imaging.TIFF: "image/tiff",
	imaging.BMP:  "image/bmp",
}

// Thumbnailer derives image thumbnails: the source is scaled to cover
// w×h and centre-cropped to exactly that size.
type Thumbnailer struct {
	formats []imaging.Format
}

// NewThumbnailer keeps the formats (case-insensitive names like "JPEG")
// that can be encoded, in order. The first is the fallback output format.
// An empty list means DefaultFormats.
func NewThumbnailer(formats []string) (*Thumbnailer, error) {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	t := &Thumbnailer{}
	for _, name := range formats {
		f, err := imaging.FormatFromExtension(strings.ToLower(strings.TrimSpace(name)))
		if err != nil {
			continue
		}
		t.formats = append(t.formats, f)
	}
	if len(t.formats) == 0 {
		return nil, fmt.Errorf("thumbnailer: none of the formats %v can be encoded", formats)
	}
	return t, nil
}

// Formats returns the output formats in preference order
func (t *Thumbnailer) Formats() []string {
	names := make([]string, len(t.formats))
	for i, f := range t.formats {
		names[i] = f.String()
	}
	return names
}

func (t *Thumbnailer) CanProduce(contentType string) bool {
	mt, _, _ := strings.Cut(contentType, ";")
	return decodable[strings.ToLower(strings.TrimSpace(mt))]
}

// output picks the source's own format when allowed, else the first one
func (t *Thumbnailer) output(native string) imaging.Format {
	if f, err := imaging.FormatFromExtension(native); err == nil {
		for _, allowed := range t.formats {
			if allowed == f {
				return f
			}
		}
	}
	return t.formats[0]
}

func (t *Thumbnailer) Derive(src []byte, w, h int) ([]byte, string, error) {
	cfg, native, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", libfs.ErrUnprocessable, err)
	}
	if cfg.Width*cfg.Height > maxSourcePixels {
		return nil, "", fmt.Errorf("%w: source is %dx%d", libfs.ErrUnprocessable, cfg.Width, cfg.Height)
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", libfs.ErrUnprocessable, err)
	}

	thumb := imaging.Fill(img, w, h, imaging.Center, imaging.Lanczos)

	format := t.output(native)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, format, imaging.JPEGQuality(85)); err != nil {
		return nil, "", fmt.Errorf("encoding %s thumbnail: %w", format, err)
	}
	return buf.Bytes(), formatTypes[format], nil
}

var _ Deriver = (*Thumbnailer)(nil)
