package probe

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	errs "imgharvest/pkg/errors"
	"imgharvest/pkg/models"
)

// decodable lists formats whose header we can parse for dimensions
var decodable = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"image/bmp":  true,
	"image/tiff": true,
}

// Result describes a downloaded body
type Result struct {
	MIME      string
	Extension string
	Format    string
	Width     int
	Height    int
}

// Probe sniffs data and, for common raster formats, reads its pixel size.
// A body that does not sniff as an image, or a raster image whose header
// cannot be decoded, is reported as a not_image error.
func Probe(data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, errs.New(errs.ErrorTypeNotImage, "empty body")
	}

	mtype := mimetype.Detect(data)
	mime := baseMIME(mtype.String())
	if !strings.HasPrefix(mime, "image/") {
		return Result{}, errs.New(errs.ErrorTypeNotImage, fmt.Sprintf("body is %s, not an image", mime))
	}

	result := Result{
		MIME:      mime,
		Extension: models.ExtensionForFormat(mtype.Extension()),
		Format:    strings.TrimPrefix(mime, "image/"),
	}
	if result.Extension == "" {
		result.Extension = mtype.Extension()
	}

	if !decodable[mime] {
		return result, nil
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, errs.Wrap(errs.ErrorTypeNotImage, "corrupt image data", err)
	}
	if format != "" {
		result.Format = format
	}
	result.Width = cfg.Width
	result.Height = cfg.Height
	return result, nil
}

// ExtensionForContentType maps a Content-Type header to a file extension,
// or "" when it does not name an image type
func ExtensionForContentType(contentType string) string {
	mime := baseMIME(contentType)
	if !strings.HasPrefix(mime, "image/") {
		return ""
	}
	sub := strings.TrimPrefix(mime, "image/")
	if ext := models.ExtensionForFormat(sub); ext != "" {
		return ext
	}
	switch sub {
	case "svg+xml":
		return ".svg"
	case "x-icon", "vnd.microsoft.icon":
		return ".ico"
	case "x-ms-bmp":
		return ".bmp"
	}
	return ""
}

func baseMIME(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
