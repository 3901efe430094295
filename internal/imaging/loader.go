// Image file operations for the upscale pipeline
package imaging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

// Format is an output image format selectable in the UI.
type Format string

const (
	FormatPNG  Format = "PNG"
	FormatJPEG Format = "JPEG"
	FormatWebP Format = "WebP"
)

// Formats lists the supported output formats in UI order.
func Formats() []string {
	return []string{string(FormatPNG), string(FormatJPEG), string(FormatWebP)}
}

// ParseFormat maps a UI format label to a Format, defaulting to PNG.
func ParseFormat(s string) Format {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "JPEG", "JPG":
		return FormatJPEG
	case "WEBP":
		return FormatWebP
	default:
		return FormatPNG
	}
}

// Extension returns the file extension (without dot) for the format.
func (f Format) Extension() string {
	switch f {
	case FormatJPEG:
		return "jpg"
	case FormatWebP:
		return "webp"
	default:
		return "png"
	}
}

// Loader handles image file operations.
type Loader struct {
	logger      *logrus.Logger
	jpegQuality int
	webpQuality int
}

func NewLoader(logger *logrus.Logger, jpegQuality, webpQuality int) *Loader {
	return &Loader{
		logger:      logger,
		jpegQuality: jpegQuality,
		webpQuality: webpQuality,
	}
}

// Load reads an image from disk as a color Mat. The caller owns the Mat.
func (l *Loader) Load(path string) (gocv.Mat, error) {
	if !isSupportedInput(path) {
		return gocv.NewMat(), fmt.Errorf("unsupported image format: %s", path)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return gocv.NewMat(), fmt.Errorf("failed to load image: %s", path)
	}

	l.logger.WithFields(logrus.Fields{
		"path":   path,
		"width":  mat.Cols(),
		"height": mat.Rows(),
	}).Debug("Image loaded")

	return mat, nil
}

// Save writes a Mat in the given format. JPEG and WebP are written at the
// configured quality; PNG is lossless.
func (l *Loader) Save(mat gocv.Mat, path string, format Format) error {
	if mat.Empty() {
		return fmt.Errorf("cannot save empty image")
	}

	var params []int
	switch format {
	case FormatJPEG:
		params = []int{gocv.IMWriteJpegQuality, l.jpegQuality}
	case FormatWebP:
		params = []int{gocv.IMWriteWebpQuality, l.webpQuality}
	case FormatPNG:
		// lossless, default compression
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}

	var ok bool
	if len(params) > 0 {
		ok = gocv.IMWriteWithParams(path, mat, params)
	} else {
		ok = gocv.IMWrite(path, mat)
	}
	if !ok {
		return fmt.Errorf("failed to save image: %s", path)
	}

	l.logger.WithFields(logrus.Fields{
		"path":   path,
		"format": format,
		"width":  mat.Cols(),
		"height": mat.Rows(),
	}).Info("Image saved")

	return nil
}

// Dimensions reads just the pixel dimensions of an image file.
func (l *Loader) Dimensions(path string) (width, height int, err error) {
	mat, err := l.Load(path)
	if err != nil {
		return 0, 0, err
	}
	defer mat.Close()
	return mat.Cols(), mat.Rows(), nil
}

func isSupportedInput(path string) bool {
	ext := strings.ToLower(fileExtension(path))
	for _, supported := range []string{".jpg", ".jpeg", ".png", ".webp", ".tiff", ".tif", ".bmp"} {
		if ext == supported {
			return true
		}
	}
	return false
}

func fileExtension(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' || path[i] == '\\' {
			break
		}
	}
	return ""
}
