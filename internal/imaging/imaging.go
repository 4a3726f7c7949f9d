package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // Register GIF decoder
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// MaxUploadBytes is the post-normalization size ceiling. The document
// store's single-phase upload path does not support chunking, so larger
// payloads are rejected before any external call.
const MaxUploadBytes = 20 << 20 // 20 MiB

// jpegQuality is the re-encode quality for transcoded images (0.9 of max).
const jpegQuality = 90

// ErrTooLarge is returned when a normalized file exceeds MaxUploadBytes.
var ErrTooLarge = errors.New("file exceeds the 20 MiB upload limit")

// File is an upload candidate: raw bytes plus the metadata the document
// store needs. Owned by a single request, never cached.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Size returns the payload size in bytes.
func (f File) Size() int {
	return len(f.Data)
}

// IsHEIC reports whether a file should be treated as HEIC/HEIF. MIME
// detection alone is unreliable across capture devices, so the filename
// suffix is a required fallback, and the ISO-BMFF ftyp brand is sniffed as
// a last resort.
func IsHEIC(name, mimeType string, data []byte) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "image/heic" || mimeType == "image/heif" {
		return true
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".heic", ".heif":
		return true
	}

	return hasHEICMagic(data)
}

// hasHEICMagic checks for an ftyp box with a HEIC-related brand.
func hasHEICMagic(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// isPDF reports whether a file is a PDF, by declared MIME type or suffix.
func isPDF(name, mimeType string) bool {
	return strings.EqualFold(strings.TrimSpace(mimeType), "application/pdf") ||
		strings.EqualFold(filepath.Ext(name), ".pdf")
}

// NormalizeForUpload returns a file guaranteed to be in an upload-accepted
// format and within the size ceiling. HEIC/HEIF input is transcoded to
// JPEG, PDF input is rendered (first page) to JPEG, everything else passes
// through unchanged.
func NormalizeForUpload(f File) (File, error) {
	switch {
	case IsHEIC(f.Name, f.MIMEType, f.Data):
		img, err := heic.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return File{}, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		data, err := encodeJPEG(img)
		if err != nil {
			return File{}, err
		}
		f = File{Name: jpegName(f.Name), MIMEType: "image/jpeg", Data: data}

	case isPDF(f.Name, f.MIMEType):
		img, err := renderPDF(f.Data)
		if err != nil {
			return File{}, err
		}
		data, err := encodeJPEG(img)
		if err != nil {
			return File{}, err
		}
		f = File{Name: jpegName(f.Name), MIMEType: "image/jpeg", Data: data}
	}

	if f.Size() > MaxUploadBytes {
		return File{}, ErrTooLarge
	}
	return f, nil
}

// ToPNG converts any supported input (HEIC, PDF, JPEG, PNG, GIF) to PNG
// for vision-model consumption.
func ToPNG(data []byte, mimeType string) ([]byte, error) {
	var (
		img image.Image
		err error
	)

	switch {
	case IsHEIC("", mimeType, data):
		img, err = heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
	case isPDF("", mimeType):
		img, err = renderPDF(data)
		if err != nil {
			return nil, err
		}
	default:
		img, _, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding image: %w", err)
		}
	}

	return encodePNG(img)
}

// renderPDF renders the first page of a PDF. Receipts are single page.
func renderPDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// jpegName replaces the filename's extension with .jpg, or appends it when
// the name has none.
func jpegName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}
