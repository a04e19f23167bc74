package extraction

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

const (
	mimePDF  = "application/pdf"
	mimePNG  = "image/png"
	mimeJPEG = "image/jpeg"
)

// ContentTypeFor guesses a receipt MIME type from its file name
func ContentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return mimeJPEG
	case ".png":
		return mimePNG
	case ".gif":
		return "image/gif"
	case ".pdf":
		return mimePDF
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// normalizeContentType lowercases the MIME type and drops parameters
func normalizeContentType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// isPDF reports whether the data or its MIME type indicate a PDF
func isPDF(data []byte, mimeType string) bool {
	return mimeType == mimePDF || bytes.HasPrefix(data, []byte("%PDF-"))
}

// isImage reports whether the receipt should be treated as an image
func isImage(data []byte, mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || isHEICFormat(data)
}

// renderPDFPages rasterizes up to maxPages pages of a PDF (0 means all)
func renderPDFPages(pdfData []byte, maxPages int) ([]image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if maxPages > 0 && n > maxPages {
		n = maxPages
	}

	pages := make([]image.Image, 0, n)
	for i := 0; i < n; i++ {
		// 300 DPI keeps small receipt print legible for OCR
		img, err := doc.ImageDPI(i, 300)
		if err != nil {
			return nil, fmt.Errorf("rendering PDF page %d: %w", i+1, err)
		}
		pages = append(pages, img)
	}
	return pages, nil
}

// pdfToImage renders the first page of a PDF as a PNG
func pdfToImage(pdfData []byte) ([]byte, error) {
	pages, err := renderPDFPages(pdfData, 1)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("rendering PDF: document has no pages")
	}
	return encodePNG(pages[0])
}

// decodeImage decodes JPEG, PNG, GIF and HEIC/HEIF receipts
func decodeImage(imageData []byte, mimeType string) (image.Image, error) {
	// Go's standard image package doesn't support HEIC (common on iPhones)
	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		if isUnknownFormat(err) {
			return nil, fmt.Errorf("%w: supported formats are JPEG, PNG, GIF, HEIC, HEIF, PDF: %v", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

func isUnknownFormat(err error) bool {
	return errors.Is(err, image.ErrFormat) || strings.Contains(err.Error(), "unsupported")
}

// enhanceForOCR converts a receipt photo to a high contrast grayscale image
func enhanceForOCR(img image.Image) image.Image {
	out := imaging.Grayscale(img)
	out = imaging.AdjustContrast(out, 30)
	out = imaging.Sharpen(out, 1.5)
	return out
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks if the image data is in HEIC/HEIF format
// HEIC files carry an ftyp box at offset 4 with a heic-family brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) == "ftyp" {
		brand := string(data[8:12])
		if brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1" {
			return true
		}
	}
	return false
}

// isHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// prepareImageData converts a PDF or any supported image to PNG for the
// vision backends, which only ever receive PNG
func prepareImageData(data []byte, contentType string) ([]byte, error) {
	mimeType := normalizeContentType(contentType)
	if mimeType == "" {
		mimeType = mimeJPEG
	}

	switch {
	case isPDF(data, mimeType):
		pngData, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return pngData, nil
	case mimeType == mimePNG && !isHEICFormat(data):
		return data, nil
	case isImage(data, mimeType):
		img, err := decodeImage(data, mimeType)
		if err != nil {
			return nil, fmt.Errorf("converting image to PNG: %w", err)
		}
		return encodePNG(img)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
}
