package extraction

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/ledongthuc/pdf"
)

// Runner executes an external command and returns its stdout and stderr
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// LocalConfig configures the Local extractor
type LocalConfig struct {
	Tesseract     string // binary name or path; defaults to "tesseract"
	TesseractLang string // defaults to "eng"
	MaxPages      int    // pages OCR'd from scanned PDFs; 0 means all
}

// Local extracts receipt text on this machine: the PDF text layer when there
// is one, tesseract OCR for images and scanned PDFs
type Local struct {
	cfg    LocalConfig
	runner Runner
	logger *slog.Logger
}

// NewLocal creates a Local extractor that shells out to tesseract for OCR
func NewLocal(cfg LocalConfig, logger *slog.Logger) *Local {
	return NewLocalWithRunner(cfg, logger, execRunner{})
}

// NewLocalWithRunner creates a Local extractor with a custom command runner for testing
func NewLocalWithRunner(cfg LocalConfig, logger *slog.Logger, runner Runner) *Local {
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.TesseractLang == "" {
		cfg.TesseractLang = "eng"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{cfg: cfg, runner: runner, logger: logger}
}

// ExtractText returns the text of a PDF or image receipt
func (l *Local) ExtractText(ctx context.Context, data []byte, contentType string) (string, error) {
	mimeType := normalizeContentType(contentType)

	var (
		text string
		err  error
	)
	switch {
	case isPDF(data, mimeType):
		text, err = l.extractPDF(ctx, data)
	case isImage(data, mimeType):
		text, err = l.extractImage(ctx, data, mimeType)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
	if err != nil {
		return "", err
	}

	text = Normalize(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// Close is a no-op; Local holds no long-lived resources
func (l *Local) Close() error {
	return nil
}

func (l *Local) extractPDF(ctx context.Context, data []byte) (string, error) {
	text, err := pdfTextLayer(data)
	if err != nil {
		l.logger.Warn("mupdf could not read PDF, trying pure-Go reader", "error", err)
		text, err = plainPDFText(data)
		if err != nil {
			return "", fmt.Errorf("reading PDF: %w", err)
		}
	}
	if strings.TrimSpace(text) != "" {
		l.logger.Debug("pdf text layer extracted", "method", "pdf-text", "bytes", len(text))
		return text, nil
	}

	// No text layer: scanned PDF, OCR each rendered page
	pages, err := renderPDFPages(data, l.cfg.MaxPages)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, page := range pages {
		pageText, err := l.ocrImage(ctx, page)
		if err != nil {
			l.logger.Warn("ocr failed for pdf page", "page", i+1, "error", err)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(pageText)
	}
	l.logger.Debug("pdf pages ocr'd", "method", "pdf-ocr", "pages", len(pages))
	return b.String(), nil
}

func (l *Local) extractImage(ctx context.Context, data []byte, mimeType string) (string, error) {
	img, err := decodeImage(data, mimeType)
	if err != nil {
		return "", err
	}
	return l.ocrImage(ctx, img)
}

// ocrImage enhances an image and runs tesseract over it
func (l *Local) ocrImage(ctx context.Context, img image.Image) (string, error) {
	pngData, err := encodePNG(enhanceForOCR(img))
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp("", "receipt-ocr-*.png")
	if err != nil {
		return "", fmt.Errorf("creating temp image: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	if _, err := f.Write(pngData); err != nil {
		f.Close()
		return "", fmt.Errorf("writing temp image: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing temp image: %w", err)
	}

	// tesseract <file> stdout -l <lang> --psm 4
	// PSM 4 assumes a single column of text of variable sizes, which suits receipts
	out, stderr, err := l.runner.Run(ctx, l.cfg.Tesseract, filepath.Clean(path), "stdout", "-l", l.cfg.TesseractLang, "--psm", "4")
	if err != nil {
		return "", fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(string(stderr)))
	}
	return string(out), nil
}

// pdfTextLayer reads the embedded text of every page with MuPDF
func pdfTextLayer(data []byte) (string, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", err
	}
	defer doc.Close()

	var b strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		text, err := doc.Text(i)
		if err != nil {
			return "", fmt.Errorf("reading page %d: %w", i+1, err)
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

// plainPDFText reads the text of a PDF with the pure-Go reader
func plainPDFText(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	text, err := io.ReadAll(rd)
	if err != nil {
		return "", err
	}
	return string(text), nil
}
