package ocr

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText extracts text from PDFs using the pdftotext CLI tool.
type PdfToText struct {
	binPath string
}

// NewPdfToText creates a PdfToText extractor. If binPath is empty, "pdftotext" is used.
func NewPdfToText(binPath string) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath}
}

// ExtractPages writes the PDF to a temp file, runs pdftotext -layout on it
// and splits the output on form feeds.
func (p *PdfToText) ExtractPages(ctx context.Context, content []byte, _ string) ([]string, error) {
	f, err := os.CreateTemp("", "triage-*.pdf")
	if err != nil {
		return nil, eris.Wrap(err, "ocr: create temp pdf")
	}
	defer os.Remove(f.Name()) //nolint:errcheck

	if _, err := f.Write(content); err != nil {
		f.Close() //nolint:errcheck,gosec
		return nil, eris.Wrap(err, "ocr: write temp pdf")
	}
	if err := f.Close(); err != nil {
		return nil, eris.Wrap(err, "ocr: close temp pdf")
	}

	cmd := exec.CommandContext(ctx, p.binPath, "-layout", f.Name(), "-") //nolint:gosec

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, eris.Wrapf(err, "ocr: pdftotext failed: %s", strings.TrimSpace(stderr.String()))
	}

	return splitPages(stdout.String()), nil
}

// splitPages splits on form feed and drops the empty tail pdftotext emits
// after the last page.
func splitPages(out string) []string {
	pages := strings.Split(out, "\f")
	for len(pages) > 0 && strings.TrimSpace(pages[len(pages)-1]) == "" {
		pages = pages[:len(pages)-1]
	}
	return pages
}
