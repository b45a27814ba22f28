// Package ocr turns email attachments into plain text pages.
package ocr

import (
	"context"
	"mime"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fitment-triage/internal/config"
	"github.com/sells-group/fitment-triage/internal/model"
)

// Extractor converts one attachment into text. It never returns an error;
// failures are carried in the result.
type Extractor interface {
	Extract(ctx context.Context, content []byte, filename, mimeType string) model.ExtractionResult
}

// PageExtractor returns the text of each page of a binary document.
type PageExtractor interface {
	ExtractPages(ctx context.Context, content []byte, mimeType string) ([]string, error)
}

// Kind is the routing class of an attachment.
type Kind string

const (
	KindPDF         Kind = "pdf"
	KindImage       Kind = "image"
	KindSpreadsheet Kind = "spreadsheet"
	KindText        Kind = "text"
	KindUnsupported Kind = "unsupported"
)

const (
	mimePDF  = "application/pdf"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var imageExts = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

// Detect classifies an attachment by MIME type, then by file extension.
func Detect(filename, mimeType string) Kind {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		mt = parsed
	}
	switch mt {
	case mimePDF:
		return KindPDF
	case mimeXLSX:
		return KindSpreadsheet
	case "text/plain", "text/csv":
		return KindText
	}
	for _, m := range imageExts {
		if mt == m {
			return KindImage
		}
	}

	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".pdf":
		return KindPDF
	case ".xlsx":
		return KindSpreadsheet
	case ".txt", ".csv":
		return KindText
	}
	if _, ok := imageExts[ext]; ok {
		return KindImage
	}
	return KindUnsupported
}

// Router dispatches attachments to the extractor for their kind.
type Router struct {
	pdf   PageExtractor
	image PageExtractor
}

// NewRouter builds a Router. A nil image extractor makes images unsupported.
func NewRouter(pdf, image PageExtractor) *Router {
	return &Router{pdf: pdf, image: image}
}

// New creates a Router from config. Images are only routed when a Mistral
// key is configured.
func New(cfg config.OCRConfig) (*Router, error) {
	var mistral *MistralOCR
	if cfg.MistralAPIKey != "" {
		mistral = NewMistralOCR(cfg.MistralAPIKey, cfg.MistralModel)
		if cfg.MistralEndpoint != "" {
			mistral.endpoint = cfg.MistralEndpoint
		}
	}

	var pdf PageExtractor
	switch cfg.Provider {
	case "local", "":
		pdf = NewPdfToText(cfg.PdfToTextPath)
	case "mistral":
		if mistral == nil {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		pdf = mistral
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}

	if mistral == nil {
		return NewRouter(pdf, nil), nil
	}
	return NewRouter(pdf, mistral), nil
}

// Extract implements Extractor.
func (r *Router) Extract(ctx context.Context, content []byte, filename, mimeType string) model.ExtractionResult {
	kind := Detect(filename, mimeType)
	log := zap.L().With(zap.String("attachment", filename), zap.String("kind", string(kind)))

	var (
		pages []string
		err   error
	)
	switch kind {
	case KindPDF:
		pages, err = r.pdf.ExtractPages(ctx, content, mimePDF)
	case KindImage:
		if r.image == nil {
			return model.ExtractionUnsupported("ocr: no image extractor configured")
		}
		pages, err = r.image.ExtractPages(ctx, content, imageMime(filename, mimeType))
	case KindSpreadsheet:
		pages, err = SpreadsheetPages(content)
	case KindText:
		pages = []string{decodeText(content)}
	default:
		return model.ExtractionUnsupported("ocr: unsupported attachment type " + describe(filename, mimeType))
	}
	if err != nil {
		log.Warn("attachment extraction failed", zap.Error(err))
		return model.ExtractionFailed(err.Error())
	}
	log.Debug("attachment extracted", zap.Int("pages", len(pages)))
	return model.ExtractionOK(pages, false)
}

func imageMime(filename, mimeType string) string {
	if strings.HasPrefix(strings.ToLower(mimeType), "image/") {
		return strings.ToLower(mimeType)
	}
	if m, ok := imageExts[strings.ToLower(filepath.Ext(filename))]; ok {
		return m
	}
	return "image/png"
}

func decodeText(content []byte) string {
	s := strings.TrimPrefix(string(content), "\ufeff")
	return strings.ToValidUTF8(s, "\uFFFD")
}

func describe(filename, mimeType string) string {
	if mimeType != "" {
		return mimeType
	}
	if ext := filepath.Ext(filename); ext != "" {
		return ext
	}
	return "(unknown)"
}
