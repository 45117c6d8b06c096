package docconv

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"code.sajari.com/docconv"
)

// Document is the plain text of a file plus whatever properties the
// converter reported (author, title, page count...).
type Document struct {
	Text string
	Meta map[string]string
}

// plainText files are read as-is.
var plainText = map[string]bool{".txt": true, ".md": true}

// SupportedExtensions lists what Extract understands.
var SupportedExtensions = []string{".pdf", ".docx", ".doc", ".odt", ".rtf", ".txt", ".md", ".html", ".htm", ".xml"}

func Supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SupportedExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

type Extractor struct {
	useReadability bool
}

func NewExtractor(useReadability bool) *Extractor {
	return &Extractor{useReadability: useReadability}
}

func (e *Extractor) Extract(ctx context.Context, path string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	if !Supported(path) {
		return Document{}, fmt.Errorf("unsupported file type %q", ext)
	}

	if plainText[ext] {
		b, err := os.ReadFile(path)
		if err != nil {
			return Document{}, err
		}
		return Document{Text: string(b), Meta: map[string]string{}}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()

	res, err := docconv.Convert(f, docconv.MimeTypeByExtension(path), e.useReadability)
	if err != nil {
		return Document{}, fmt.Errorf("docconv %s: %w", filepath.Base(path), err)
	}
	if res.Error != "" {
		return Document{}, fmt.Errorf("docconv %s: %s", filepath.Base(path), res.Error)
	}

	meta := res.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	return Document{Text: res.Body, Meta: meta}, nil
}
