// Package export renders assembled documents to files.
package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rs/zerolog/log"

	"reportq/internal/domain"
	"reportq/internal/ports"
)

const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatPDF      = "pdf"
	FormatSlides   = "slides"
)

// Formats lists every supported output format.
var Formats = []string{FormatMarkdown, FormatHTML, FormatPDF, FormatSlides}

var ErrUnsupportedFormat = errors.New("unsupported export format")

var extensions = map[string]string{
	FormatMarkdown: ".md",
	FormatHTML:     ".html",
	FormatPDF:      ".pdf",
	FormatSlides:   ".slides.pdf",
}

type encodeFunc func(doc domain.Document) ([]byte, error)

// Renderer writes each document/format pair to <dir>/<doc id><ext>. Writing
// the same pair twice replaces the file in place and returns the same path.
type Renderer struct {
	dir      string
	encoders map[string]encodeFunc
}

var _ ports.Exporter = (*Renderer)(nil)

func New(dir string) (*Renderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	return &Renderer{
		dir: dir,
		encoders: map[string]encodeFunc{
			FormatMarkdown: func(d domain.Document) ([]byte, error) { return []byte(Markdown(d)), nil },
			FormatHTML:     HTML,
			FormatPDF:      PDF,
			FormatSlides:   Slides,
		},
	}, nil
}

var safeID = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Path returns where doc would be written for format.
func (r *Renderer) Path(doc domain.Document, format string) (string, error) {
	ext, ok := extensions[format]
	if !ok {
		return "", domain.Validation("export", "%w: %q", ErrUnsupportedFormat, format)
	}
	name := safeID.ReplaceAllString(doc.ID, "_")
	if name == "" {
		return "", domain.Validation("export", "document has no id")
	}
	return filepath.Join(r.dir, name+ext), nil
}

func (r *Renderer) Export(ctx context.Context, doc domain.Document, format string) (string, error) {
	path, err := r.Path(doc, format)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := r.encoders[format](doc)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", format, err)
	}
	if err := writeFile(path, data); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	log.Ctx(ctx).Debug().Str("format", format).Str("path", path).Int("bytes", len(data)).Msg("document exported")
	return path, nil
}

// writeFile replaces path atomically so readers never see a partial export.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
