package recompress

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ErrNoPages is returned for documents without a single page
var ErrNoPages = errors.New("document has no pages")

func init() {
	// pdfcpu would otherwise create a config directory under the user's home.
	api.DisableConfigDir()
}

// Rasterizer renders every page to a JPEG and rebuilds the document from
// those images, one page per image with the page sized to the image.
// Text, vector content and metadata do not survive.
type Rasterizer struct{}

// NewRasterizer creates a Rasterizer
func NewRasterizer() *Rasterizer {
	return &Rasterizer{}
}

// Name implements Recompressor
func (r *Rasterizer) Name() string {
	return "rasterize"
}

// Recompress implements Recompressor
func (r *Rasterizer) Recompress(ctx context.Context, src, dst string, opts Options) error {
	doc, err := fitz.New(src)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return ErrNoPages
	}

	pages := make([]io.Reader, 0, n)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := doc.ImageDPI(i, opts.DPI())
		if err != nil {
			return fmt.Errorf("render page %d: %w", i+1, err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: opts.Quality}); err != nil {
			return fmt.Errorf("encode page %d: %w", i+1, err)
		}
		pages = append(pages, bytes.NewReader(buf.Bytes()))
	}

	return buildFromImages(dst, pages)
}

// buildFromImages writes a new PDF to dst holding one full-page image per reader
func buildFromImages(dst string, pages []io.Reader) error {
	imp, err := api.Import("pos:full", types.POINTS)
	if err != nil {
		return fmt.Errorf("import settings: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}

	if err := api.ImportImages(nil, f, pages, imp, model.NewDefaultConfiguration()); err != nil {
		f.Close()
		os.Remove(dst)
		return fmt.Errorf("save document: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}
