package recompress

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Optimizer rewrites the document with Ghostscript, re-encoding embedded
// images as JPEG and downsampling them, then lets pdfcpu drop unused and
// duplicate objects. Text and vector content are preserved.
type Optimizer struct {
	ghostscriptPath string
}

// NewOptimizer creates an Optimizer running the gs binary at ghostscriptPath
func NewOptimizer(ghostscriptPath string) *Optimizer {
	if ghostscriptPath == "" {
		ghostscriptPath = "gs"
	}
	return &Optimizer{ghostscriptPath: ghostscriptPath}
}

// Name implements Recompressor
func (o *Optimizer) Name() string {
	return "optimize"
}

// Available reports whether the Ghostscript binary can be found
func (o *Optimizer) Available() bool {
	_, err := exec.LookPath(o.ghostscriptPath)
	return err == nil
}

// Recompress implements Recompressor
func (o *Optimizer) Recompress(ctx context.Context, src, dst string, opts Options) error {
	tmp := dst + ".gs"
	defer os.Remove(tmp)

	cmd := exec.CommandContext(ctx, o.ghostscriptPath, ghostscriptArgs(src, tmp, opts)...)
	output, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("ghostscript failed: %v, output: %s", err, string(output))
	}

	if err := api.OptimizeFile(tmp, dst, model.NewDefaultConfiguration()); err != nil {
		os.Remove(dst)
		return fmt.Errorf("optimize: %w", err)
	}
	return nil
}

func ghostscriptArgs(src, dst string, opts Options) []string {
	dpi := int(opts.DPI())
	return []string{
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.5",
		"-dNOPAUSE",
		"-dQUIET",
		"-dBATCH",
		"-dSAFER",
		"-dAutoRotatePages=/None",
		"-dPassThroughJPEGImages=false",
		"-dAutoFilterColorImages=false",
		"-dAutoFilterGrayImages=false",
		"-dColorImageFilter=/DCTEncode",
		"-dGrayImageFilter=/DCTEncode",
		fmt.Sprintf("-dJPEGQ=%d", opts.Quality),
		"-dDownsampleColorImages=true",
		"-dDownsampleGrayImages=true",
		"-dDownsampleMonoImages=true",
		"-dColorImageDownsampleType=/Bicubic",
		"-dGrayImageDownsampleType=/Bicubic",
		"-dMonoImageDownsampleType=/Subsample",
		fmt.Sprintf("-dColorImageResolution=%d", dpi),
		fmt.Sprintf("-dGrayImageResolution=%d", dpi),
		fmt.Sprintf("-dMonoImageResolution=%d", dpi),
		"-dSubsetFonts=true",
		"-dCompressFonts=true",
		"-dDetectDuplicateImages=true",
		"-sOutputFile=" + dst,
		src,
	}
}
