// Command squeeze recompresses the PDFs inside an encrypted ZIP archive
// and prints a markdown report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/term"

	"pdfsqueeze/internal/archive"
	"pdfsqueeze/internal/config"
	"pdfsqueeze/internal/metrics"
	"pdfsqueeze/internal/pipeline"
	"pdfsqueeze/internal/recompress"
	"pdfsqueeze/internal/report"
	"pdfsqueeze/internal/results"
)

// Exit codes
const (
	exitOK      = 0
	exitAborted = 1
	exitUsage   = 2
	exitPartial = 3
)

var (
	newRecompressor = recompress.New
	readPassword    = promptPassword
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "squeeze: %v\n", err)
		return exitUsage
	}

	fs := flag.NewFlagSet("squeeze", flag.ContinueOnError)
	fs.SetOutput(stderr)
	archivePath := fs.String("archive", "", "Path to the encrypted ZIP archive (required)")
	password := fs.String("password", "", "Archive password (prompted when omitted)")
	quality := fs.Int("quality", cfg.DefaultQuality, "JPEG quality, 10-95")
	scale := fs.Float64("scale", cfg.DefaultScale, "Render scale, 1.0-3.0")
	strategy := fs.String("strategy", cfg.Strategy, "Recompression strategy: rasterize or optimize")
	outDir := fs.String("out", ".", "Directory the recompressed PDFs are written to")
	verbose := fs.Bool("v", false, "Log progress to stderr")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *archivePath == "" || fs.NArg() > 0 {
		fmt.Fprintln(stderr, "usage: squeeze -archive docs.zip [-password secret] [-quality 50] [-scale 1.5] [-strategy rasterize] [-out DIR]")
		return exitUsage
	}

	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintf(stderr, "squeeze: init logger: %v\n", err)
			return exitUsage
		}
	}
	defer logger.Sync()

	data, err := os.ReadFile(*archivePath)
	if err != nil {
		fmt.Fprintf(stderr, "squeeze: %v\n", err)
		return exitUsage
	}

	secret := *password
	if secret == "" {
		if secret, err = readPassword(stderr); err != nil {
			fmt.Fprintf(stderr, "squeeze: read password: %v\n", err)
			return exitUsage
		}
	}
	if secret == "" {
		fmt.Fprintln(stderr, "squeeze: a password is required")
		return exitUsage
	}

	cfg.Strategy = strings.ToLower(*strategy)
	rc, err := newRecompressor(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "squeeze: %v\n", err)
		return exitUsage
	}

	pub, err := results.NewDirPublisher(*outDir)
	if err != nil {
		fmt.Fprintf(stderr, "squeeze: %v\n", err)
		return exitAborted
	}

	p := pipeline.New(logger, rc, pub, metrics.New(), pipeline.Options{
		WorkDir: cfg.WorkDir,
		Limits: archive.Limits{
			MaxEntries:    cfg.MaxArchiveEntries,
			MaxTotalBytes: cfg.MaxExtractedBytes,
		},
		DocumentTimeout: cfg.DocumentTimeout,
		DefaultQuality:  cfg.DefaultQuality,
		DefaultScale:    cfg.DefaultScale,
	})

	rep, err := p.Run(ctx, pipeline.Request{
		Archive:     data,
		ArchiveName: filepath.Base(*archivePath),
		Secret:      secret,
		Quality:     *quality,
		Scale:       *scale,
	})
	switch {
	case errors.Is(err, pipeline.ErrInvalidRequest):
		fmt.Fprintf(stderr, "squeeze: %v\n", err)
		return exitUsage
	case errors.Is(err, pipeline.ErrNoDocuments):
		fmt.Fprintf(stderr, "⚠️ %v\n", err)
		return exitAborted
	case err != nil:
		fmt.Fprintf(stderr, "squeeze: %v\n", err)
		return exitAborted
	}

	// Handles from the directory publisher are local paths
	fmt.Fprint(stdout, report.Markdown(rep, func(res *pipeline.Result) string {
		return res.Handle
	}))

	if len(rep.Failed()) > 0 {
		return exitPartial
	}
	return exitOK
}

func promptPassword(prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Archive password: ")
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(prompt)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
