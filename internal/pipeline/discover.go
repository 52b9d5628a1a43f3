package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UploadName is the fixed name the uploaded archive is written under
const UploadName = "uploaded.zip"

// Discover returns the PDF files sitting directly in dir, in name order.
// Subdirectories are not searched and the uploaded archive is skipped.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list workspace: %w", err)
	}

	var docs []string
	for _, e := range entries {
		if !e.Type().IsRegular() || e.Name() == UploadName {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			docs = append(docs, filepath.Join(dir, e.Name()))
		}
	}

	if len(docs) == 0 {
		return nil, ErrNoDocuments
	}
	return docs, nil
}
