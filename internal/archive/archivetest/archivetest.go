// Package archivetest builds ZIP fixtures for tests.
package archivetest

import (
	"bytes"
	"io"
	"testing"

	"github.com/yeka/zip"
)

// Entry is one file inside a fixture archive
type Entry struct {
	Name string
	Data []byte
}

// Build returns a ZIP holding entries. A non-empty password encrypts every
// entry with AES-256; an empty password stores them unencrypted.
func Build(t testing.TB, password string, entries ...Entry) []byte {
	t.Helper()
	return BuildWith(t, password, zip.AES256Encryption, entries...)
}

// BuildWith is Build with an explicit encryption method
func BuildWith(t testing.TB, password string, method zip.EncryptionMethod, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		var (
			w   io.Writer
			err error
		)
		if password != "" {
			w, err = zw.Encrypt(e.Name, password, method)
		} else {
			w, err = zw.Create(e.Name)
		}
		if err != nil {
			t.Fatalf("create zip entry %s: %v", e.Name, err)
		}
		if _, err := w.Write(e.Data); err != nil {
			t.Fatalf("write zip entry %s: %v", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}
