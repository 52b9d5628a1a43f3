package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"pdfsqueeze/internal/archive"
	"pdfsqueeze/internal/models"
	"pdfsqueeze/internal/pipeline"
)

// fakeRunner returns a canned report or error and records the request
type fakeRunner struct {
	mu     sync.Mutex
	got    []pipeline.Request
	report *pipeline.Report
	err    error
	block  chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req pipeline.Request) (*pipeline.Report, error) {
	f.mu.Lock()
	f.got = append(f.got, req)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.report, f.err
}

func (f *fakeRunner) requests() []pipeline.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]pipeline.Request(nil), f.got...)
}

type fakeLinker struct{}

func (fakeLinker) Link(ctx context.Context, id string) (string, error) {
	if id == "broken" {
		return "", errors.New("index down")
	}
	return "https://squeeze.test/downloads/" + id + "?signature=x", nil
}

func sampleReport() *pipeline.Report {
	return &pipeline.Report{
		ID:             "req-1",
		ArchiveName:    "docs.zip",
		ExtractedCount: 2,
		CandidateCount: 1,
		Strategy:       "rasterize",
		Quality:        50,
		Scale:          1.5,
		Outcomes: []pipeline.Outcome{
			{Name: "a.pdf", Result: &pipeline.Result{Name: "a.pdf", OriginalBytes: 1024000, CompressedBytes: 256000, Handle: "r1"}},
		},
	}
}

type form struct {
	archive  []byte
	noFile   bool
	fields   map[string]string
	filename string
}

func multipartBody(t *testing.T, f form) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if !f.noFile {
		name := f.filename
		if name == "" {
			name = "docs.zip"
		}
		fw, err := mw.CreateFormFile("archive", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(f.archive)
	}
	for k, v := range f.fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func newCompressRequest(t *testing.T, target string, f form) *http.Request {
	t.Helper()
	body, ct := multipartBody(t, f)
	req := httptest.NewRequest("POST", target, body)
	req.Header.Set("Content-Type", ct)
	return req
}

func validForm() form {
	return form{
		archive: []byte("PK fake archive"),
		fields:  map[string]string{"password": "hunter2"},
	}
}

func TestCompressHandler_JSONReport(t *testing.T) {
	runner := &fakeRunner{report: sampleReport()}
	h := NewCompressHandler(zap.NewNop(), runner, fakeLinker{}, nil, sharedMetrics, 1<<20, 2)

	f := validForm()
	f.fields["quality"] = "70"
	f.fields["scale"] = "2.0"
	req := newCompressRequest(t, "/compress", f)
	w := httptest.NewRecorder()

	RequestIDMiddleware(http.HandlerFunc(h.Compress)).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}

	var body struct {
		Succeeded int `json:"succeeded"`
		Documents []struct {
			Filename    string  `json:"filename"`
			OriginalKB  float64 `json:"original_kb"`
			Reduction   float64 `json:"reduction_percent"`
			DownloadURL string  `json:"download_url"`
		} `json:"documents"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Succeeded != 1 || len(body.Documents) != 1 {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	doc := body.Documents[0]
	if doc.Filename != "compressed_a.pdf" || doc.OriginalKB != 1000 || doc.Reduction != 75 {
		t.Errorf("document = %+v", doc)
	}
	if doc.DownloadURL != "https://squeeze.test/downloads/r1?signature=x" {
		t.Errorf("download_url = %q", doc.DownloadURL)
	}

	got := runner.requests()
	if len(got) != 1 {
		t.Fatalf("runner called %d times", len(got))
	}
	r := got[0]
	if r.Secret != "hunter2" || r.Quality != 70 || r.Scale != 2.0 || r.ArchiveName != "docs.zip" {
		t.Errorf("request = %+v", r)
	}
	if string(r.Archive) != "PK fake archive" {
		t.Errorf("archive bytes = %q", r.Archive)
	}
	if r.ID == "" || r.ID != w.Header().Get("X-Request-ID") {
		t.Errorf("run id %q does not match request id %q", r.ID, w.Header().Get("X-Request-ID"))
	}
}

func TestCompressHandler_MarkdownReport(t *testing.T) {
	tests := []struct {
		name   string
		target string
		accept string
		wantMD bool
	}{
		{"format query", "/compress?format=markdown", "", true},
		{"accept header", "/compress", "text/markdown", true},
		{"query wins over accept", "/compress?format=json", "text/markdown", false},
		{"default json", "/compress", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCompressHandler(zap.NewNop(), &fakeRunner{report: sampleReport()}, fakeLinker{}, nil, sharedMetrics, 1<<20, 0)
			req := newCompressRequest(t, tt.target, validForm())
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			w := httptest.NewRecorder()
			h.Compress(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			isMD := strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown")
			if isMD != tt.wantMD {
				t.Fatalf("markdown = %v, want %v", isMD, tt.wantMD)
			}
			if tt.wantMD {
				body := w.Body.String()
				for _, want := range []string{"### 📄 a.pdf", "`1000.00 KB`", "`75.0%`", "[compressed_a.pdf](https://squeeze.test/downloads/r1?signature=x)"} {
					if !strings.Contains(body, want) {
						t.Errorf("markdown missing %q:\n%s", want, body)
					}
				}
			}
		})
	}
}

func TestCompressHandler_LinkFailureOmitsURL(t *testing.T) {
	rep := sampleReport()
	rep.Outcomes[0].Result.Handle = "broken"
	h := NewCompressHandler(zap.NewNop(), &fakeRunner{report: rep}, fakeLinker{}, nil, sharedMetrics, 1<<20, 0)

	w := httptest.NewRecorder()
	h.Compress(w, newCompressRequest(t, "/compress", validForm()))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "download_url") {
		t.Errorf("unexpected download_url in %s", w.Body.String())
	}
}

func TestCompressHandler_BadInput(t *testing.T) {
	tests := []struct {
		name      string
		form      form
		raw       string
		maxUpload int64
		wantCode  int
		wantError string
	}{
		{
			name:      "not multipart",
			raw:       "hello",
			wantCode:  http.StatusBadRequest,
			wantError: "invalid multipart form",
		},
		{
			name:      "missing archive",
			form:      form{noFile: true, fields: map[string]string{"password": "x"}},
			wantCode:  http.StatusBadRequest,
			wantError: "archive is required",
		},
		{
			name:      "missing password",
			form:      form{archive: []byte("PK")},
			wantCode:  http.StatusBadRequest,
			wantError: "password is required",
		},
		{
			name:      "quality not a number",
			form:      form{archive: []byte("PK"), fields: map[string]string{"password": "x", "quality": "high"}},
			wantCode:  http.StatusBadRequest,
			wantError: "quality must be an integer",
		},
		{
			name:      "scale not a number",
			form:      form{archive: []byte("PK"), fields: map[string]string{"password": "x", "scale": "big"}},
			wantCode:  http.StatusBadRequest,
			wantError: "scale must be a number",
		},
		{
			name:      "callback not a url",
			form:      form{archive: []byte("PK"), fields: map[string]string{"password": "x", "callback": "ftp://nope"}},
			wantCode:  http.StatusBadRequest,
			wantError: "callback must be an http(s) URL",
		},
		{
			name:      "upload too large",
			form:      form{archive: bytes.Repeat([]byte("x"), 4096), fields: map[string]string{"password": "x"}},
			maxUpload: 1024,
			wantCode:  http.StatusRequestEntityTooLarge,
			wantError: "upload exceeds 1024 bytes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{report: sampleReport()}
			maxUpload := tt.maxUpload
			if maxUpload == 0 {
				maxUpload = 1 << 20
			}
			h := NewCompressHandler(zap.NewNop(), runner, fakeLinker{}, nil, sharedMetrics, maxUpload, 0)

			var req *http.Request
			if tt.raw != "" {
				req = httptest.NewRequest("POST", "/compress", strings.NewReader(tt.raw))
				req.Header.Set("Content-Type", "text/plain")
			} else {
				req = newCompressRequest(t, "/compress", tt.form)
			}
			w := httptest.NewRecorder()
			h.Compress(w, req)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantCode, w.Body.String())
			}
			var resp errorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !strings.Contains(resp.Error, tt.wantError) {
				t.Errorf("error = %q, want it to contain %q", resp.Error, tt.wantError)
			}
			if len(runner.requests()) != 0 {
				t.Error("runner should not be called for bad input")
			}
		})
	}
}

func TestCompressHandler_RunErrors(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantCode    int
		wantError   string
		wantWarning string
	}{
		{
			name:      "wrong secret",
			err:       fmt.Errorf("extract: %w", archive.ErrWrongSecretOrCorrupt),
			wantCode:  http.StatusUnprocessableEntity,
			wantError: "wrong password or corrupt archive",
		},
		{
			name:      "extraction limit",
			err:       fmt.Errorf("extract: %w", archive.ErrLimitExceeded),
			wantCode:  http.StatusUnprocessableEntity,
			wantError: "archive exceeds extraction limits",
		},
		{
			name:        "no documents",
			err:         pipeline.ErrNoDocuments,
			wantCode:    http.StatusUnprocessableEntity,
			wantWarning: "no PDF files found in archive",
		},
		{
			name:      "invalid parameters",
			err:       fmt.Errorf("%w: quality must be between 10 and 95", pipeline.ErrInvalidRequest),
			wantCode:  http.StatusBadRequest,
			wantError: "quality must be between 10 and 95",
		},
		{
			name:      "unexpected",
			err:       errors.New("disk full"),
			wantCode:  http.StatusInternalServerError,
			wantError: "internal error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewCompressHandler(zap.NewNop(), &fakeRunner{err: tt.err}, fakeLinker{}, nil, sharedMetrics, 1<<20, 0)
			w := httptest.NewRecorder()
			h.Compress(w, newCompressRequest(t, "/compress", validForm()))

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			var resp errorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if tt.wantError != "" && !strings.Contains(resp.Error, tt.wantError) {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
			if resp.Warning != tt.wantWarning {
				t.Errorf("warning = %q, want %q", resp.Warning, tt.wantWarning)
			}
		})
	}
}

func TestCompressHandler_BusyWhenRunsExhausted(t *testing.T) {
	runner := &fakeRunner{report: sampleReport(), block: make(chan struct{})}
	h := NewCompressHandler(zap.NewNop(), runner, fakeLinker{}, nil, sharedMetrics, 1<<20, 1)

	first := httptest.NewRecorder()
	firstReq := newCompressRequest(t, "/compress", validForm())
	done := make(chan struct{})
	go func() {
		h.Compress(first, firstReq)
		close(done)
	}()

	// Wait until the first run holds the slot
	deadline := time.Now().Add(2 * time.Second)
	for len(runner.requests()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	second := httptest.NewRecorder()
	h.Compress(second, newCompressRequest(t, "/compress", validForm()))
	if second.Code != http.StatusServiceUnavailable {
		t.Errorf("second request status = %d, want 503", second.Code)
	}

	close(runner.block)
	<-done
	if first.Code != http.StatusOK {
		t.Errorf("first request status = %d, want 200", first.Code)
	}

	// Slot is released afterwards
	third := httptest.NewRecorder()
	runner.block = nil
	h.Compress(third, newCompressRequest(t, "/compress", validForm()))
	if third.Code != http.StatusOK {
		t.Errorf("third request status = %d, want 200", third.Code)
	}
}

func TestCompressHandler_Callback(t *testing.T) {
	got := make(chan models.CallbackPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p models.CallbackPayload
		json.NewDecoder(r.Body).Decode(&p)
		got <- p
	}))
	defer server.Close()

	rep := sampleReport()
	rep.Outcomes = append(rep.Outcomes, pipeline.Outcome{
		Name: "b.pdf",
		Err:  &pipeline.DocumentError{Name: "b.pdf", Stage: pipeline.StageRecompress, Err: errors.New("broken")},
	})

	callbacks := NewCallbacker(zap.NewNop(), sharedMetrics, 0, 0)
	h := NewCompressHandler(zap.NewNop(), &fakeRunner{report: rep}, fakeLinker{}, callbacks, sharedMetrics, 1<<20, 0)

	f := validForm()
	f.fields["callback"] = server.URL + "/hook"
	w := httptest.NewRecorder()
	h.Compress(w, newCompressRequest(t, "/compress", f))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	select {
	case p := <-got:
		if p.Status != "partial" || p.DocumentCount != 2 || p.Succeeded != 1 || p.Failed != 1 {
			t.Errorf("payload = %+v", p)
		}
		if p.OriginalSizeBytes != 1024000 || p.CompressedSizeBytes != 256000 {
			t.Errorf("payload sizes = %d/%d", p.OriginalSizeBytes, p.CompressedSizeBytes)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback not delivered")
	}
}

func TestCallbackPayload(t *testing.T) {
	p := callbackPayload("id", nil, fmt.Errorf("x: %w", archive.ErrWrongSecretOrCorrupt), time.Second)
	if p.Status != "failed" || p.Message != "wrong password or corrupt archive" || p.DurationMs != 1000 {
		t.Errorf("halted payload = %+v", p)
	}

	p = callbackPayload("id", sampleReport(), nil, 0)
	if p.Status != "completed" || p.Message != "" {
		t.Errorf("completed payload = %+v", p)
	}

	rep := sampleReport()
	rep.Outcomes[0] = pipeline.Outcome{Name: "a.pdf", Err: &pipeline.DocumentError{Name: "a.pdf", Stage: pipeline.StageStat, Err: errors.New("gone")}}
	p = callbackPayload("id", rep, nil, 0)
	if p.Status != "failed" || p.Failed != 1 {
		t.Errorf("all-failed payload = %+v", p)
	}
}
