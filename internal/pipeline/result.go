package pipeline

import (
	"errors"
	"fmt"
)

// ErrNoDocuments is the warning raised when the archive holds no PDF at its top level
var ErrNoDocuments = errors.New("no PDF files found in archive")

// Stages a document can fail at
const (
	StageRecompress = "recompress"
	StageStat       = "stat"
	StagePublish    = "publish"
	StageCancelled  = "cancelled"
)

// DownloadPrefix is prepended to a document name to form its download name
const DownloadPrefix = "compressed_"

// DocumentError is a failure isolated to one document
type DocumentError struct {
	Name  string
	Stage string
	Err   error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Name, e.Stage, e.Err)
}

func (e *DocumentError) Unwrap() error {
	return e.Err
}

// Result describes one successfully recompressed document
type Result struct {
	Name            string
	OriginalBytes   int64
	CompressedBytes int64
	Handle          string // published result ID
}

// OriginalKB is the original size in KiB
func (r *Result) OriginalKB() float64 {
	return float64(r.OriginalBytes) / 1024
}

// CompressedKB is the recompressed size in KiB
func (r *Result) CompressedKB() float64 {
	return float64(r.CompressedBytes) / 1024
}

// ReductionRate is 100*(1-compressed/original). It reports false for an
// empty original, where no rate exists. Negative values mean the output grew.
func (r *Result) ReductionRate() (float64, bool) {
	if r.OriginalBytes <= 0 {
		return 0, false
	}
	return 100 * (1 - float64(r.CompressedBytes)/float64(r.OriginalBytes)), true
}

// DownloadName is the filename offered for the recompressed output
func (r *Result) DownloadName() string {
	return DownloadName(r.Name)
}

// DownloadName maps a document name to its download name
func DownloadName(name string) string {
	return DownloadPrefix + name
}

// Outcome is the per-document entry of a report: exactly one of Result or Err is set
type Outcome struct {
	Name   string
	Result *Result
	Err    *DocumentError
}

// OK reports whether the document succeeded
func (o Outcome) OK() bool {
	return o.Result != nil
}

// Report is the outcome of a run that got past extraction and discovery
type Report struct {
	ID             string
	ArchiveName    string
	ExtractedCount int
	CandidateCount int
	Outcomes       []Outcome
	Strategy       string
	Quality        int
	Scale          float64
}

// Succeeded returns the successful results in discovery order
func (r *Report) Succeeded() []*Result {
	var out []*Result
	for _, o := range r.Outcomes {
		if o.Result != nil {
			out = append(out, o.Result)
		}
	}
	return out
}

// Failed returns the per-document failures in discovery order
func (r *Report) Failed() []*DocumentError {
	var out []*DocumentError
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o.Err)
		}
	}
	return out
}

// Totals sums original and compressed bytes over successful documents
func (r *Report) Totals() (original, compressed int64) {
	for _, res := range r.Succeeded() {
		original += res.OriginalBytes
		compressed += res.CompressedBytes
	}
	return original, compressed
}
