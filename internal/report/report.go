// Package report renders pipeline reports as markdown and JSON.
package report

import (
	"fmt"
	"strconv"
	"strings"

	"pdfsqueeze/internal/pipeline"
)

// LinkFunc returns the download location for a result, or "" for none
type LinkFunc func(res *pipeline.Result) string

// KB is a size in KiB serialized with two decimals
type KB float64

func (k KB) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(k), 'f', 2, 64)), nil
}

func (k KB) String() string {
	return strconv.FormatFloat(float64(k), 'f', 2, 64) + " KB"
}

// Percent is a reduction rate serialized with one decimal
type Percent float64

func (p Percent) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(p), 'f', 1, 64)), nil
}

func (p Percent) String() string {
	return strconv.FormatFloat(float64(p), 'f', 1, 64) + "%"
}

// Document is the JSON view of one outcome
type Document struct {
	Name             string   `json:"name"`
	Filename         string   `json:"filename,omitempty"`
	OriginalKB       *KB      `json:"original_kb,omitempty"`
	CompressedKB     *KB      `json:"compressed_kb,omitempty"`
	ReductionPercent *Percent `json:"reduction_percent"`
	DownloadURL      string   `json:"download_url,omitempty"`
	Stage            string   `json:"stage,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// View is the JSON view of a report
type View struct {
	ID               string     `json:"id"`
	Archive          string     `json:"archive"`
	ExtractedEntries int        `json:"extracted_entries"`
	Strategy         string     `json:"strategy"`
	Quality          int        `json:"quality"`
	Scale            float64    `json:"scale"`
	Succeeded        int        `json:"succeeded"`
	Failed           int        `json:"failed"`
	OriginalKB       KB         `json:"original_kb"`
	CompressedKB     KB         `json:"compressed_kb"`
	ReductionPercent *Percent   `json:"reduction_percent"`
	Documents        []Document `json:"documents"`
}

func reduction(res *pipeline.Result) *Percent {
	rate, ok := res.ReductionRate()
	if !ok {
		return nil
	}
	p := Percent(rate)
	return &p
}

// JSON builds the serializable view of r
func JSON(r *pipeline.Report, link LinkFunc) View {
	v := View{
		ID:               r.ID,
		Archive:          r.ArchiveName,
		ExtractedEntries: r.ExtractedCount,
		Strategy:         r.Strategy,
		Quality:          r.Quality,
		Scale:            r.Scale,
		Succeeded:        len(r.Succeeded()),
		Failed:           len(r.Failed()),
		Documents:        make([]Document, 0, len(r.Outcomes)),
	}

	original, compressed := r.Totals()
	v.OriginalKB = KB(float64(original) / 1024)
	v.CompressedKB = KB(float64(compressed) / 1024)
	v.ReductionPercent = reduction(&pipeline.Result{OriginalBytes: original, CompressedBytes: compressed})

	for _, o := range r.Outcomes {
		d := Document{Name: o.Name}
		if o.Result != nil {
			orig, comp := KB(o.Result.OriginalKB()), KB(o.Result.CompressedKB())
			d.Filename = o.Result.DownloadName()
			d.OriginalKB = &orig
			d.CompressedKB = &comp
			d.ReductionPercent = reduction(o.Result)
			if link != nil {
				d.DownloadURL = link(o.Result)
			}
		} else if o.Err != nil {
			d.Stage = o.Err.Stage
			d.Error = o.Err.Err.Error()
		}
		v.Documents = append(v.Documents, d)
	}
	return v
}

// Markdown renders r the way the upload page shows it
func Markdown(r *pipeline.Report, link LinkFunc) string {
	var b strings.Builder

	fmt.Fprintf(&b, "✅ archive extracted (%d entries)\n\n", r.ExtractedCount)

	for _, o := range r.Outcomes {
		if o.Result != nil {
			writeResult(&b, o.Result, link)
		} else if o.Err != nil {
			fmt.Fprintf(&b, "### ⚠️ %s\n- failed at %s: %v\n\n", o.Name, o.Err.Stage, o.Err.Err)
		}
	}

	fmt.Fprintf(&b, "%d of %d documents recompressed", len(r.Succeeded()), len(r.Outcomes))
	if original, compressed := r.Totals(); original > 0 {
		total := &pipeline.Result{OriginalBytes: original, CompressedBytes: compressed}
		fmt.Fprintf(&b, ", `%s` → `%s` (%s)", KB(total.OriginalKB()), KB(total.CompressedKB()), rateText(total))
	}
	b.WriteString("\n")
	return b.String()
}

func writeResult(b *strings.Builder, res *pipeline.Result, link LinkFunc) {
	fmt.Fprintf(b, "### 📄 %s\n", res.Name)
	fmt.Fprintf(b, "- original size: `%s`\n", KB(res.OriginalKB()))
	fmt.Fprintf(b, "- compressed size: `%s`\n", KB(res.CompressedKB()))
	fmt.Fprintf(b, "- reduction: `%s`\n", rateText(res))
	if link != nil {
		if url := link(res); url != "" {
			fmt.Fprintf(b, "- download: [%s](%s)\n", res.DownloadName(), url)
		}
	}
	b.WriteString("\n")
}

func rateText(res *pipeline.Result) string {
	if p := reduction(res); p != nil {
		return p.String()
	}
	return "n/a"
}
