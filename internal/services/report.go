package services

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/mescon/cadence/internal/config"
	"github.com/mescon/cadence/internal/sampler"
)

// Report is what one tick produced: either a sample or the error that
// prevented it.
type Report struct {
	RunID          string          `json:"run_id"`
	Seq            uint64          `json:"seq"`
	Elapsed        time.Duration   `json:"-"`
	ElapsedSeconds float64         `json:"elapsed_seconds"`
	Sample         *sampler.Sample `json:"sample,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// reporter writes one line per Report.
type reporter interface {
	Write(r Report) error
}

func newReporter(format string, w io.Writer) (reporter, error) {
	switch format {
	case config.FormatText, "":
		return textReporter{w: w}, nil
	case config.FormatJSON:
		return jsonReporter{enc: json.NewEncoder(w)}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

// textReporter prints "<elapsed>: <sample>".
type textReporter struct {
	w io.Writer
}

func (t textReporter) Write(r Report) error {
	elapsed := r.Elapsed.Round(time.Millisecond)
	if r.Sample == nil {
		_, err := fmt.Fprintf(t.w, "%s: sample failed: %s\n", elapsed, r.Error)
		return err
	}
	_, err := fmt.Fprintf(t.w, "%s: %s\n", elapsed, r.Sample)
	return err
}

// jsonReporter prints one JSON object per line.
type jsonReporter struct {
	enc *json.Encoder
}

func (j jsonReporter) Write(r Report) error {
	return j.enc.Encode(r)
}
