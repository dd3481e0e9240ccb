// Package archive reads and writes aggregated sensor readings in the
// persistent store.
package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chaz8081/blegateway/internal/metrics"
	"github.com/chaz8081/blegateway/internal/reading"
	"github.com/chaz8081/blegateway/internal/store"
)

// Source yields the most recent stored entries, newest first.
type Source interface {
	Latest(ctx context.Context, limit int) ([]store.Entry, error)
}

// Reading is one stored entry with its decoded records. Err is set, and
// Records nil, when the blob could not be decoded.
type Reading struct {
	ID        int64
	Timestamp string
	Records   []reading.SensorRecord
	Err       error
}

// Reader decodes stored entries.
type Reader struct {
	src     Source
	metrics *metrics.Metrics
}

// NewReader creates a Reader over src. m may be nil.
func NewReader(src Source, m *metrics.Metrics) *Reader {
	return &Reader{src: src, metrics: m}
}

// Latest returns up to n readings, newest first. A blob that fails to decode
// is reported in its Reading and does not stop the others.
func (r *Reader) Latest(ctx context.Context, n int) ([]Reading, error) {
	entries, err := r.src.Latest(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("archive: read latest %d: %w", n, err)
	}

	out := make([]Reading, 0, len(entries))
	for _, e := range entries {
		rd := Reading{ID: e.ID, Timestamp: e.Timestamp}
		rd.Records, rd.Err = reading.Decode(e.Blob)
		if rd.Err != nil {
			slog.Warn("[ARCHIVE] failed to decode entry", "id", e.ID, "timestamp", e.Timestamp, "error", rd.Err)
			r.metrics.DecodeError()
		}
		out = append(out, rd)
	}
	return out, nil
}

// Render prints readings in the human-readable report format.
func Render(w io.Writer, readings []Reading) error {
	if len(readings) == 0 {
		_, err := fmt.Fprintln(w, "No aggregated sensor data found in the database.")
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d latest aggregated entries:\n\n", len(readings))
	for i, rd := range readings {
		fmt.Fprintf(&b, "--- Entry %d (Timestamp: %s) ---\n", i+1, rd.Timestamp)
		switch {
		case rd.Err != nil:
			b.WriteString("  Failed to decode sensor data for this entry.\n")
		case len(rd.Records) == 0:
			b.WriteString("  No sensors in this entry.\n")
		}
		for j, rec := range rd.Records {
			fmt.Fprintf(&b, "  Sensor %d:\n", j+1)
			fmt.Fprintf(&b, "    MAC Address: %s\n", rec.MAC)
			fmt.Fprintf(&b, "    Temperature: %.1f C\n", rec.Temperature)
			fmt.Fprintf(&b, "    Humidity: %.1f %%\n", rec.Humidity)
			fmt.Fprintf(&b, "    RSSI: %d dBm\n", rec.RSSI)
		}
		b.WriteString(strings.Repeat("-", 40) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
