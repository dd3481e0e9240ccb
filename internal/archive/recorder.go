package archive

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/chaz8081/blegateway/internal/metrics"
	"github.com/chaz8081/blegateway/internal/reading"
	"github.com/chaz8081/blegateway/internal/uplink"
)

// Window keeps the latest record per sensor address until drained.
// It is safe for concurrent use.
type Window struct {
	mu     sync.Mutex
	latest map[reading.MAC]reading.SensorRecord
}

func NewWindow() *Window {
	return &Window{latest: make(map[reading.MAC]reading.SensorRecord)}
}

// Add replaces any earlier record from the same address.
func (w *Window) Add(rec reading.SensorRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.latest[rec.MAC] = rec
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.latest)
}

// Drain empties the window and returns its records ordered by address.
func (w *Window) Drain() []reading.SensorRecord {
	w.mu.Lock()
	recs := make([]reading.SensorRecord, 0, len(w.latest))
	for _, rec := range w.latest {
		recs = append(recs, rec)
	}
	clear(w.latest)
	w.mu.Unlock()

	slices.SortFunc(recs, func(a, b reading.SensorRecord) int {
		return bytes.Compare(a.MAC[:], b.MAC[:])
	})
	return recs
}

// Appender stores one encoded blob.
type Appender interface {
	Append(ctx context.Context, ts time.Time, blob []byte) (int64, error)
}

// Recorder turns drained windows into stored blobs and optionally forwards
// each one upstream.
type Recorder struct {
	store   Appender
	pub     uplink.Publisher
	topic   string
	metrics *metrics.Metrics
}

// NewRecorder creates a Recorder. pub and m may be nil.
func NewRecorder(st Appender, pub uplink.Publisher, topic string, m *metrics.Metrics) *Recorder {
	return &Recorder{store: st, pub: pub, topic: topic, metrics: m}
}

// Flush drains w and appends its records stamped with now. Windows holding
// more than reading.MaxRecords sensors are split across several rows.
// It returns the number of rows written; an empty window writes nothing.
func (r *Recorder) Flush(ctx context.Context, w *Window, now time.Time) (int, error) {
	recs := w.Drain()
	rows := 0
	for chunk := range slices.Chunk(recs, reading.MaxRecords) {
		blob, err := reading.Encode(chunk)
		if err != nil {
			return rows, fmt.Errorf("archive: encode window: %w", err)
		}
		id, err := r.store.Append(ctx, now, blob)
		if err != nil {
			return rows, fmt.Errorf("archive: append window: %w", err)
		}
		rows++
		r.metrics.Archived(len(chunk))
		slog.Info("[ARCHIVE] stored aggregated reading", "id", id, "sensors", len(chunk), "bytes", len(blob))

		if r.pub != nil {
			batch := uplink.ReadingBatch{Timestamp: now.UTC(), Records: chunk}
			if err := uplink.PublishJSON(r.pub, r.topic, batch); err != nil {
				slog.Warn("[ARCHIVE] uplink publish failed", "id", id, "error", err)
			}
		}
	}
	return rows, nil
}

// finalFlushTimeout bounds the flush performed after Run's context ends.
const finalFlushTimeout = 5 * time.Second

// Run flushes w every interval until ctx is done, then flushes whatever is
// left once more.
func (r *Recorder) Run(ctx context.Context, w *Window, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
			defer cancel()
			if _, err := r.Flush(flushCtx, w, time.Now()); err != nil {
				return fmt.Errorf("archive: final flush: %w", err)
			}
			slog.Info("[ARCHIVE] recorder stopped")
			return nil
		case now := <-ticker.C:
			if _, err := r.Flush(ctx, w, now); err != nil {
				slog.Error("[ARCHIVE] flush failed", "error", err)
			}
		}
	}
}
