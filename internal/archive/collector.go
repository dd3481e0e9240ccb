package archive

import (
	"log/slog"
	"strings"

	"github.com/chaz8081/blegateway/internal/ble"
	"github.com/chaz8081/blegateway/internal/reading"
)

// Collector feeds TP357 thermometer advertisements into a Window.
type Collector struct {
	window     *Window
	nameFilter string
}

// NewCollector creates a Collector accepting advertisements whose local
// name contains nameFilter.
func NewCollector(w *Window, nameFilter string) *Collector {
	return &Collector{window: w, nameFilter: nameFilter}
}

// Observe records adv in the window when it comes from a matching sensor and
// carries a TP357 payload. It reports whether a record was added.
func (c *Collector) Observe(adv ble.Advertisement) bool {
	if !strings.Contains(adv.Name, c.nameFilter) {
		return false
	}
	for _, raw := range adv.ManufacturerData {
		sample, err := reading.ParseTP357(raw)
		if err != nil {
			slog.Debug("[COLLECTOR] skipping manufacturer data", "address", adv.Address, "error", err)
			continue
		}
		c.window.Add(reading.SensorRecord{
			MAC:         adv.Address,
			Temperature: sample.Temperature,
			Humidity:    sample.Humidity,
			RSSI:        adv.RSSI,
		})
		slog.Debug("[COLLECTOR] sample", "address", adv.Address, "name", adv.Name,
			"temperature", sample.Temperature, "humidity", sample.Humidity, "rssi", adv.RSSI)
		return true
	}
	return false
}
