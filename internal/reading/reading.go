// Package reading implements the aggregated sensor reading wire format used
// to archive TP357 thermo/hygrometer samples, along with the hardware address
// type shared by the BLE session code.
package reading

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// RecordSize is the encoded size of one SensorRecord:
// 6 address bytes, two float64 values and one int8.
const RecordSize = 6 + 8 + 8 + 1

// MaxRecords is the largest number of records one aggregated reading can
// carry, bounded by the single count byte.
const MaxRecords = 255

// MAC is a 6-byte Bluetooth hardware address in transmission order.
type MAC [6]byte

// String renders the address as six uppercase hex octets joined by colons.
func (m MAC) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsZero reports whether m is the all-zero address.
func (m MAC) IsZero() bool {
	return m == MAC{}
}

// ParseMAC parses "AA:BB:CC:DD:EE:FF" (colon or dash separated, any case).
func ParseMAC(s string) (MAC, error) {
	var m MAC
	parts := strings.FieldsFunc(strings.TrimSpace(s), func(r rune) bool {
		return r == ':' || r == '-'
	})
	if len(parts) != len(m) {
		return MAC{}, fmt.Errorf("reading: invalid MAC address %q", s)
	}
	for i, p := range parts {
		if len(p) != 2 {
			return MAC{}, fmt.Errorf("reading: invalid MAC address %q", s)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return MAC{}, fmt.Errorf("reading: invalid MAC address %q: %w", s, err)
		}
		m[i] = b[0]
	}
	return m, nil
}

// MarshalText implements encoding.TextMarshaler so addresses serialize in
// canonical form in JSON payloads.
func (m MAC) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *MAC) UnmarshalText(text []byte) error {
	parsed, err := ParseMAC(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// SensorRecord is one decoded observation from a single sensor.
type SensorRecord struct {
	MAC         MAC     `json:"mac_address"`
	Temperature float64 `json:"temperature"` // °C
	Humidity    float64 `json:"humidity"`    // %
	RSSI        int8    `json:"rssi"`        // dBm
}
