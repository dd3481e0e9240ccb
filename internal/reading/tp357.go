package reading

import (
	"encoding/binary"
	"fmt"
)

// TP357Sample is the temperature and humidity carried in a TP357
// advertisement.
type TP357Sample struct {
	Temperature float64
	Humidity    float64
}

// ParseTP357 decodes the manufacturer-specific data of a TP357 advertisement.
// raw includes the two company identifier bytes. The sensor packs the
// temperature as a signed 16-bit little-endian value in tenths of a degree
// starting at byte 1, overlapping the company identifier, and the relative
// humidity as a whole percentage in byte 3.
func ParseTP357(raw []byte) (TP357Sample, error) {
	if len(raw) < 4 {
		return TP357Sample{}, fmt.Errorf("%w: TP357 manufacturer data needs 4 bytes, got %d", ErrTruncated, len(raw))
	}
	tempRaw := int16(binary.LittleEndian.Uint16(raw[1:3]))
	return TP357Sample{
		Temperature: float64(tempRaw) / 10.0,
		Humidity:    float64(raw[3]),
	}, nil
}

// ManufacturerBytes rebuilds the raw manufacturer-specific field from a
// company identifier and the payload that follows it, as BLE stacks usually
// split them apart.
func ManufacturerBytes(companyID uint16, data []byte) []byte {
	raw := make([]byte, 0, 2+len(data))
	raw = binary.LittleEndian.AppendUint16(raw, companyID)
	return append(raw, data...)
}
