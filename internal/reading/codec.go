package reading

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
)

var (
	// ErrTruncated is returned when a blob ends before the next field.
	ErrTruncated = errors.New("reading: truncated blob")
	// ErrCountMismatch is returned when a record count does not fit the
	// one-byte count field.
	ErrCountMismatch = errors.New("reading: record count out of range")
)

// Decode parses an aggregated reading blob:
//
//	[count:u8] then count x [mac:6][temperature:f64 LE][humidity:f64 LE][rssi:i8]
//
// An empty blob yields an empty slice. A blob that ends before the declared
// number of records is complete fails as a whole; no partial list is returned.
func Decode(blob []byte) ([]SensorRecord, error) {
	if len(blob) == 0 {
		slog.Warn("[READING] empty aggregated blob")
		return []SensorRecord{}, nil
	}

	c := cursor{data: blob}
	count, err := c.uint8("sensor count")
	if err != nil {
		return nil, err
	}

	records := make([]SensorRecord, 0, count)
	for i := 0; i < int(count); i++ {
		var rec SensorRecord
		mac, err := c.bytes("MAC address", len(rec.MAC))
		if err != nil {
			return nil, err
		}
		copy(rec.MAC[:], mac)
		if rec.Temperature, err = c.float64("temperature"); err != nil {
			return nil, err
		}
		if rec.Humidity, err = c.float64("humidity"); err != nil {
			return nil, err
		}
		rssi, err := c.uint8("RSSI")
		if err != nil {
			return nil, err
		}
		rec.RSSI = int8(rssi)
		records = append(records, rec)
	}
	return records, nil
}

// Encode is the inverse of Decode.
func Encode(records []SensorRecord) ([]byte, error) {
	if len(records) > MaxRecords {
		return nil, fmt.Errorf("%w: %d records, max %d", ErrCountMismatch, len(records), MaxRecords)
	}
	buf := make([]byte, 0, 1+len(records)*RecordSize)
	buf = append(buf, byte(len(records)))
	for _, rec := range records {
		buf = append(buf, rec.MAC[:]...)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(rec.Temperature))
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(rec.Humidity))
		buf = append(buf, byte(rec.RSSI))
	}
	return buf, nil
}

// cursor reads fixed-width fields from a blob, refusing to read past its end.
type cursor struct {
	data []byte
	off  int
}

func (c *cursor) bytes(field string, n int) ([]byte, error) {
	if len(c.data)-c.off < n {
		return nil, fmt.Errorf("%w: %s needs %d bytes at offset %d, have %d",
			ErrTruncated, field, n, c.off, len(c.data)-c.off)
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

func (c *cursor) uint8(field string) (uint8, error) {
	b, err := c.bytes(field, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *cursor) float64(field string) (float64, error) {
	b, err := c.bytes(field, 8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}
