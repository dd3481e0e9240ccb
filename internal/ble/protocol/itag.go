// Package protocol implements the fixed one-byte payloads exchanged with an
// iTag-style key finder: the button notification and the Immediate Alert
// level write.
package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// Standard GATT UUIDs of the characteristics the gateway talks to.
const (
	ImmediateAlertServiceUUID = "00001802-0000-1000-8000-00805f9b34fb"
	AlertLevelCharUUID        = "00002a06-0000-1000-8000-00805f9b34fb"
	ButtonCharUUID            = "0000ffe1-0000-1000-8000-00805f9b34fb"
)

// CharacteristicName returns a human-readable name for the characteristic
// UUIDs above, or the UUID itself.
func CharacteristicName(uuid string) string {
	switch strings.ToLower(uuid) {
	case AlertLevelCharUUID:
		return "Alert Level"
	case ButtonCharUUID:
		return "Button"
	default:
		return uuid
	}
}

// ErrInvalidPayload is returned for payloads outside the accepted shape or range.
var ErrInvalidPayload = errors.New("protocol: invalid payload")

// AlertLevel is the Immediate Alert level written to the peripheral.
type AlertLevel uint8

const (
	AlertNone AlertLevel = 0
	AlertMild AlertLevel = 1
	AlertHigh AlertLevel = 2
)

func (l AlertLevel) String() string {
	switch l {
	case AlertNone:
		return "none"
	case AlertMild:
		return "mild"
	case AlertHigh:
		return "high"
	default:
		return fmt.Sprintf("AlertLevel(%d)", uint8(l))
	}
}

// Valid reports whether l is one of the three defined levels.
func (l AlertLevel) Valid() bool {
	return l <= AlertHigh
}

// MarshalAlertLevel encodes l as the single-byte characteristic value.
func MarshalAlertLevel(l AlertLevel) ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: alert level %d, must be 0, 1 or 2", ErrInvalidPayload, uint8(l))
	}
	return []byte{byte(l)}, nil
}

// ValidateAlertLevel checks a raw payload destined for the alert level
// characteristic: exactly one byte holding 0, 1 or 2.
func ValidateAlertLevel(payload []byte) error {
	if len(payload) != 1 {
		return fmt.Errorf("%w: alert level payload must be 1 byte, got %d", ErrInvalidPayload, len(payload))
	}
	if !AlertLevel(payload[0]).Valid() {
		return fmt.Errorf("%w: alert level %d, must be 0, 1 or 2", ErrInvalidPayload, payload[0])
	}
	return nil
}

// ButtonState is the decoded button notification.
type ButtonState uint8

const (
	ButtonReleased ButtonState = 0
	ButtonPressed  ButtonState = 1
)

func (s ButtonState) String() string {
	switch s {
	case ButtonReleased:
		return "released"
	case ButtonPressed:
		return "pressed"
	default:
		return fmt.Sprintf("ButtonState(%d)", uint8(s))
	}
}

// UnmarshalButton decodes a button notification. Any single byte is
// accepted; values other than 0 and 1 are returned as-is so callers can
// report them.
func UnmarshalButton(payload []byte) (ButtonState, error) {
	if len(payload) != 1 {
		return 0, fmt.Errorf("%w: button payload must be 1 byte, got %d", ErrInvalidPayload, len(payload))
	}
	return ButtonState(payload[0]), nil
}
