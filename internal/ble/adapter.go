// Package ble manages a gateway session with a single BLE peripheral: it
// finds the peripheral by hardware address, connects, discovers its
// characteristics, subscribes to notifications and writes commands, and
// always tears the link down on exit.
package ble

import (
	"context"
	"errors"
	"time"

	"github.com/chaz8081/blegateway/internal/reading"
)

// NodeID is the handle the radio stack assigns to a discovered peripheral.
// It is only meaningful for the lifetime of one scan/connection.
type NodeID int

// NoNode marks a session that has not found its peripheral yet.
const NoNode NodeID = -1

// Channel selects the link type used by Connect.
type Channel int

const (
	ChannelLE Channel = iota
	ChannelClassic
)

// SecurityLevel is passed through to the radio stack on connect.
type SecurityLevel int

// NotificationHandler receives a notification payload. It runs synchronously
// on the goroutine calling PollNotifications and must not block.
type NotificationHandler func(node NodeID, index int, payload []byte)

// Capability is the radio stack as seen by the session manager. Every call
// reports failure through its error; implementations must not panic.
type Capability interface {
	// Init prepares the radio for use.
	Init() error
	// Scan discovers nearby peripherals until ctx is done and assigns them
	// node identifiers.
	Scan(ctx context.Context) error
	// ResolveAddress returns the hardware address behind a node identifier.
	ResolveAddress(node NodeID) (reading.MAC, error)
	// Connect opens a link to node.
	Connect(node NodeID, channel Channel, security SecurityLevel) error
	// DiscoverCharacteristics enumerates the characteristics of a connected
	// node, making them addressable by index.
	DiscoverCharacteristics(node NodeID) error
	// Subscribe enables (or disables) notifications on a characteristic.
	// handler is ignored when disabling.
	Subscribe(node NodeID, index int, enable bool, handler NotificationHandler) error
	// Write sends payload to a characteristic.
	Write(node NodeID, index int, payload []byte) error
	// PollNotifications waits up to timeout for notifications and delivers
	// every pending one to its handler before returning.
	PollNotifications(timeout time.Duration)
	// Disconnect closes the link to node.
	Disconnect(node NodeID) error
	// Shutdown releases the radio.
	Shutdown() error
}

// LinkMonitor is implemented by capabilities that can tell when a connected
// peripheral dropped the link on its own.
type LinkMonitor interface {
	LinkLost(node NodeID) bool
}

var (
	ErrNotFound        = errors.New("ble: peripheral not found")
	ErrInitFailed      = errors.New("ble: radio init failed")
	ErrConnectFailed   = errors.New("ble: connect failed")
	ErrDiscoverFailed  = errors.New("ble: characteristic discovery failed")
	ErrSubscribeFailed = errors.New("ble: subscribe failed")
	ErrWriteFailed     = errors.New("ble: write failed")
	ErrNotReady        = errors.New("ble: session not ready")
	ErrLinkLost        = errors.New("ble: link lost")
	ErrInterrupted     = errors.New("ble: interrupted")
)
