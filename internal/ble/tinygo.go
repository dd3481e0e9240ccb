package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/chaz8081/blegateway/internal/ble/protocol"
	"github.com/chaz8081/blegateway/internal/reading"
)

// notificationBacklog bounds how many notifications may queue between polls.
const notificationBacklog = 64

// TinyGoAdapter implements Capability on top of tinygo-org/bluetooth.
// Peripherals seen during Scan are numbered from 1 in discovery order and
// keep their number for the adapter's lifetime. Notifications arrive on
// radio goroutines and are queued until PollNotifications delivers them.
//
// On macOS, tinygo addresses are CoreBluetooth UUIDs rather than hardware
// addresses, so ResolveAddress fails for every node there.
type TinyGoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects nodes, index, links and handlers.
	mu       sync.Mutex
	nodes    []bluetooth.Address
	index    map[string]NodeID // keyed by Address.String()
	links    map[NodeID]*tinyGoLink
	handlers map[notifyKey]NotificationHandler

	pending chan notification
}

type tinyGoLink struct {
	device bluetooth.Device
	chars  []bluetooth.DeviceCharacteristic
	lost   atomic.Bool
}

type notifyKey struct {
	node  NodeID
	index int
}

type notification struct {
	notifyKey
	payload []byte
}

// NewTinyGoAdapter creates a Capability backed by the default adapter.
func NewTinyGoAdapter() *TinyGoAdapter {
	return &TinyGoAdapter{
		adapter:  bluetooth.DefaultAdapter,
		index:    make(map[string]NodeID),
		links:    make(map[NodeID]*tinyGoLink),
		handlers: make(map[notifyKey]NotificationHandler),
		pending:  make(chan notification, notificationBacklog),
	}
}

// Compile-time checks.
var (
	_ Capability  = (*TinyGoAdapter)(nil)
	_ LinkMonitor = (*TinyGoAdapter)(nil)
)

func (a *TinyGoAdapter) Init() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler fires with connected=false when a
	// peripheral drops the link.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.mu.Lock()
		node, ok := a.index[device.Address.String()]
		link := a.links[node]
		a.mu.Unlock()
		if ok && link != nil {
			slog.Warn("[BLE] peripheral disconnected", "node", node)
			link.lost.Store(true)
		}
	})
	return nil
}

// scan runs the radio until ctx is done and calls fn for every result.
func (a *TinyGoAdapter) scan(ctx context.Context, fn func(bluetooth.ScanResult)) error {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		fn(result)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("ble: scan: %w", err)
	}
	return nil
}

func (a *TinyGoAdapter) Scan(ctx context.Context) error {
	return a.scan(ctx, func(result bluetooth.ScanResult) {
		key := result.Address.String()
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, ok := a.index[key]; ok {
			return
		}
		a.nodes = append(a.nodes, result.Address)
		node := NodeID(len(a.nodes))
		a.index[key] = node
		slog.Debug("[BLE] discovered", "node", node, "address", key, "name", result.LocalName(), "rssi", result.RSSI)
	})
}

func (a *TinyGoAdapter) address(node NodeID) (bluetooth.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if node < 1 || int(node) > len(a.nodes) {
		return bluetooth.Address{}, false
	}
	return a.nodes[node-1], true
}

func (a *TinyGoAdapter) ResolveAddress(node NodeID) (reading.MAC, error) {
	addr, ok := a.address(node)
	if !ok {
		return reading.MAC{}, fmt.Errorf("ble: unknown node %d", node)
	}
	return reading.ParseMAC(addr.String())
}

func (a *TinyGoAdapter) Connect(node NodeID, channel Channel, security SecurityLevel) error {
	if channel != ChannelLE {
		return fmt.Errorf("ble: channel %d not supported", channel)
	}
	addr, ok := a.address(node)
	if !ok {
		return fmt.Errorf("ble: unknown node %d", node)
	}
	// Pairing and encryption are negotiated by the host stack.
	slog.Debug("[BLE] connecting", "node", node, "security", security)

	device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("ble: connect to %s: %w", addr.String(), err)
	}
	a.mu.Lock()
	a.links[node] = &tinyGoLink{device: device}
	a.mu.Unlock()
	return nil
}

func (a *TinyGoAdapter) link(node NodeID) (*tinyGoLink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	link, ok := a.links[node]
	if !ok {
		return nil, fmt.Errorf("ble: node %d not connected", node)
	}
	return link, nil
}

func (a *TinyGoAdapter) characteristic(node NodeID, index int) (bluetooth.DeviceCharacteristic, error) {
	link, err := a.link(node)
	if err != nil {
		return bluetooth.DeviceCharacteristic{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if index < 0 || index >= len(link.chars) {
		return bluetooth.DeviceCharacteristic{}, fmt.Errorf("ble: node %d has no characteristic %d", node, index)
	}
	return link.chars[index], nil
}

// DiscoverCharacteristics flattens every characteristic of every service
// into one list, in the order the stack reports them.
func (a *TinyGoAdapter) DiscoverCharacteristics(node NodeID) error {
	link, err := a.link(node)
	if err != nil {
		return err
	}
	svcs, err := link.device.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("ble: discover services: %w", err)
	}

	var chars []bluetooth.DeviceCharacteristic
	for _, svc := range svcs {
		found, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return fmt.Errorf("ble: discover characteristics of %s: %w", svc.UUID().String(), err)
		}
		chars = append(chars, found...)
	}
	if len(chars) == 0 {
		return fmt.Errorf("ble: node %d exposes no characteristics", node)
	}
	for i, c := range chars {
		slog.Debug("[BLE] characteristic", "index", i, "uuid", protocol.CharacteristicName(c.UUID().String()))
	}

	a.mu.Lock()
	link.chars = chars
	a.mu.Unlock()
	return nil
}

func (a *TinyGoAdapter) Subscribe(node NodeID, index int, enable bool, handler NotificationHandler) error {
	char, err := a.characteristic(node, index)
	if err != nil {
		return err
	}
	key := notifyKey{node: node, index: index}

	if !enable {
		a.mu.Lock()
		delete(a.handlers, key)
		a.mu.Unlock()
		return char.EnableNotifications(nil)
	}

	a.mu.Lock()
	a.handlers[key] = handler
	a.mu.Unlock()
	return char.EnableNotifications(func(buf []byte) {
		payload := make([]byte, len(buf))
		copy(payload, buf)
		select {
		case a.pending <- notification{notifyKey: key, payload: payload}:
		default:
			slog.Warn("[BLE] notification backlog full, dropping", "node", node, "characteristic", index)
		}
	})
}

func (a *TinyGoAdapter) Write(node NodeID, index int, payload []byte) error {
	char, err := a.characteristic(node, index)
	if err != nil {
		return err
	}
	_, err = char.WriteWithoutResponse(payload)
	return err
}

func (a *TinyGoAdapter) PollNotifications(timeout time.Duration) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n := <-a.pending:
		a.deliver(n)
	case <-timer.C:
		return
	}
	for {
		select {
		case n := <-a.pending:
			a.deliver(n)
		default:
			return
		}
	}
}

func (a *TinyGoAdapter) deliver(n notification) {
	a.mu.Lock()
	handler := a.handlers[n.notifyKey]
	a.mu.Unlock()
	if handler != nil {
		handler(n.node, n.index, n.payload)
	}
}

func (a *TinyGoAdapter) Disconnect(node NodeID) error {
	link, err := a.link(node)
	if err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.links, node)
	a.mu.Unlock()
	return link.device.Disconnect()
}

// Shutdown stops any scan and forgets live links. Nodes keep their numbers.
func (a *TinyGoAdapter) Shutdown() error {
	a.adapter.StopScan()
	a.mu.Lock()
	clear(a.links)
	clear(a.handlers)
	a.mu.Unlock()
	return nil
}

func (a *TinyGoAdapter) LinkLost(node NodeID) bool {
	a.mu.Lock()
	link, ok := a.links[node]
	a.mu.Unlock()
	return ok && link.lost.Load()
}

// Advertisement is one scan result as seen by passive collectors.
type Advertisement struct {
	Address reading.MAC
	Name    string
	RSSI    int8
	// ManufacturerData holds each manufacturer-specific element with its
	// two company identifier bytes in front, as sent over the air.
	ManufacturerData [][]byte
}

// ScanAdvertisements streams advertisements to fn until ctx is done.
// Results whose address is not a hardware address are skipped.
func (a *TinyGoAdapter) ScanAdvertisements(ctx context.Context, fn func(Advertisement)) error {
	return a.scan(ctx, func(result bluetooth.ScanResult) {
		mac, err := reading.ParseMAC(result.Address.String())
		if err != nil {
			return
		}
		adv := Advertisement{
			Address: mac,
			Name:    result.LocalName(),
			RSSI:    clampRSSI(result.RSSI),
		}
		for _, el := range result.ManufacturerData() {
			adv.ManufacturerData = append(adv.ManufacturerData, reading.ManufacturerBytes(el.CompanyID, el.Data))
		}
		fn(adv)
	})
}

func clampRSSI(rssi int16) int8 {
	switch {
	case rssi < -128:
		return -128
	case rssi > 127:
		return 127
	default:
		return int8(rssi)
	}
}
