package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chaz8081/blegateway/internal/ble"
	"github.com/chaz8081/blegateway/internal/ble/protocol"
	"github.com/chaz8081/blegateway/internal/metrics"
)

// HelpText lists the commands understood by Dispatcher.
const HelpText = `To send commands, type 'a0', 'a1', or 'a2' and press Enter.
  'a0': No Alert
  'a1': Mild Alert
  'a2': High Alert
  'h' or '?': show this help`

// ErrInvalidCommand is returned for unknown commands and bad parameters.
// It never ends the session.
var ErrInvalidCommand = errors.New("console: invalid command")

// AlertSetter writes an Immediate Alert level to the peripheral.
type AlertSetter interface {
	SetAlertLevel(level protocol.AlertLevel) error
}

// Dispatcher turns command lines into peripheral actions and reports the
// outcome through the prompt.
type Dispatcher struct {
	prompt  *Prompt
	alerts  AlertSetter
	metrics *metrics.Metrics
}

// NewDispatcher creates a Dispatcher. m may be nil.
func NewDispatcher(p *Prompt, alerts AlertSetter, m *metrics.Metrics) *Dispatcher {
	if p == nil || alerts == nil {
		panic("console: NewDispatcher requires a prompt and an alert setter")
	}
	return &Dispatcher{prompt: p, alerts: alerts, metrics: m}
}

// Handle executes one command line. The returned error is informational;
// the caller keeps the session running whatever Handle returns.
func (d *Dispatcher) Handle(line string) error {
	d.prompt.Submitted()
	cmd := strings.TrimSpace(line)

	switch {
	case cmd == "":
		d.prompt.Show()
		return nil
	case cmd == "h" || cmd == "?":
		d.prompt.Notify("%s", HelpText)
		d.metrics.Command("ok")
		return nil
	case strings.HasPrefix(cmd, "a"):
		return d.alert(cmd)
	default:
		d.prompt.Notify("Unknown command.")
		d.metrics.Command("invalid")
		return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
}

func (d *Dispatcher) alert(cmd string) error {
	level, err := strconv.Atoi(cmd[1:])
	if err != nil {
		d.prompt.Notify("Invalid alert command format. Use a0, a1, or a2.")
		d.metrics.Command("invalid")
		return fmt.Errorf("%w: %q", ErrInvalidCommand, cmd)
	}
	if level < 0 || level > int(protocol.AlertHigh) {
		d.prompt.Notify("Invalid alert level. Must be 0, 1, or 2.")
		d.metrics.Command("invalid")
		return fmt.Errorf("%w: alert level %d", ErrInvalidCommand, level)
	}

	d.prompt.Say("Attempting to set Immediate Alert level to %d...", level)
	if err := d.alerts.SetAlertLevel(protocol.AlertLevel(level)); err != nil {
		d.prompt.Notify("Failed to write alert level %d. Ensure permissions are correct and device is connected.", level)
		d.metrics.Command("failed")
		return fmt.Errorf("console: set alert level %d: %w", level, err)
	}
	d.prompt.Notify("Successfully set Immediate Alert level to %d.", level)
	d.metrics.Command("ok")
	return nil
}

// ButtonHandler reports button notifications through p. When forward is
// non-nil it also receives every decoded button state.
func ButtonHandler(p *Prompt, forward func(node ble.NodeID, state protocol.ButtonState)) ble.NotificationHandler {
	return func(node ble.NodeID, index int, payload []byte) {
		p.Say("Notification received from iTag (Node %d) on characteristic index %d: % x", node, index, payload)

		state, err := protocol.UnmarshalButton(payload)
		if err != nil || state != protocol.ButtonPressed {
			p.Notify("Received other data from button characteristic.")
			return
		}
		p.Notify("--- iTag Button Clicked! ---")
		if forward != nil {
			forward(node, state)
		}
	}
}
