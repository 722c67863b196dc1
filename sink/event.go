package sink

import "github.com/oxplot/go-pdsink/pdmsg"

// Protocol is the power delivery protocol in use on the port.
type Protocol uint8

const (
	// ProtocolUSB20 means no PD communication (5V only).
	ProtocolUSB20 Protocol = iota
	// ProtocolPD means PD communication is established.
	ProtocolPD
)

func (p Protocol) String() string {
	if p == ProtocolPD {
		return "usb-pd"
	}
	return "usb-2.0"
}

// Power is a voltage and current pair in millivolts and milliamps.
type Power struct {
	Voltage    uint16
	MaxCurrent uint16
}

// IsZero returns true if p holds no power.
func (p Power) IsZero() bool {
	return p == Power{}
}

// DefaultPower is what a sink may draw from a source without a PD contract.
var DefaultPower = Power{Voltage: 5000, MaxCurrent: 900}

// EventKind identifies a sink event.
type EventKind string

const (
	// EventProtocolChanged is fired when the port moves between USB 2.0 and
	// USB PD.
	EventProtocolChanged EventKind = "protocol_changed"

	// EventSourceCapabilitiesChanged is fired when the source advertises its
	// capabilities. A request is sent right after the handler returns.
	EventSourceCapabilitiesChanged EventKind = "source_capabilities_changed"

	// EventPowerAccepted is fired when the source accepts the request. The
	// power is not ready for use yet.
	EventPowerAccepted EventKind = "power_accepted"

	// EventPowerRejected is fired when the source rejects the request.
	EventPowerRejected EventKind = "power_rejected"

	// EventPowerReady is fired when the requested power is ready for use.
	EventPowerReady EventKind = "power_ready"

	// EventFailed is fired when negotiation cannot proceed. The sink stays on
	// the power currently in effect.
	EventFailed EventKind = "failed"
)

// Event is delivered to the EventHandler synchronously from Poll. Only the
// fields relevant to Kind are set:
//
//   - Protocol for EventProtocolChanged
//   - Capabilities for EventSourceCapabilitiesChanged
//   - Power for EventPowerAccepted (requested) and EventPowerReady (active)
//   - Err for EventFailed
type Event struct {
	Kind         EventKind
	Protocol     Protocol
	Capabilities []pdmsg.PowerDataObject
	Power        Power
	Err          error
}

// EventHandler is an interface that wraps the method HandleEvent.
type EventHandler interface {
	// HandleEvent is called in line with Sink.Poll. The Capabilities slice
	// must not be retained past the call.
	HandleEvent(Event)
}

// EventHandlerFunc is an adapter to allow the use of ordinary functions as
// EventHandler.
type EventHandlerFunc func(Event)

// HandleEvent implements EventHandler interface.
func (f EventHandlerFunc) HandleEvent(e Event) {
	f(e)
}
