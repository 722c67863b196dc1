// Package pdsink defines the contract between a USB Power Delivery sink
// negotiation engine and the transceiver (port controller) it drives.
package pdsink

import (
	"time"

	"github.com/oxplot/go-pdsink/pdmsg"
)

// State is the connection state as tracked by the transceiver.
type State uint8

// Transceiver states
const (
	// VBUS is present, monitoring for activity on CC1/CC2.
	StateUSB20 State = iota
	// Activity on CC1/CC2 has been detected, waiting for the first PD message.
	StatePDWait
	// USB PD communication has been established.
	StatePD
	// Waiting out a back off period after a failure.
	StateRetryWait
)

func (s State) String() string {
	switch s {
	case StateUSB20:
		return "USB20"
	case StatePDWait:
		return "PDWait"
	case StatePD:
		return "PD"
	case StateRetryWait:
		return "RetryWait"
	default:
		return "INVALID"
	}
}

// EventKind tells what happened in the transceiver.
type EventKind uint8

// Transceiver event kinds
const (
	EventNone EventKind = iota
	// The value returned by Transceiver.State has changed.
	EventStateChanged
	// A message was received from the port partner.
	EventMessageReceived
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "None"
	case EventStateChanged:
		return "StateChanged"
	case EventMessageReceived:
		return "MessageReceived"
	default:
		return "INVALID"
	}
}

// Event is queued by a transceiver for the negotiation engine. Message is only
// set for EventMessageReceived.
type Event struct {
	Kind    EventKind
	Message pdmsg.Message
}

// Transceiver provides an interface to a device, often an IC such as
// FUSB302, operating the physical and protocol layers of a USB Power Delivery
// sink port.
//
// Transceivers must:
//
//   - Detect attachment, pick the active CC line and report the connection
//     as a State.
//   - Handle GoodCRC, retries and message IDs. GoodCRC messages are never
//     reported.
//   - Decode received frames with pdmsg.Parse.
//   - Never block in any method other than Init.
//
// Transceivers should avoid heap allocation after initialization since they
// may be running on microcontrollers with limited garbage collectors.
type Transceiver interface {

	// Init (re-)initializes the transceiver to a known working state. It must
	// be called before any other method and may be called again to recover
	// from errors.
	Init() error

	// Poll advances the internal logic of the transceiver, reading hardware
	// status and queueing events. now is a monotonic timestamp used for
	// internal timeouts.
	Poll(now time.Time) error

	// NextEvent pops the oldest queued event. ok is false if the queue is
	// empty.
	NextEvent() (e Event, ok bool)

	// SendMessage transmits a message to the port partner. The message ID is
	// set by the transceiver. h.DataObjectCount must match the number of 32
	// bit words in payload. SendMessage does not wait for the partner's
	// response.
	SendMessage(h pdmsg.Header, payload []byte) error

	// State returns the current connection state.
	State() State
}
