// Package sink provides a USB Power Delivery negotiation engine for sink
// devices. It is driven by polling and never blocks.
package sink

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxplot/go-pdsink"
	"github.com/oxplot/go-pdsink/pdmsg"
)

// MaxEventsPerPoll bounds the number of transceiver events handled by a
// single call to Poll.
const MaxEventsPerPoll = 64

var (
	// ErrNoAcceptableOffer is reported when none of the offered power data
	// objects can be requested.
	ErrNoAcceptableOffer = errors.New("sink: no acceptable offer")

	// ErrUnsupportedMessage is reported when a message the engine cannot
	// interpret reaches it.
	ErrUnsupportedMessage = errors.New("sink: unsupported message")

	// ErrEventOverflow is reported when Poll stops after MaxEventsPerPoll
	// events. Events left in the transceiver are handled by the next Poll.
	ErrEventOverflow = errors.New("sink: too many events in one poll")

	// ErrInvalidPosition is returned by RequestPower for object positions
	// outside 1 to pdmsg.MaxDataObjects.
	ErrInvalidPosition = errors.New("sink: invalid object position")
)

// Sink negotiates power with a source through a transceiver. All methods must
// be called from the same goroutine.
type Sink struct {
	tr       pdsink.Transceiver
	log      zerolog.Logger
	selector Selector
	handler  EventHandler

	protocol Protocol

	// Non-zero only while a request is outstanding.
	requested Power
	// Last accepted and ready contract.
	active Power

	// Revision of the last source capabilities, used in outgoing messages.
	specRev pdmsg.Revision

	// Decoded source capabilities, reused for every message.
	caps [pdmsg.MaxSourceCapabilities]pdmsg.PowerDataObject
}

// Option configures a Sink.
type Option func(*Sink)

// WithLogger sets the logger for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Sink) { s.log = l }
}

// WithSelector sets the selector that picks an offer from the source
// capabilities. The default is MaxVoltage{}.
func WithSelector(sel Selector) Option {
	return func(s *Sink) { s.selector = sel }
}

// WithEventHandler sets the handler to send events to.
func WithEventHandler(h EventHandler) Option {
	return func(s *Sink) { s.handler = h }
}

// New creates a new sink for a given transceiver. The sink owns the
// transceiver from then on.
func New(tr pdsink.Transceiver, opts ...Option) *Sink {
	s := &Sink{
		tr:       tr,
		log:      zerolog.Nop(),
		selector: MaxVoltage{},
		protocol: ProtocolUSB20,
		active:   DefaultPower,
		specRev:  pdmsg.Revision20,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init initializes the transceiver and takes the initial protocol from its
// state. No EventProtocolChanged is fired by Init.
func (s *Sink) Init() error {
	if err := s.tr.Init(); err != nil {
		return fmt.Errorf("sink: init transceiver: %w", err)
	}
	s.updateProtocol()
	s.log.Debug().Stringer("protocol", s.protocol).Msg("initialized")
	return nil
}

// Poll polls the transceiver and handles all of its queued events, up to
// MaxEventsPerPoll. now is passed through to the transceiver. Events are
// delivered to the handler before Poll returns. Only transceiver errors are
// returned; negotiation failures are reported as EventFailed.
func (s *Sink) Poll(now time.Time) error {
	for n := 0; ; n++ {
		if n == MaxEventsPerPoll {
			s.fail(ErrEventOverflow)
			return nil
		}
		if err := s.tr.Poll(now); err != nil {
			return fmt.Errorf("sink: poll transceiver: %w", err)
		}
		e, ok := s.tr.NextEvent()
		if !ok {
			return nil
		}
		switch e.Kind {
		case pdsink.EventStateChanged:
			if s.updateProtocol() {
				s.log.Debug().Stringer("protocol", s.protocol).Msg("protocol changed")
				s.notify(Event{Kind: EventProtocolChanged, Protocol: s.protocol})
			}
		case pdsink.EventMessageReceived:
			s.handleMessage(e.Message)
		default:
			s.log.Warn().Stringer("event", e.Kind).Msg("ignoring transceiver event")
		}
	}
}

// Protocol returns the protocol currently in use.
func (s *Sink) Protocol() Protocol {
	return s.protocol
}

// Contract returns the power currently in effect.
func (s *Sink) Contract() Power {
	return s.active
}

// Requested returns the outstanding request or zero Power if there is none.
func (s *Sink) Requested() Power {
	return s.requested
}

// SpecRevision returns the revision used for outgoing messages.
func (s *Sink) SpecRevision() pdmsg.Revision {
	return s.specRev
}

// updateProtocol derives the protocol from the transceiver state and returns
// true if it changed.
func (s *Sink) updateProtocol() bool {
	old := s.protocol
	if s.tr.State() == pdsink.StatePD {
		s.protocol = ProtocolPD
	} else {
		s.protocol = ProtocolUSB20
		s.active = DefaultPower
	}
	return s.protocol != old
}

func (s *Sink) handleMessage(m pdmsg.Message) {
	s.log.Debug().Stringer("msg", m.Kind).Uint16("header", uint16(m.Header)).Msg("rx")

	switch m.Kind {
	case pdmsg.KindAccept:
		s.notify(Event{Kind: EventPowerAccepted, Power: s.requested})

	case pdmsg.KindReject:
		s.requested = Power{}
		s.notify(Event{Kind: EventPowerRejected})

	case pdmsg.KindReady:
		if s.requested.IsZero() {
			s.log.Warn().Msg("ignoring ready without an outstanding request")
			return
		}
		s.active = s.requested
		s.requested = Power{}
		s.log.Debug().Uint16("voltage", s.active.Voltage).Uint16("max_current", s.active.MaxCurrent).Msg("power ready")
		s.notify(Event{Kind: EventPowerReady, Power: s.active})

	case pdmsg.KindSourceCapabilities:
		r := m.Header.Revision()
		if r > pdmsg.Revision30 {
			r = pdmsg.Revision30
		}
		s.specRev = r
		caps := m.AppendSourceCapabilities(s.caps[:0])
		s.log.Debug().Int("count", len(caps)).Msg("source capabilities changed")
		s.notify(Event{Kind: EventSourceCapabilitiesChanged, Capabilities: caps})
		s.evaluateCapabilities(caps)

	case pdmsg.KindVendorDefined, pdmsg.KindSoftReset:
		s.log.Debug().Stringer("msg", m.Kind).Msg("not handled")

	default:
		s.fail(fmt.Errorf("%w: %s header %#04x", ErrUnsupportedMessage, m.Kind, uint16(m.Header)))
	}
}

func (s *Sink) evaluateCapabilities(caps []pdmsg.PowerDataObject) {
	for i, c := range caps {
		s.log.Trace().Int("position", i+1).Stringer("pdo", c).Msg("offer")
	}
	sel, err := s.selector.SelectCapability(caps)
	if err != nil {
		s.fail(err)
		return
	}
	s.log.Debug().
		Uint8("position", sel.Position).
		Uint16("voltage", sel.Voltage).
		Uint16("max_current", sel.MaxCurrent).
		Msg("selected")
	if err := s.RequestPower(sel.Voltage, sel.MaxCurrent, sel.Position); err != nil {
		s.fail(err)
	}
}

// RequestPower sends a fixed supply request for the object at position
// (starting at 1) of the last source capabilities. voltage is recorded but
// not sent since the object position implies it. maxCurrent is rounded to
// the nearest 10mA and capped to what the request can carry.
//
// The outcome arrives later as EventPowerAccepted, EventPowerRejected and
// EventPowerReady.
func (s *Sink) RequestPower(voltage, maxCurrent uint16, position uint8) error {
	if position < 1 || position > pdmsg.MaxDataObjects {
		return fmt.Errorf("%w: %d", ErrInvalidPosition, position)
	}
	s.requested = Power{Voltage: voltage, MaxCurrent: maxCurrent}

	current := currentUnits(maxCurrent)
	var rdo pdmsg.RequestDO
	rdo.SetFixedOperatingCurrentUnits(current)
	rdo.SetFixedMaxOperatingCurrentUnits(current)
	rdo.SetSelectedObjectPosition(position)
	rdo.SetNoUSBSuspend(true)
	rdo.SetUSBCommunicationsCapable(true)

	var payload [4]byte
	rdo.PutBytes(payload[:])

	var h pdmsg.Header
	h.SetType(pdmsg.TypeRequest)
	h.SetDataObjectCount(1)
	h.SetRevision(s.specRev)
	h.SetPowerRole(pdmsg.PowerRoleSink)
	h.SetDataRole(pdmsg.DataRoleUFP)

	if err := s.tr.SendMessage(h, payload[:]); err != nil {
		s.requested = Power{}
		return fmt.Errorf("sink: send request: %w", err)
	}
	return nil
}

// currentUnits converts milliamps to the 10mA units of a fixed request,
// rounding to nearest.
func currentUnits(mA uint16) uint16 {
	u := (uint32(mA) + 5) / 10
	if u > pdmsg.MaxFixedCurrentUnits {
		u = pdmsg.MaxFixedCurrentUnits
	}
	return uint16(u)
}

func (s *Sink) fail(err error) {
	s.log.Error().Err(err).Msg("negotiation failed")
	s.notify(Event{Kind: EventFailed, Err: err})
}

func (s *Sink) notify(e Event) {
	if s.handler != nil {
		s.handler.HandleEvent(e)
	}
}
