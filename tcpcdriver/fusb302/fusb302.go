// Package fusb302 implements a USB Power Delivery sink transceiver on top of
// the FUSB302 type-C port controller from ONSemi.
package fusb302

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxplot/go-pdsink"
	"github.com/oxplot/go-pdsink/pdmsg"
	"github.com/oxplot/go-pdsink/tcpcdriver"
)

// MPN represents the manufacturer part number
type MPN uint8

// I2CAddress returns the I2C address of the FUSB302.
func (m MPN) I2CAddress() uint8 {
	return uint8(m)
}

// Manufacturer part numbers
const (
	FUSB302BUCX   MPN = 0b100010
	FUSB302BMPX   MPN = 0b100010
	FUSB302VMPX   MPN = 0b100010
	FUSB302B01MPX MPN = 0b100011
	FUSB302B10MPX MPN = 0b100100
	FUSB302B11MPX MPN = 0b100101
)

var mpnByName = map[string]MPN{
	"FUSB302BUCX":   FUSB302BUCX,
	"FUSB302BMPX":   FUSB302BMPX,
	"FUSB302VMPX":   FUSB302VMPX,
	"FUSB302B01MPX": FUSB302B01MPX,
	"FUSB302B10MPX": FUSB302B10MPX,
	"FUSB302B11MPX": FUSB302B11MPX,
}

// ParseMPN returns the part number with the given name, ignoring case.
func ParseMPN(name string) (MPN, error) {
	m, ok := mpnByName[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMPN, name)
	}
	return m, nil
}

var (
	// ErrInvalidCCState is returned when toggling settles on a CC state that
	// is not a sink attachment.
	ErrInvalidCCState = errors.New("fusb302: invalid cc state")

	// ErrPayloadLength is returned by SendMessage when the payload does not
	// match the data object count of the header.
	ErrPayloadLength = errors.New("fusb302: payload length does not match header")

	// ErrUnknownMPN is returned by ParseMPN.
	ErrUnknownMPN = errors.New("fusb302: unknown part number")
)

// Timeouts of the connection states.
const (
	pdWaitTimeout = 620 * time.Millisecond
	retryWait     = 500 * time.Millisecond
)

// Upper bound of messages read from the RX FIFO in one poll. The FIFO holds
// 80 bytes which is at most 8 minimal messages.
const maxRxPerPoll = 8

const noRxID = 8 // impossible ID meaning no message received yet

// FUSB302 represents a transceiver backed by a FUSB302 IC. It implements
// pdsink.Transceiver.
type FUSB302 struct {
	port tcpcdriver.I2C
	addr uint16
	log  zerolog.Logger

	state pdsink.State
	// Zero when no timer is running.
	timerExpiry time.Time
	events      eventQueue

	nextTxID uint8
	lastRxID uint8

	// Buffers used for tx and rx, defined once here instead to avoid heap
	// allocations in each method used.
	buf   [pdmsg.MaxMessageBytes + 10]byte
	txBuf [9 + pdmsg.MaxMessageBytes]byte
	rxBuf [pdmsg.MaxMessageBytes + 4]byte
}

// Option configures a FUSB302.
type Option func(*FUSB302)

// WithLogger sets the logger for diagnostics.
func WithLogger(l zerolog.Logger) Option {
	return func(f *FUSB302) { f.log = l }
}

// New creates a new transceiver and allocates all necessary memory for all
// future operations.
//
// I2C port must have <=1Mhz frequency.
func New(port tcpcdriver.I2C, mpn MPN, opts ...Option) *FUSB302 {
	f := &FUSB302{
		port:     port,
		addr:     uint16(mpn.I2CAddress()),
		log:      zerolog.Nop(),
		lastRxID: noRxID,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *FUSB302) write(r uint8, d byte) error {
	f.buf[0] = r
	f.buf[1] = d
	return f.port.Tx(f.addr, f.buf[:2], nil)
}

func (f *FUSB302) read(r uint8) (byte, error) {
	f.buf[0] = r
	err := f.port.Tx(f.addr, f.buf[:1], f.buf[1:2])
	return f.buf[1], err
}

func (f *FUSB302) writeMany(r uint8, d []byte) error {
	f.buf[0] = r
	copy(f.buf[1:], d)
	return f.port.Tx(f.addr, f.buf[:len(d)+1], nil)
}

func (f *FUSB302) readMany(r uint8, d []byte) error {
	f.buf[0] = r
	err := f.port.Tx(f.addr, f.buf[:1], f.buf[1:len(d)+1])
	if err == nil {
		copy(d, f.buf[1:len(d)+1])
	}
	return err
}

// Init resets the chip and starts looking for a source.
func (f *FUSB302) Init() error {

	// Reset the chip and registers to default

	if err := f.write(regReset, regResetSWReset|regResetPDReset); err != nil {
		return err
	}

	// Flush the rx buffer

	if err := f.write(regControl1, regControl1RxFlush); err != nil {
		return err
	}

	// Turn on all power

	if err := f.write(regPower, regPowerPwrAll); err != nil {
		return err
	}

	// Turn on auto retry

	if err := f.write(regControl3, regControl3AutoRetry3); err != nil {
		return err
	}

	f.events.clear()
	f.timerExpiry = time.Time{}
	f.nextTxID = 0
	f.lastRxID = noRxID
	f.state = pdsink.StateUSB20

	return f.startToggle()
}

// startToggle disables PD communication and turns on auto detection of CC in
// sink mode.
func (f *FUSB302) startToggle() error {
	if err := f.write(regSwitches1, 0); err != nil {
		return err
	}
	if err := f.write(regSwitches0, regSwitches0CC1PdEn|regSwitches0CC2PdEn); err != nil {
		return err
	}
	return f.write(regControl2, regControl2ToggleSnk)
}

// State returns the current connection state.
func (f *FUSB302) State() pdsink.State {
	return f.state
}

// NextEvent pops the oldest queued event.
func (f *FUSB302) NextEvent() (pdsink.Event, bool) {
	return f.events.pop()
}

func (f *FUSB302) setState(s pdsink.State) {
	if s == f.state {
		return
	}
	f.log.Debug().Stringer("from", f.state).Stringer("to", s).Msg("state")
	f.state = s
	f.pushEvent(pdsink.Event{Kind: pdsink.EventStateChanged})
}

func (f *FUSB302) pushEvent(e pdsink.Event) {
	// Dropping is not optimal but given large enough a queue, it's unlikely
	// to ever happen.
	if !f.events.push(e) {
		f.log.Warn().Stringer("event", e.Kind).Msg("event queue full, dropping event")
	}
}

// Poll processes all pending interrupts, reads received messages and runs the
// connection timers.
func (f *FUSB302) Poll(now time.Time) error {
	var regs [7]byte
	if err := f.readMany(regStatus0A, regs[:]); err != nil {
		return err
	}
	status0A, status1A, intA, status0, intr := regs[0], regs[1], regs[2], regs[4], regs[6]

	// Hard reset brings everything back to the start

	if intA&regInterruptAHardReset != 0 && status0A&regStatus0ARxHardReset != 0 {
		f.log.Info().Msg("hard reset received")
		prev := f.state
		if err := f.Init(); err != nil {
			return err
		}
		if prev != pdsink.StateUSB20 {
			f.pushEvent(pdsink.Event{Kind: pdsink.EventStateChanged})
		}
		return nil
	}

	if intA&regInterruptARetryFail != 0 {
		f.log.Warn().Msg("tx retries exhausted")
	}

	// Set CC polarity after CC is settled

	if intA&regInterruptATogDone != 0 {
		if err := f.attach(status1A, now); err != nil {
			return err
		}
	}

	// VBUS detection

	if intr&regInterruptVBusOK != 0 && status0&regStatus0VBusOK == 0 && f.state != pdsink.StateUSB20 {
		f.log.Debug().Msg("vbus lost")
		f.timerExpiry = time.Time{}
		if err := f.startToggle(); err != nil {
			return err
		}
		f.setState(pdsink.StateUSB20)
	}

	// Message received

	if intr&regInterruptCRCChk != 0 {
		if err := f.drainRx(); err != nil {
			return err
		}
	}

	return f.runTimer(now)
}

func (f *FUSB302) attach(status1A uint8, now time.Time) error {
	var pol, meas uint8
	switch (status1A >> regStatus1ATogSSPos) & regStatus1ATogSSMask {
	case regStatus1ATogSSSnk1:
		pol = regSwitches1TxCC1En
		meas = regSwitches0MeasCC1
	case regStatus1ATogSSSnk2:
		pol = regSwitches1TxCC2En
		meas = regSwitches0MeasCC2
	default:
		return ErrInvalidCCState
	}

	// Turn off auto detect function

	if err := f.write(regControl2, 0); err != nil {
		return err
	}

	// Enable tx and rx on the detected CC line

	if err := f.write(regSwitches1, regSwitches1SpecRev1|regSwitches1AutoGCRC|pol); err != nil {
		return err
	}
	if err := f.write(regSwitches0, meas|regSwitches0CC1PdEn|regSwitches0CC2PdEn); err != nil {
		return err
	}
	if err := f.write(regControl1, regControl1RxFlush); err != nil {
		return err
	}

	f.log.Debug().Bool("cc2", pol == regSwitches1TxCC2En).Msg("attached")
	f.lastRxID = noRxID
	f.nextTxID = 0
	f.timerExpiry = now.Add(pdWaitTimeout)
	f.setState(pdsink.StatePDWait)
	return nil
}

func (f *FUSB302) runTimer(now time.Time) error {
	if f.timerExpiry.IsZero() || now.Before(f.timerExpiry) {
		return nil
	}
	f.timerExpiry = time.Time{}
	switch f.state {
	case pdsink.StatePDWait:
		f.log.Debug().Msg("no pd message from source")
		if err := f.write(regSwitches1, 0); err != nil {
			return err
		}
		f.timerExpiry = now.Add(retryWait)
		f.setState(pdsink.StateRetryWait)
	case pdsink.StateRetryWait:
		if err := f.startToggle(); err != nil {
			return err
		}
		f.setState(pdsink.StateUSB20)
	}
	return nil
}

// drainRx reads all messages in the RX FIFO as quickly as possible and queues
// them as events.
func (f *FUSB302) drainRx() error {
	for i := 0; i < maxRxPerPoll; i++ {
		reg, err := f.read(regStatus1)
		if err != nil {
			return err
		}
		if reg&regStatus1RxEmpty != 0 {
			return nil
		}

		// Read the token and the header

		if err := f.readMany(regFIFOs, f.rxBuf[:3]); err != nil {
			return err
		}
		token := f.rxBuf[0]
		h := pdmsg.HeaderFromBytes(f.rxBuf[1:3])

		// Read data objects and the CRC which we discard

		n := int(h.DataObjectCount()) * 4
		if err := f.readMany(regFIFOs, f.rxBuf[:n+4]); err != nil {
			return err
		}

		if token&rxTokenMask != rxTokenSOP {
			continue
		}
		if !h.IsData() && h.Type() == pdmsg.TypeGoodCRC {
			continue
		}
		if !h.IsData() && h.Type() == pdmsg.TypeSoftReset {
			f.nextTxID = 0
		} else if h.ID() == f.lastRxID {
			f.log.Trace().Uint8("id", h.ID()).Msg("duplicate message")
			continue
		}
		f.lastRxID = h.ID()

		if f.state == pdsink.StatePDWait {
			f.timerExpiry = time.Time{}
			f.setState(pdsink.StatePD)
		}
		f.pushEvent(pdsink.Event{
			Kind:    pdsink.EventMessageReceived,
			Message: pdmsg.Parse(h, f.rxBuf[:n]),
		})
	}
	return nil
}

// SendMessage queues a message for transmission. GoodCRC and retries are
// handled by the chip; failures are only logged.
func (f *FUSB302) SendMessage(h pdmsg.Header, payload []byte) error {
	if len(payload) != int(h.DataObjectCount())*4 {
		return fmt.Errorf("%w: %d objects, %d bytes", ErrPayloadLength, h.DataObjectCount(), len(payload))
	}

	// Flush TX FIFO

	if err := f.write(regControl0, regControl0TxFlush); err != nil {
		return err
	}

	h.SetID(f.nextTxID)
	f.nextTxID = (f.nextTxID + 1) % 8

	mlen := 2 + len(payload)
	buf := f.txBuf[:0]
	buf = append(buf, fifoTokenSync1, fifoTokenSync1, fifoTokenSync1, fifoTokenSync2)
	buf = append(buf, fifoTokenPackSym|byte(mlen), byte(h), byte(h>>8))
	buf = append(buf, payload...)
	buf = append(buf, fifoTokenJamCRC, fifoTokenEOP, fifoTokenTxOff, fifoTokenTxOn)

	f.log.Debug().Uint16("header", uint16(h)).Int("len", mlen).Msg("tx")
	return f.writeMany(regFIFOs, buf)
}

const eventQueueSize = 16

// eventQueue is a fixed size FIFO of events.
type eventQueue struct {
	buf  [eventQueueSize]pdsink.Event
	head int
	n    int
}

func (q *eventQueue) push(e pdsink.Event) bool {
	if q.n == len(q.buf) {
		return false
	}
	q.buf[(q.head+q.n)%len(q.buf)] = e
	q.n++
	return true
}

func (q *eventQueue) pop() (pdsink.Event, bool) {
	if q.n == 0 {
		return pdsink.Event{}, false
	}
	e := q.buf[q.head]
	q.buf[q.head] = pdsink.Event{}
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return e, true
}

func (q *eventQueue) clear() {
	*q = eventQueue{}
}

const (
	regSwitches0        = 0x02
	regSwitches0MeasCC2 = 1 << 3
	regSwitches0MeasCC1 = 1 << 2
	regSwitches0CC2PdEn = 1 << 1
	regSwitches0CC1PdEn = 1 << 0

	regSwitches1         = 0x03
	regSwitches1SpecRev1 = 1 << 6
	regSwitches1AutoGCRC = 1 << 2
	regSwitches1TxCC2En  = 1 << 1
	regSwitches1TxCC1En  = 1 << 0

	regControl0        = 0x06
	regControl0TxFlush = 0b01100100

	regControl1        = 0x07
	regControl1RxFlush = 1 << 2

	regControl2          = 0x08
	regControl2ToggleSnk = 0b00000101

	regControl3           = 0x09
	regControl3AutoRetry3 = 0b111

	regPower       = 0x0B
	regPowerPwrAll = 0xF

	regReset        = 0x0C
	regResetPDReset = 1 << 1
	regResetSWReset = 1 << 0

	regStatus0A            = 0x3C
	regStatus0ARxHardReset = 1 << 0

	regStatus1A = 0x3D

	regStatus1ATogSSSnk1 = 0b101
	regStatus1ATogSSSnk2 = 0b110
	regStatus1ATogSSPos  = 3
	regStatus1ATogSSMask = 0x7

	regInterruptA          = 0x3E
	regInterruptATogDone   = 1 << 6
	regInterruptARetryFail = 1 << 4
	regInterruptAHardReset = 1 << 0

	regStatus0       = 0x40
	regStatus0VBusOK = 1 << 7

	regStatus1        = 0x41
	regStatus1RxEmpty = 1 << 5

	regInterrupt       = 0x42
	regInterruptVBusOK = 1 << 7
	regInterruptCRCChk = 1 << 4

	regFIFOs = 0x43

	rxTokenMask = 0b11100000
	rxTokenSOP  = 0b11100000

	fifoTokenTxOn    = 0xA1
	fifoTokenSync1   = 0x12
	fifoTokenSync2   = 0x13
	fifoTokenPackSym = 0x80
	fifoTokenJamCRC  = 0xFF
	fifoTokenEOP     = 0x14
	fifoTokenTxOff   = 0xFE
)
