package sink

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/oxplot/go-pdsink"
	"github.com/oxplot/go-pdsink/pdmsg"
)

type sentFrame struct {
	h       pdmsg.Header
	payload []byte
}

type fakeTransceiver struct {
	state  pdsink.State
	events []pdsink.Event
	sent   []sentFrame

	inits, polls int
	initErr      error
	pollErr      error
	sendErr      error
	onPoll       func(*fakeTransceiver)
}

func (f *fakeTransceiver) Init() error {
	f.inits++
	return f.initErr
}

func (f *fakeTransceiver) Poll(now time.Time) error {
	f.polls++
	if f.onPoll != nil {
		f.onPoll(f)
	}
	return f.pollErr
}

func (f *fakeTransceiver) NextEvent() (pdsink.Event, bool) {
	if len(f.events) == 0 {
		return pdsink.Event{}, false
	}
	e := f.events[0]
	f.events = f.events[1:]
	return e, true
}

func (f *fakeTransceiver) SendMessage(h pdmsg.Header, payload []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentFrame{h: h, payload: append([]byte(nil), payload...)})
	return nil
}

func (f *fakeTransceiver) State() pdsink.State {
	return f.state
}

func (f *fakeTransceiver) setState(s pdsink.State) {
	f.state = s
	f.events = append(f.events, pdsink.Event{Kind: pdsink.EventStateChanged})
}

func (f *fakeTransceiver) receive(h pdmsg.Header, payload []byte) {
	f.events = append(f.events, pdsink.Event{Kind: pdsink.EventMessageReceived, Message: pdmsg.Parse(h, payload)})
}

func (f *fakeTransceiver) receiveControl(t pdmsg.Type) {
	var h pdmsg.Header
	h.SetType(t)
	h.SetRevision(pdmsg.Revision30)
	h.SetPowerRole(pdmsg.PowerRoleSource)
	f.receive(h, nil)
}

func (f *fakeTransceiver) receiveCaps(rev pdmsg.Revision, words ...uint32) {
	var h pdmsg.Header
	h.SetType(pdmsg.TypeSourceCap)
	h.SetDataObjectCount(uint8(len(words)))
	h.SetRevision(rev)
	h.SetPowerRole(pdmsg.PowerRoleSource)
	payload := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(payload[i*4:], w)
	}
	f.receive(h, payload)
}

type recorder struct {
	events []Event
}

func (r *recorder) HandleEvent(e Event) {
	e.Capabilities = append([]pdmsg.PowerDataObject(nil), e.Capabilities...)
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []EventKind {
	var ks []EventKind
	for _, e := range r.events {
		ks = append(ks, e.Kind)
	}
	return ks
}

func (r *recorder) reset() {
	r.events = nil
}

var (
	fixed5V900mA  = uint32(pdmsg.NewFixedSupplyPDO(5000, 900))
	fixed9V1500mA = uint32(pdmsg.NewFixedSupplyPDO(9000, 1500))
	battery       = uint32(0b01<<30 | 240<<20 | 100<<10 | 240)
	pps           = uint32(0b11<<30 | 0x00A50C3C)
)

func newTestSink(t *testing.T, tr *fakeTransceiver, opts ...Option) (*Sink, *recorder) {
	t.Helper()
	rec := &recorder{}
	s := New(tr, append([]Option{WithEventHandler(rec)}, opts...)...)
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s, rec
}

func poll(t *testing.T, s *Sink) {
	t.Helper()
	if err := s.Poll(time.Now()); err != nil {
		t.Fatalf("poll: %v", err)
	}
}

func equalKinds(got, want []EventKind) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func sentRequest(t *testing.T, f sentFrame) pdmsg.RequestDO {
	t.Helper()
	if len(f.payload) != 4 {
		t.Fatalf("request payload length: got %d want 4", len(f.payload))
	}
	if int(f.h.DataObjectCount())*4 != len(f.payload) {
		t.Fatalf("header objects %d do not match payload length %d", f.h.DataObjectCount(), len(f.payload))
	}
	return pdmsg.RequestDO(binary.LittleEndian.Uint32(f.payload))
}

func TestInitDoesNotNotify(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	s, rec := newTestSink(t, tr)
	if tr.inits != 1 {
		t.Fatalf("transceiver init calls: %d", tr.inits)
	}
	if s.Protocol() != ProtocolPD {
		t.Fatalf("unexpected protocol: %s", s.Protocol())
	}
	if len(rec.events) != 0 {
		t.Fatalf("unexpected events: %v", rec.kinds())
	}
}

func TestInitError(t *testing.T) {
	boom := errors.New("i2c nack")
	s := New(&fakeTransceiver{initErr: boom})
	if err := s.Init(); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped init error, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	s := New(&fakeTransceiver{})
	if s.Contract() != (Power{Voltage: 5000, MaxCurrent: 900}) {
		t.Fatalf("unexpected default contract: %+v", s.Contract())
	}
	if !s.Requested().IsZero() {
		t.Fatalf("unexpected request: %+v", s.Requested())
	}
	if s.SpecRevision() != pdmsg.Revision20 {
		t.Fatalf("unexpected revision: %s", s.SpecRevision())
	}
}

func TestNegotiationToReady(t *testing.T) {
	tr := &fakeTransceiver{}
	s, rec := newTestSink(t, tr)

	tr.setState(pdsink.StatePDWait)
	tr.setState(pdsink.StatePD)
	tr.receiveCaps(pdmsg.Revision30, fixed5V900mA, fixed9V1500mA, battery, fixed9V1500mA)
	poll(t, s)

	if want := []EventKind{EventProtocolChanged, EventSourceCapabilitiesChanged}; !equalKinds(rec.kinds(), want) {
		t.Fatalf("events: got %v want %v", rec.kinds(), want)
	}
	if rec.events[0].Protocol != ProtocolPD {
		t.Fatalf("unexpected protocol: %s", rec.events[0].Protocol)
	}
	if n := len(rec.events[1].Capabilities); n != 4 {
		t.Fatalf("capabilities: got %d want 4", n)
	}
	if len(tr.sent) != 1 {
		t.Fatalf("sent frames: got %d want 1", len(tr.sent))
	}
	h := tr.sent[0].h
	if !h.IsData() || h.Type() != pdmsg.TypeRequest || h.PowerRole() != pdmsg.PowerRoleSink || h.Revision() != pdmsg.Revision30 {
		t.Fatalf("unexpected request header: %#04x", uint16(h))
	}
	rdo := sentRequest(t, tr.sent[0])
	if rdo != 0x43025896 {
		t.Fatalf("unexpected request: %#08x", uint32(rdo))
	}
	if s.Requested() != (Power{Voltage: 9000, MaxCurrent: 1500}) {
		t.Fatalf("unexpected requested: %+v", s.Requested())
	}

	rec.reset()
	tr.receiveControl(pdmsg.TypeAccept)
	poll(t, s)
	if len(rec.events) != 1 || rec.events[0].Kind != EventPowerAccepted || rec.events[0].Power != s.Requested() {
		t.Fatalf("unexpected accept events: %+v", rec.events)
	}
	if s.Contract() != DefaultPower {
		t.Fatalf("contract changed on accept: %+v", s.Contract())
	}

	rec.reset()
	tr.receiveControl(pdmsg.TypePSReady)
	poll(t, s)
	if s.Contract() != (Power{Voltage: 9000, MaxCurrent: 1500}) {
		t.Fatalf("unexpected contract: %+v", s.Contract())
	}
	if !s.Requested().IsZero() {
		t.Fatalf("request not cleared: %+v", s.Requested())
	}
	if len(rec.events) != 1 || rec.events[0].Kind != EventPowerReady || rec.events[0].Power != s.Contract() {
		t.Fatalf("unexpected ready events: %+v", rec.events)
	}
}

func TestRejectClearsRequest(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	s, rec := newTestSink(t, tr)
	if err := s.RequestPower(9000, 1500, 4); err != nil {
		t.Fatalf("request: %v", err)
	}
	tr.receiveControl(pdmsg.TypeReject)
	poll(t, s)
	if !s.Requested().IsZero() {
		t.Fatalf("request not cleared: %+v", s.Requested())
	}
	if s.Contract() != DefaultPower {
		t.Fatalf("contract changed: %+v", s.Contract())
	}
	if want := []EventKind{EventPowerRejected}; !equalKinds(rec.kinds(), want) {
		t.Fatalf("events: got %v want %v", rec.kinds(), want)
	}
}

func TestReadyWithoutRequestIsIgnored(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	s, rec := newTestSink(t, tr)
	tr.receiveControl(pdmsg.TypePSReady)
	poll(t, s)
	if s.Contract() != DefaultPower {
		t.Fatalf("contract changed: %+v", s.Contract())
	}
	if len(rec.events) != 0 {
		t.Fatalf("unexpected events: %v", rec.kinds())
	}
}

func TestRequestCurrentEncoding(t *testing.T) {
	tests := []struct {
		mA    uint16
		units uint16
	}{
		{0, 0},
		{4, 0},
		{5, 1},
		{900, 90},
		{1500, 150},
		{1504, 150},
		{1505, 151},
		{10230, 1023},
		{10235, 1023},
		{65535, 1023},
	}
	for _, tt := range tests {
		tr := &fakeTransceiver{}
		s := New(tr)
		if err := s.RequestPower(5000, tt.mA, 1); err != nil {
			t.Fatalf("request %d mA: %v", tt.mA, err)
		}
		rdo := sentRequest(t, tr.sent[0])
		if rdo.FixedOperatingCurrentUnits() != tt.units || rdo.FixedMaxOperatingCurrentUnits() != tt.units {
			t.Errorf("%d mA: got %d/%d want %d", tt.mA, rdo.FixedOperatingCurrentUnits(), rdo.FixedMaxOperatingCurrentUnits(), tt.units)
		}
		if rdo.SelectedObjectPosition() != 1 || !rdo.NoUSBSuspend() || !rdo.USBCommunicationsCapable() {
			t.Errorf("%d mA: unexpected fields %#08x", tt.mA, uint32(rdo))
		}
		if s.Requested().MaxCurrent != tt.mA {
			t.Errorf("%d mA: requested %+v", tt.mA, s.Requested())
		}
	}
}

func TestRequestInvalidPosition(t *testing.T) {
	tr := &fakeTransceiver{}
	s := New(tr)
	for _, p := range []uint8{0, 8, 15} {
		if err := s.RequestPower(5000, 900, p); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("position %d: expected ErrInvalidPosition, got %v", p, err)
		}
	}
	if len(tr.sent) != 0 || !s.Requested().IsZero() {
		t.Fatalf("invalid request leaked: %d sent, requested %+v", len(tr.sent), s.Requested())
	}
}

func TestProtocolCollapse(t *testing.T) {
	for _, st := range []pdsink.State{pdsink.StatePDWait, pdsink.StateRetryWait, pdsink.StateUSB20} {
		tr := &fakeTransceiver{state: pdsink.StatePD}
		s, rec := newTestSink(t, tr)
		if err := s.RequestPower(9000, 1500, 2); err != nil {
			t.Fatalf("request: %v", err)
		}
		tr.receiveControl(pdmsg.TypePSReady)
		poll(t, s)
		if s.Contract().Voltage != 9000 {
			t.Fatalf("%s: contract not established: %+v", st, s.Contract())
		}

		rec.reset()
		tr.setState(st)
		poll(t, s)
		if s.Protocol() != ProtocolUSB20 {
			t.Fatalf("%s: unexpected protocol %s", st, s.Protocol())
		}
		if s.Contract() != DefaultPower {
			t.Fatalf("%s: contract not reset: %+v", st, s.Contract())
		}
		if len(rec.events) != 1 || rec.events[0].Kind != EventProtocolChanged || rec.events[0].Protocol != ProtocolUSB20 {
			t.Fatalf("%s: unexpected events %+v", st, rec.events)
		}
	}
}

func TestProtocolChangeIsEdgeTriggered(t *testing.T) {
	tr := &fakeTransceiver{}
	s, rec := newTestSink(t, tr)
	tr.setState(pdsink.StatePDWait)
	tr.setState(pdsink.StateRetryWait)
	tr.setState(pdsink.StateUSB20)
	poll(t, s)
	if len(rec.events) != 0 {
		t.Fatalf("unexpected events: %v", rec.kinds())
	}
	tr.setState(pdsink.StatePD)
	tr.setState(pdsink.StatePD)
	poll(t, s)
	if want := []EventKind{EventProtocolChanged}; !equalKinds(rec.kinds(), want) {
		t.Fatalf("events: got %v want %v", rec.kinds(), want)
	}
}

func TestUnknownMessageFails(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	s, rec := newTestSink(t, tr)
	tr.receiveControl(pdmsg.TypePing)
	poll(t, s)
	if len(rec.events) != 1 || rec.events[0].Kind != EventFailed || !errors.Is(rec.events[0].Err, ErrUnsupportedMessage) {
		t.Fatalf("unexpected events: %+v", rec.events)
	}
	if s.Contract() != DefaultPower {
		t.Fatalf("contract changed: %+v", s.Contract())
	}
}

func TestIgnoredMessages(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	s, rec := newTestSink(t, tr)
	tr.receiveControl(pdmsg.TypeSoftReset)
	var h pdmsg.Header
	h.SetType(pdmsg.TypeVendorDefined)
	h.SetDataObjectCount(1)
	tr.receive(h, []byte{0x01, 0x80, 0x00, 0xFF})
	poll(t, s)
	if len(rec.events) != 0 || len(tr.sent) != 0 {
		t.Fatalf("unexpected activity: events %v, sent %d", rec.kinds(), len(tr.sent))
	}
}

func TestNoFixedSupplyFails(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	s, rec := newTestSink(t, tr)
	tr.receiveCaps(pdmsg.Revision30, pps, battery)
	poll(t, s)
	if want := []EventKind{EventSourceCapabilitiesChanged, EventFailed}; !equalKinds(rec.kinds(), want) {
		t.Fatalf("events: got %v want %v", rec.kinds(), want)
	}
	if !errors.Is(rec.events[1].Err, ErrNoAcceptableOffer) {
		t.Fatalf("unexpected error: %v", rec.events[1].Err)
	}
	if len(tr.sent) != 0 || !s.Requested().IsZero() {
		t.Fatalf("unexpected request: %d sent", len(tr.sent))
	}
}

func TestSendErrorFails(t *testing.T) {
	boom := errors.New("tx fifo")
	tr := &fakeTransceiver{state: pdsink.StatePD, sendErr: boom}
	s, rec := newTestSink(t, tr)
	tr.receiveCaps(pdmsg.Revision30, fixed5V900mA)
	poll(t, s)
	last := rec.events[len(rec.events)-1]
	if last.Kind != EventFailed || !errors.Is(last.Err, boom) {
		t.Fatalf("unexpected last event: %+v", last)
	}
	if !s.Requested().IsZero() {
		t.Fatalf("request left outstanding: %+v", s.Requested())
	}
}

func TestSpecRevisionFollowsSource(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	s, _ := newTestSink(t, tr)
	tr.receiveCaps(pdmsg.Revision20, fixed5V900mA)
	poll(t, s)
	if s.SpecRevision() != pdmsg.Revision20 || tr.sent[0].h.Revision() != pdmsg.Revision20 {
		t.Fatalf("unexpected revision: %s", s.SpecRevision())
	}
	tr.receiveCaps(pdmsg.Revision(0b11), fixed5V900mA)
	poll(t, s)
	if s.SpecRevision() != pdmsg.Revision30 || tr.sent[1].h.Revision() != pdmsg.Revision30 {
		t.Fatalf("revision not capped: %s", s.SpecRevision())
	}
}

func TestPollBoundsEvents(t *testing.T) {
	tr := &fakeTransceiver{}
	tr.onPoll = func(f *fakeTransceiver) {
		f.events = append(f.events, pdsink.Event{Kind: pdsink.EventStateChanged})
	}
	s, rec := newTestSink(t, tr)
	poll(t, s)
	if tr.polls != MaxEventsPerPoll {
		t.Fatalf("transceiver polls: got %d want %d", tr.polls, MaxEventsPerPoll)
	}
	if len(rec.events) != 1 || rec.events[0].Kind != EventFailed || !errors.Is(rec.events[0].Err, ErrEventOverflow) {
		t.Fatalf("unexpected events: %+v", rec.events)
	}
}

func TestPollError(t *testing.T) {
	boom := errors.New("bus gone")
	tr := &fakeTransceiver{pollErr: boom}
	s, _ := newTestSink(t, tr)
	if err := s.Poll(time.Now()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped poll error, got %v", err)
	}
}

func TestCustomSelector(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	sel := SelectorFunc(func(caps []pdmsg.PowerDataObject) (Selection, error) {
		return Selection{Position: 1, Power: Power{Voltage: 5000, MaxCurrent: 500}}, nil
	})
	s, _ := newTestSink(t, tr, WithSelector(sel))
	tr.receiveCaps(pdmsg.Revision30, fixed5V900mA, fixed9V1500mA)
	poll(t, s)
	rdo := sentRequest(t, tr.sent[0])
	if rdo.SelectedObjectPosition() != 1 || rdo.FixedMaxOperatingCurrent() != 500 {
		t.Fatalf("unexpected request: %#08x", uint32(rdo))
	}
}

func TestCapabilitiesReplacedOnEachMessage(t *testing.T) {
	tr := &fakeTransceiver{state: pdsink.StatePD}
	s, rec := newTestSink(t, tr)

	tr.receiveCaps(pdmsg.Revision30, fixed5V900mA, fixed9V1500mA, battery)
	poll(t, s)
	tr.receiveCaps(pdmsg.Revision30, fixed9V1500mA)
	poll(t, s)

	var caps [][]pdmsg.PowerDataObject
	for _, e := range rec.events {
		if e.Kind == EventSourceCapabilitiesChanged {
			caps = append(caps, e.Capabilities)
		}
	}
	if len(caps) != 2 || len(caps[0]) != 3 || len(caps[1]) != 1 {
		t.Fatalf("unexpected capabilities: %v", caps)
	}
	if uint32(caps[1][0].Raw()) != fixed9V1500mA {
		t.Fatalf("unexpected object: %s", caps[1][0])
	}
	if len(tr.sent) != 2 {
		t.Fatalf("requests: got %d want 2", len(tr.sent))
	}
	if pos := sentRequest(t, tr.sent[1]).SelectedObjectPosition(); pos != 1 {
		t.Fatalf("second request position: got %d want 1", pos)
	}
}
