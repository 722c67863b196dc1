package pdmsg

import (
	"encoding/binary"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Diagnostics go to the global logger until SetLogger is called.
var logger = &log.Logger

// SetLogger routes decoder diagnostics to l. It must be called before any
// message is parsed.
func SetLogger(l zerolog.Logger) {
	logger = &l
}

// MaxSourceCapabilities is the number of objects a decoded Source
// Capabilities message can hold. The standard allows at most
// MaxDataObjects.
const MaxSourceCapabilities = 8

// MaxVendorDataObjects is the number of data objects that may follow the
// header of a Vendor Defined Message.
const MaxVendorDataObjects = MaxDataObjects - 1

// Kind identifies the messages the sink understands.
type Kind uint8

// Message kinds
const (
	KindUnknown Kind = iota
	KindAccept
	KindReject
	KindReady
	KindSourceCapabilities
	KindVendorDefined
	KindSoftReset
)

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "Accept"
	case KindReject:
		return "Reject"
	case KindReady:
		return "PS_RDY"
	case KindSourceCapabilities:
		return "Source_Capabilities"
	case KindVendorDefined:
		return "Vendor_Defined"
	case KindSoftReset:
		return "Soft_Reset"
	default:
		return "Unknown"
	}
}

// Message is a decoded power delivery message. Only the fields relevant to
// Kind are populated.
//
// Storage is fixed size so that messages can be queued by port controllers
// without heap allocation.
type Message struct {
	Header Header
	Kind   Kind

	pdos [MaxSourceCapabilities]PDO
	npdo uint8

	vdm  VDMHeader
	vdos [MaxVendorDataObjects]uint32
	nvdo uint8
}

// RawSourceCapabilities returns the offered power data objects as received,
// in the order the source sent them. Position i in the slice is object
// position i+1. The slice aliases m.
func (m *Message) RawSourceCapabilities() []PDO {
	return m.pdos[:m.npdo]
}

// AppendSourceCapabilities decodes the offered power data objects and
// appends them to dst in the order the source sent them.
func (m *Message) AppendSourceCapabilities(dst []PowerDataObject) []PowerDataObject {
	for _, o := range m.pdos[:m.npdo] {
		dst = append(dst, DecodePDO(o))
	}
	return dst
}

// SourceCapabilities returns the decoded offered power data objects in a new
// slice. Position i in the slice is object position i+1.
func (m *Message) SourceCapabilities() []PowerDataObject {
	return m.AppendSourceCapabilities(make([]PowerDataObject, 0, m.npdo))
}

// VDMHeader returns the header of a Vendor Defined Message.
func (m *Message) VDMHeader() VDMHeader {
	return m.vdm
}

// VendorData returns the data objects following the VDM header. The slice
// aliases m.
func (m *Message) VendorData() []uint32 {
	return m.vdos[:m.nvdo]
}

// Parse decodes a message from its header and payload. It never fails:
// unsupported or malformed messages are logged and returned as KindUnknown.
// Truncated Source Capabilities payloads yield only the whole objects
// present.
func Parse(h Header, payload []byte) Message {
	m := Message{Header: h}

	if h.IsExtended() {
		logUnknown(h, len(payload))
		return m
	}

	if !h.IsData() {
		switch h.Type() {
		case TypeAccept:
			m.Kind = KindAccept
		case TypeReject:
			m.Kind = KindReject
		case TypePSReady:
			m.Kind = KindReady
		case TypeSoftReset:
			m.Kind = KindSoftReset
		default:
			logUnknown(h, len(payload))
		}
		return m
	}

	switch h.Type() {
	case TypeSourceCap:
		parseSourceCapabilities(&m, payload)
	case TypeVendorDefined:
		parseVendorDefined(&m, payload)
	default:
		logUnknown(h, len(payload))
	}
	return m
}

func parseSourceCapabilities(m *Message, payload []byte) {
	n := int(m.Header.DataObjectCount())
	if n > MaxSourceCapabilities {
		n = MaxSourceCapabilities
	}
	if whole := len(payload) / 4; whole < n {
		logger.Warn().
			Int("objects", n).
			Int("payload_len", len(payload)).
			Msg("truncated source capabilities")
		n = whole
	}
	for i := 0; i < n; i++ {
		o := PDO(binary.LittleEndian.Uint32(payload[i*4:]))
		if !o.Valid() {
			logger.Warn().
				Int("position", i+1).
				Uint32("pdo", uint32(o)).
				Msg("reserved augmented supply type in source capabilities")
			*m = Message{Header: m.Header}
			return
		}
		m.pdos[i] = o
	}
	m.npdo = uint8(n)
	m.Kind = KindSourceCapabilities
}

func parseVendorDefined(m *Message, payload []byte) {
	if len(payload) < 4 {
		logger.Warn().Int("payload_len", len(payload)).Msg("vendor defined message without header")
		return
	}
	m.Kind = KindVendorDefined
	m.vdm = VDMHeader(binary.LittleEndian.Uint32(payload))

	n := int(m.Header.DataObjectCount()) - 1
	if whole := len(payload)/4 - 1; whole < n {
		n = whole
	}
	if n > MaxVendorDataObjects {
		n = MaxVendorDataObjects
	}
	for i := 0; i < n; i++ {
		m.vdos[i] = binary.LittleEndian.Uint32(payload[4+i*4:])
	}
	m.nvdo = uint8(n)

	logger.Trace().
		Uint16("svid", m.vdm.SVID()).
		Uint8("vdm_type", uint8(m.vdm.VDMType())).
		Uint8("version", m.vdm.VDMVersion()).
		Uint8("cmd_type", uint8(m.vdm.CommandType())).
		Uint8("cmd", uint8(m.vdm.Command())).
		Int("vdos", int(m.nvdo)).
		Msg("vdm rx")
}

func logUnknown(h Header, payloadLen int) {
	logger.Warn().
		Bool("data", h.IsData()).
		Bool("extended", h.IsExtended()).
		Uint8("type", uint8(h.Type())).
		Uint8("objects", h.DataObjectCount()).
		Int("payload_len", payloadLen).
		Msg("unknown message type")
}
