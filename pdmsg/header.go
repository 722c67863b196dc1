// Package pdmsg defines types to encode and decode USB Power Delivery messages
// exchanged by a sink with its port partner.
package pdmsg

import "encoding/binary"

const (
	// MaxDataObjects is the maximum number of data objects that can be carried
	// by a message, as set by the standard.
	MaxDataObjects = 7

	// MaxMessageBytes is the maximum number of bytes in a message which includes
	// the header and the data objects.
	MaxMessageBytes = 2 + 4*MaxDataObjects
)

// Header is the 16 bit header that precedes every power delivery message.
type Header uint16

// PutBytes writes the header to b in little endian order. b must be at least 2
// bytes long.
func (h Header) PutBytes(b []byte) {
	binary.LittleEndian.PutUint16(b, uint16(h))
}

// HeaderFromBytes reads a little endian header from the first two bytes of b.
func HeaderFromBytes(b []byte) Header {
	return Header(binary.LittleEndian.Uint16(b))
}

// IsExtended returns true if the message has its extended flag set.
func (h Header) IsExtended() bool {
	return h&(1<<15) != 0
}

// SetExtended sets the extended flag.
func (h *Header) SetExtended(e bool) {
	var b Header
	if e {
		b = 1 << 15
	}
	*h = (*h & ^(Header(1) << 15)) | b
}

// ID returns the message ID.
func (h Header) ID() uint8 {
	return uint8((h >> 9) & 0b111)
}

// SetID sets the message ID.
func (h *Header) SetID(id uint8) {
	*h = (*h & ^(Header(0b111) << 9)) | (Header(id&0b111) << 9)
}

// DataObjectCount returns the number of 32 bit data objects in the payload.
func (h Header) DataObjectCount() uint8 {
	return uint8((h >> 12) & 0b111)
}

// SetDataObjectCount sets the number of data objects in the payload.
func (h *Header) SetDataObjectCount(n uint8) {
	*h = (*h & ^(Header(0b111) << 12)) | (Header(n&0b111) << 12)
}

// IsData returns true if the header describes a data message, otherwise it's a
// control message.
func (h Header) IsData() bool {
	return h.DataObjectCount() > 0
}

// Type returns the message type. Data and control messages share values, so
// IsData must be checked in addition to Type.
func (h Header) Type() Type {
	return Type(h & 0b11111)
}

// SetType sets the message type.
func (h *Header) SetType(t Type) {
	*h = (*h & ^Header(0b11111)) | Header(t&0b11111)
}

// Revision returns the specification revision of the message.
func (h Header) Revision() Revision {
	return Revision((h >> 6) & 0b11)
}

// SetRevision sets the specification revision of the message.
func (h *Header) SetRevision(r Revision) {
	*h = (*h & ^(Header(0b11) << 6)) | Header(r&0b11)<<6
}

// PowerRole returns the power role of the sender of the message.
func (h Header) PowerRole() PowerRole {
	return PowerRole((h >> 8) & 1)
}

// SetPowerRole sets the power role of the sender of the message.
func (h *Header) SetPowerRole(r PowerRole) {
	*h = (*h & ^(Header(1) << 8)) | (Header(r&1) << 8)
}

// DataRole returns the data role of the sender of the message.
func (h Header) DataRole() DataRole {
	return DataRole((h >> 5) & 1)
}

// SetDataRole sets the data role of the sender of the message.
func (h *Header) SetDataRole(r DataRole) {
	*h = (*h & ^(Header(1) << 5)) | Header(r&1)<<5
}

// Type represents the PD message type. Actual message type requires
// determining if the message is a control or a data message using IsData().
type Type uint8

// Control message types
const (
	TypeGoodCRC      Type = 0b00001
	TypeGotoMin      Type = 0b00010
	TypeAccept       Type = 0b00011
	TypeReject       Type = 0b00100
	TypePing         Type = 0b00101
	TypePSReady      Type = 0b00110
	TypeGetSourceCap Type = 0b00111
	TypeGetSinkCap   Type = 0b01000
	TypeDRSwap       Type = 0b01001
	TypePRSwap       Type = 0b01010
	TypeVCONNSwap    Type = 0b01011
	TypeWait         Type = 0b01100
	TypeSoftReset    Type = 0b01101
	TypeNotSupported Type = 0b10000
)

// Data message types
const (
	TypeSourceCap     Type = 0b00001
	TypeRequest       Type = 0b00010
	TypeBIST          Type = 0b00011
	TypeSinkCap       Type = 0b00100
	TypeBatteryStatus Type = 0b00101
	TypeAlert         Type = 0b00110
	TypeEnterUSB      Type = 0b01000
	TypeEPRRequest    Type = 0b01001
	TypeEPRMode       Type = 0b01010
	TypeVendorDefined Type = 0b01111
)

// Revision represents the power delivery revision number of a message.
type Revision uint8

// Power delivery revision numbers.
const (
	Revision10 Revision = 0b00
	Revision20 Revision = 0b01
	Revision30 Revision = 0b10
)

func (r Revision) String() string {
	switch r {
	case Revision10:
		return "1.0"
	case Revision20:
		return "2.0"
	case Revision30:
		return "3.0"
	default:
		return "reserved"
	}
}

// PowerRole represents the power role of the sender of a message.
type PowerRole uint8

// Power roles of the sender of a message.
const (
	PowerRoleSink   PowerRole = 0
	PowerRoleSource PowerRole = 1
)

// DataRole represents the data role of the sender of a message.
type DataRole uint8

// Data roles of the sender of a message.
const (
	DataRoleUFP DataRole = 0
	DataRoleDFP DataRole = 1
)
