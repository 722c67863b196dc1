package pdmsg

import "encoding/binary"

// RequestDO represents a Request Data Object.
type RequestDO uint32

// EmptyRequestDO is a request with no object selected.
const EmptyRequestDO RequestDO = 0

// MaxFixedCurrentUnits is the largest value the 10 bit current fields of a
// fixed or variable request can carry, in 10mA units.
const MaxFixedCurrentUnits = 1<<10 - 1

// PutBytes writes the request to b in little endian order. b must be at least
// 4 bytes long.
func (o RequestDO) PutBytes(b []byte) {
	binary.LittleEndian.PutUint32(b, uint32(o))
}

// SelectedObjectPosition returns the position number of the PDO in the source
// capability message, starting at 1.
func (o RequestDO) SelectedObjectPosition() uint8 {
	return uint8(o >> 28)
}

// SetSelectedObjectPosition sets the position number of the PDO the source
// capability message, starting at 1.
func (o *RequestDO) SetSelectedObjectPosition(p uint8) {
	*o = (*o & ^(RequestDO(0b1111) << 28)) | RequestDO(p&0b1111)<<28
}

func (o RequestDO) flag(bit uint) bool {
	return o&(1<<bit) != 0
}

func (o *RequestDO) setFlag(bit uint, v bool) {
	var b RequestDO
	if v {
		b = 1 << bit
	}
	*o = (*o & ^(RequestDO(1) << bit)) | b
}

// GiveBack returns true if the give back flag is set.
func (o RequestDO) GiveBack() bool { return o.flag(27) }

// SetGiveBack sets the give back flag.
func (o *RequestDO) SetGiveBack(v bool) { o.setFlag(27, v) }

// CapabilityMismatch returns true if capability mismatch flag of the RDO is
// set.
func (o RequestDO) CapabilityMismatch() bool { return o.flag(26) }

// SetCapabilityMismatch sets the capability mismatch flag of the RDO.
func (o *RequestDO) SetCapabilityMismatch(v bool) { o.setFlag(26, v) }

// USBCommunicationsCapable returns true if the sink declares USB data
// capability.
func (o RequestDO) USBCommunicationsCapable() bool { return o.flag(25) }

// SetUSBCommunicationsCapable sets the USB communications capable flag.
func (o *RequestDO) SetUSBCommunicationsCapable(v bool) { o.setFlag(25, v) }

// NoUSBSuspend returns true if the sink asks not to be suspended.
func (o RequestDO) NoUSBSuspend() bool { return o.flag(24) }

// SetNoUSBSuspend sets the no USB suspend flag.
func (o *RequestDO) SetNoUSBSuspend(v bool) { o.setFlag(24, v) }

// UnchunkedExtended returns true if the sink supports unchunked extended
// messages.
func (o RequestDO) UnchunkedExtended() bool { return o.flag(23) }

// SetUnchunkedExtended sets the unchunked extended messages flag.
func (o *RequestDO) SetUnchunkedExtended(v bool) { o.setFlag(23, v) }

// EPRMode returns true if the sink operates in extended power range mode.
func (o RequestDO) EPRMode() bool { return o.flag(22) }

// SetEPRMode sets the EPR mode capable flag.
func (o *RequestDO) SetEPRMode(v bool) { o.setFlag(22, v) }

// FixedOperatingCurrentUnits returns the operating current field of a fixed
// request in 10mA units.
func (o RequestDO) FixedOperatingCurrentUnits() uint16 {
	return uint16((o >> 10) & MaxFixedCurrentUnits)
}

// SetFixedOperatingCurrentUnits sets the operating current field of a fixed
// request in 10mA units. Bits beyond the field width are dropped.
func (o *RequestDO) SetFixedOperatingCurrentUnits(u uint16) {
	*o = (*o & ^(RequestDO(MaxFixedCurrentUnits) << 10)) | (RequestDO(u)&MaxFixedCurrentUnits)<<10
}

// FixedOperatingCurrent returns current in milliamps for fixed request
// objects.
func (o RequestDO) FixedOperatingCurrent() uint16 {
	return o.FixedOperatingCurrentUnits() * 10
}

// FixedMaxOperatingCurrentUnits returns the maximum operating current field
// of a fixed request in 10mA units.
func (o RequestDO) FixedMaxOperatingCurrentUnits() uint16 {
	return uint16(o & MaxFixedCurrentUnits)
}

// SetFixedMaxOperatingCurrentUnits sets the maximum operating current field
// of a fixed request in 10mA units. Bits beyond the field width are dropped.
func (o *RequestDO) SetFixedMaxOperatingCurrentUnits(u uint16) {
	*o = (*o & ^RequestDO(MaxFixedCurrentUnits)) | RequestDO(u)&MaxFixedCurrentUnits
}

// FixedMaxOperatingCurrent returns current in milliamps for fixed request
// objects without GiveBack support.
func (o RequestDO) FixedMaxOperatingCurrent() uint16 {
	return o.FixedMaxOperatingCurrentUnits() * 10
}

// PPSOutputVoltage returns voltage in millivolts for PPS data objects.
func (o RequestDO) PPSOutputVoltage() uint16 {
	return uint16(((o >> 9) & (1<<12 - 1)) * 20)
}

// SetPPSOutputVoltage sets voltage in millivolts rounded down to 20mV for
// PPS data objects.
func (o *RequestDO) SetPPSOutputVoltage(v uint16) {
	*o = (*o & ^((RequestDO(1)<<12 - 1) << 9)) | ((RequestDO(v)/20)&(1<<12-1))<<9
}

// PPSOutputCurrent returns current in milliamps for PPS data objects.
func (o RequestDO) PPSOutputCurrent() uint16 {
	return uint16((o & (1<<7 - 1)) * 50)
}

// SetPPSOutputCurrent sets current in milliamps rounded down to 50mA for PPS
// data objects.
func (o *RequestDO) SetPPSOutputCurrent(v uint16) {
	*o = (*o & ^(RequestDO(1)<<7 - 1)) | (RequestDO(v)/50)&(1<<7-1)
}
