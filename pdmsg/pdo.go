package pdmsg

import "fmt"

// PDO is a raw Power Data Object as found on the wire. Its top two bits tell
// the kind of the object and, for augmented objects, the next two bits tell
// the kind of supply. Use DecodePDO to get the specific type.
type PDO uint32

// Kind returns the two bit kind tag of the object.
func (o PDO) Kind() uint8 {
	return uint8(o>>30) & 0b11
}

// Supply returns the two bit supply tag of an augmented object. It's
// meaningless for other kinds.
func (o PDO) Supply() uint8 {
	return uint8(o>>28) & 0b11
}

// Type returns the type of the power data object.
func (o PDO) Type() PDOType {
	h := PDOType(o.Kind())
	if h == 0b11 {
		return PDOType(o.Supply())<<3 | 0b100 | h
	}
	return h
}

// Valid returns false if the object is an augmented object with a supply tag
// reserved by the standard. Such objects can only come from a corrupted frame
// and must not be passed to DecodePDO.
func (o PDO) Valid() bool {
	return o.Kind() != 0b11 || augmentedDecoders[o.Supply()] != nil
}

// PDOType represents the type of a power data object.
type PDOType uint8

// Power data object types.
const (
	PDOTypeFixedSupply    PDOType = 0b00
	PDOTypeBattery        PDOType = 0b01
	PDOTypeVariableSupply PDOType = 0b10
	PDOTypePPS            PDOType = 0b00111 // This value is specific to our library
	PDOTypeEPRAVS         PDOType = 0b01111 // This value is specific to our library
)

func (t PDOType) String() string {
	switch t {
	case PDOTypeFixedSupply:
		return "fixed"
	case PDOTypeBattery:
		return "battery"
	case PDOTypeVariableSupply:
		return "variable"
	case PDOTypePPS:
		return "pps"
	case PDOTypeEPRAVS:
		return "epr-avs"
	default:
		return "invalid"
	}
}

// PowerDataObject is a decoded power data object. The concrete type is one of
// FixedSupplyPDO, BatteryPDO, VariableSupplyPDO, PPSPDO or EPRAVSPDO.
type PowerDataObject interface {
	// Raw returns the object as it appears on the wire.
	Raw() PDO
	Type() PDOType
	fmt.Stringer
}

var pdoDecoders = [4]func(PDO) PowerDataObject{
	0b00: func(o PDO) PowerDataObject { return FixedSupplyPDO(o) },
	0b01: func(o PDO) PowerDataObject { return BatteryPDO(o) },
	0b10: func(o PDO) PowerDataObject { return VariableSupplyPDO(o) },
	0b11: decodeAugmented,
}

// Supply tags 0b10 and 0b11 are reserved and left nil.
var augmentedDecoders = [4]func(PDO) PowerDataObject{
	0b00: func(o PDO) PowerDataObject { return PPSPDO(o) },
	0b01: func(o PDO) PowerDataObject { return EPRAVSPDO(o) },
}

func decodeAugmented(o PDO) PowerDataObject {
	d := augmentedDecoders[o.Supply()]
	if d == nil {
		panic(fmt.Sprintf("pdmsg: augmented PDO %#08x has reserved supply type %#02b", uint32(o), o.Supply()))
	}
	return d(o)
}

// DecodePDO converts a raw object to its specific type. It panics if o is not
// Valid.
func DecodePDO(o PDO) PowerDataObject {
	return pdoDecoders[o.Kind()](o)
}

// FixedSupplyPDO represents a Fixed Supply Power Data Object
type FixedSupplyPDO uint32

// NewFixedSupplyPDO returns a fixed supply object offering the given voltage
// in millivolts and maximum current in milliamps.
func NewFixedSupplyPDO(voltage, maxCurrent uint16) FixedSupplyPDO {
	var o FixedSupplyPDO
	o.SetVoltage(voltage)
	o.SetMaxCurrent(maxCurrent)
	return o
}

// Raw implements PowerDataObject.
func (o FixedSupplyPDO) Raw() PDO { return PDO(o) }

// Type implements PowerDataObject.
func (o FixedSupplyPDO) Type() PDOType { return PDOTypeFixedSupply }

// VoltageUnits returns the voltage field as encoded, in 50mV units.
func (o FixedSupplyPDO) VoltageUnits() uint16 {
	return uint16((o >> 10) & (1<<10 - 1))
}

// Voltage returns voltage in millivolts.
func (o FixedSupplyPDO) Voltage() uint16 {
	return o.VoltageUnits() * 50
}

// SetVoltage will round the given voltage down to 50mV.
func (o *FixedSupplyPDO) SetVoltage(v uint16) {
	*o = (*o & ^((FixedSupplyPDO(1)<<10 - 1) << 10)) | ((FixedSupplyPDO(v)/50)&(1<<10-1))<<10
}

// MaxCurrentUnits returns the maximum current field as encoded, in 10mA
// units.
func (o FixedSupplyPDO) MaxCurrentUnits() uint16 {
	return uint16(o & (1<<10 - 1))
}

// MaxCurrent returns maximum current in milliamps
func (o FixedSupplyPDO) MaxCurrent() uint16 {
	return o.MaxCurrentUnits() * 10
}

// SetMaxCurrent will round the given current down to 10mA.
func (o *FixedSupplyPDO) SetMaxCurrent(c uint16) {
	*o = (*o & ^(FixedSupplyPDO(1)<<10 - 1)) | (FixedSupplyPDO(c)/10)&(1<<10-1)
}

// PeakCurrent returns the raw two bit peak current capability.
func (o FixedSupplyPDO) PeakCurrent() uint8 {
	return uint8(o>>20) & 0b11
}

// IsEPRCapable returns true if the source is capable of extended power range.
func (o FixedSupplyPDO) IsEPRCapable() bool { return o&(1<<23) != 0 }

// IsUSBCommunicationsCapable returns true if the source can talk USB.
func (o FixedSupplyPDO) IsUSBCommunicationsCapable() bool { return o&(1<<26) != 0 }

// IsUnconstrainedPower returns true if the source has external power.
func (o FixedSupplyPDO) IsUnconstrainedPower() bool { return o&(1<<27) != 0 }

// IsUSBSuspendSupported returns true if the source requires the sink to
// honour USB suspend.
func (o FixedSupplyPDO) IsUSBSuspendSupported() bool { return o&(1<<28) != 0 }

// IsDualRolePower returns true if the port can also act as a sink.
func (o FixedSupplyPDO) IsDualRolePower() bool { return o&(1<<29) != 0 }

func (o FixedSupplyPDO) String() string {
	return fmt.Sprintf("Fixed %.2fV @ max. %.2fA", float32(o.Voltage())/1000, float32(o.MaxCurrent())/1000)
}

// BatteryPDO represents a Battery Supply Power Data Object.
type BatteryPDO uint32

// Raw implements PowerDataObject.
func (o BatteryPDO) Raw() PDO { return PDO(o) }

// Type implements PowerDataObject.
func (o BatteryPDO) Type() PDOType { return PDOTypeBattery }

// MaxVoltage returns maximum voltage in millivolts.
func (o BatteryPDO) MaxVoltage() uint16 {
	return uint16((o>>20)&(1<<10-1)) * 50
}

// MinVoltage returns minimum voltage in millivolts.
func (o BatteryPDO) MinVoltage() uint16 {
	return uint16((o>>10)&(1<<10-1)) * 50
}

// MaxPower returns maximum allowable power in milliwatts.
func (o BatteryPDO) MaxPower() uint32 {
	return uint32(o&(1<<10-1)) * 250
}

func (o BatteryPDO) String() string {
	return fmt.Sprintf("Battery %.2f-%.2fV @ max. %.2fW", float32(o.MinVoltage())/1000, float32(o.MaxVoltage())/1000, float32(o.MaxPower())/1000)
}

// VariableSupplyPDO represents a Variable Supply (non-battery) Power Data
// Object.
type VariableSupplyPDO uint32

// Raw implements PowerDataObject.
func (o VariableSupplyPDO) Raw() PDO { return PDO(o) }

// Type implements PowerDataObject.
func (o VariableSupplyPDO) Type() PDOType { return PDOTypeVariableSupply }

// MaxVoltage returns maximum voltage in millivolts.
func (o VariableSupplyPDO) MaxVoltage() uint16 {
	return uint16((o>>20)&(1<<10-1)) * 50
}

// MinVoltage returns minimum voltage in millivolts.
func (o VariableSupplyPDO) MinVoltage() uint16 {
	return uint16((o>>10)&(1<<10-1)) * 50
}

// MaxCurrent returns maximum current in milliamps.
func (o VariableSupplyPDO) MaxCurrent() uint16 {
	return uint16(o&(1<<10-1)) * 10
}

func (o VariableSupplyPDO) String() string {
	return fmt.Sprintf("Variable %.2f-%.2fV @ max. %.2fA", float32(o.MinVoltage())/1000, float32(o.MaxVoltage())/1000, float32(o.MaxCurrent())/1000)
}

// PPSPDO represents a Standard Power Range Programmable Power Supply
// Augmented Power Data Object.
type PPSPDO uint32

// NewPPSPDO returns a new blank programmable power supply power data object.
func NewPPSPDO() PPSPDO {
	return PPSPDO(0b11) << 30
}

// Raw implements PowerDataObject.
func (o PPSPDO) Raw() PDO { return PDO(o) }

// Type implements PowerDataObject.
func (o PPSPDO) Type() PDOType { return PDOTypePPS }

// MinVoltage returns minimum voltage in millivolts.
func (o PPSPDO) MinVoltage() uint16 {
	return uint16((o>>8)&(1<<8-1)) * 100
}

// SetMinVoltage sets the minimum voltage in millivolts, rounded down to
// 100mV.
func (o *PPSPDO) SetMinVoltage(v uint16) {
	*o = (*o & ^((PPSPDO(1)<<8 - 1) << 8)) | PPSPDO((v/100)&(1<<8-1))<<8
}

// MaxVoltage returns maximum voltage in millivolts.
func (o PPSPDO) MaxVoltage() uint16 {
	return uint16((o>>17)&(1<<8-1)) * 100
}

// SetMaxVoltage sets the maximum voltage in millivolts, rounded down to
// 100mV.
func (o *PPSPDO) SetMaxVoltage(v uint16) {
	*o = (*o & ^((PPSPDO(1)<<8 - 1) << 17)) | PPSPDO((v/100)&(1<<8-1))<<17
}

// MaxCurrent returns maximum current in milliamps.
func (o PPSPDO) MaxCurrent() uint16 {
	return uint16(o&(1<<7-1)) * 50
}

// SetMaxCurrent sets the maximum current in milliamps, rounded down to 50mA.
func (o *PPSPDO) SetMaxCurrent(c uint16) {
	*o = (*o & ^(PPSPDO(1)<<7 - 1)) | PPSPDO((c/50)&(1<<7-1))
}

// IsPowerLimited returns true if the source may not be able to supply the
// full current across the whole voltage range.
func (o PPSPDO) IsPowerLimited() bool {
	return o&(1<<27) != 0
}

func (o PPSPDO) String() string {
	var limited string
	if o.IsPowerLimited() {
		limited = " (power limited)"
	}
	return fmt.Sprintf("Programmable %.1f-%.1fV @ max. %.2fA%s", float32(o.MinVoltage())/1000, float32(o.MaxVoltage())/1000, float32(o.MaxCurrent())/1000, limited)
}

// EPRAVSPDO represents an Extended Power Range Adjustable Voltage Supply
// Augmented Power Data Object.
type EPRAVSPDO uint32

// Raw implements PowerDataObject.
func (o EPRAVSPDO) Raw() PDO { return PDO(o) }

// Type implements PowerDataObject.
func (o EPRAVSPDO) Type() PDOType { return PDOTypeEPRAVS }

// MinVoltage returns minimum voltage in millivolts.
func (o EPRAVSPDO) MinVoltage() uint16 {
	return uint16((o>>8)&(1<<8-1)) * 100
}

// MaxVoltage returns maximum voltage in millivolts.
func (o EPRAVSPDO) MaxVoltage() uint16 {
	return uint16((o>>17)&(1<<9-1)) * 100
}

// PDP returns the power delivery capability in watts.
func (o EPRAVSPDO) PDP() uint8 {
	return uint8(o)
}

func (o EPRAVSPDO) String() string {
	return fmt.Sprintf("EPR adjustable %.1f-%.1fV @ %dW", float32(o.MinVoltage())/1000, float32(o.MaxVoltage())/1000, o.PDP())
}
