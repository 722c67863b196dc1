package pdmsg

// VDMHeader is the first data object of a Vendor Defined Message.
type VDMHeader uint32

// SVID returns the standard or vendor ID the message is addressed to.
func (h VDMHeader) SVID() uint16 {
	return uint16(h >> 16)
}

// VDMType returns the kind of the vendor defined message.
func (h VDMHeader) VDMType() VDMType {
	return VDMType(h>>15) & 1
}

// VDMVersion returns the major structured VDM version. It's only meaningful
// for structured messages.
func (h VDMHeader) VDMVersion() uint8 {
	return uint8(h>>13) & 0b11
}

// VDMMinorVersion returns the minor structured VDM version.
func (h VDMHeader) VDMMinorVersion() uint8 {
	return uint8(h>>11) & 0b11
}

// ObjectPosition returns the object position used by mode commands.
func (h VDMHeader) ObjectPosition() uint8 {
	return uint8(h>>8) & 0b111
}

// CommandType returns whether the message is a request or a response.
func (h VDMHeader) CommandType() VDMCommandType {
	return VDMCommandType(h>>6) & 0b11
}

// Command returns the structured VDM command.
func (h VDMHeader) Command() VDMCommand {
	return VDMCommand(h & 0b11111)
}

// VDMType is either structured or unstructured.
type VDMType uint8

// VDM types.
const (
	VDMTypeUnstructured VDMType = 0
	VDMTypeStructured   VDMType = 1
)

// VDMCommandType tells requests from responses.
type VDMCommandType uint8

// VDM command types.
const (
	VDMCommandTypeREQ  VDMCommandType = 0b00
	VDMCommandTypeACK  VDMCommandType = 0b01
	VDMCommandTypeNAK  VDMCommandType = 0b10
	VDMCommandTypeBUSY VDMCommandType = 0b11
)

// VDMCommand is a structured VDM command.
type VDMCommand uint8

// Structured VDM commands.
const (
	VDMCommandDiscoverIdentity VDMCommand = 1
	VDMCommandDiscoverSVIDs    VDMCommand = 2
	VDMCommandDiscoverModes    VDMCommand = 3
	VDMCommandEnterMode        VDMCommand = 4
	VDMCommandExitMode         VDMCommand = 5
	VDMCommandAttention        VDMCommand = 6
)
