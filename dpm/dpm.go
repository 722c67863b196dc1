// Package dpm implements some useful device policy managers for common use.
// Each policy is a sink.Selector.
package dpm

import (
	"errors"
	"fmt"
	"io"

	"github.com/oxplot/go-pdsink/pdmsg"
	"github.com/oxplot/go-pdsink/sink"
)

// Policy is a selector whose parameters can be validated.
type Policy interface {
	// Validate returns an error if the policy parameters are invalid.
	Validate() error
	sink.Selector
}

var (
	errBadVoltage            = errors.New("dpm: voltage must be >= 3300mV & <= 21000mV")
	errBadCurrent            = errors.New("dpm: current must be >= 0mA & <= 5000mA")
	errBadPower              = errors.New("dpm: power must be > 0mW & <= 100000mW")
	errMaxVoltageLessThanMin = errors.New("dpm: max voltage must be >= min voltage")
)

func validateVoltageRange(min, max uint16) error {
	if min < 3300 || max < 3300 || min > 21000 || max > 21000 {
		return errBadVoltage
	}
	if min > max {
		return errMaxVoltageLessThanMin
	}
	return nil
}

// MaxVoltage wraps sink.MaxVoltage as a Policy. It takes the highest fixed
// voltage the source offers, up to Limit, at the full offered current.
type MaxVoltage struct {
	sink.MaxVoltage
}

// Validate returns an error if the policy parameters are invalid.
func (m MaxVoltage) Validate() error {
	if m.Limit != 0 && (m.Limit < 3300 || m.Limit > 21000) {
		return errBadVoltage
	}
	return nil
}

// CVPolicy defines a constant voltage policy where the power source is expected
// to maintain the negotiated voltage and to be capable of supplying at least
// the negotiated current. Only fixed supplies are considered.
type CVPolicy struct {

	// Minimum accepted voltage in millivolts.
	MinVoltage uint16

	// Maximum accepted voltage in millivolts.
	MaxVoltage uint16

	// Current in milliamps that the source must be able to supply at the
	// negotiated voltage. This is also the current requested.
	Current uint16

	// If a source provides multiple profile within the voltage range of a
	// policy, it's possible to prefer lower voltage profiles than the default
	// higher voltage profiles.
	PreferLowerVoltage bool
}

// Validate returns an error if the policy parameters are invalid.
func (c CVPolicy) Validate() error {
	if c.Current > 5000 {
		return errBadCurrent
	}
	return validateVoltageRange(c.MinVoltage, c.MaxVoltage)
}

// SelectCapability picks the fixed supply within the voltage window that can
// supply Current.
func (c CVPolicy) SelectCapability(pdos []pdmsg.PowerDataObject) (sink.Selection, error) {
	return selectFixed(pdos, c.MinVoltage, c.MaxVoltage, c.PreferLowerVoltage, func(uint16) uint16 {
		return c.Current
	})
}

// CPPolicy defines a constant power policy where the power source is expected
// to be capable of supplying the specified power at the negotiated voltage.
// CPPolicy is a special case of CVPolicy where the current is calculated from
// the power and voltage.
type CPPolicy struct {

	// Minimum accepted voltage in millivolts.
	MinVoltage uint16

	// Maximum accepted voltage in millivolts.
	MaxVoltage uint16

	// Power in milliwatts that the source must be able to supply at the
	// negotiated voltage.
	Power uint32

	// If a source provides multiple profile within the voltage range of a
	// policy, it's possible to prefer lower voltage profiles than the default
	// higher voltage profiles.
	PreferLowerVoltage bool
}

// Validate returns an error if the policy parameters are invalid.
func (c CPPolicy) Validate() error {
	if c.Power == 0 || c.Power > 100000 {
		return errBadPower
	}
	return validateVoltageRange(c.MinVoltage, c.MaxVoltage)
}

// SelectCapability picks the fixed supply within the voltage window that can
// supply Power.
func (c CPPolicy) SelectCapability(pdos []pdmsg.PowerDataObject) (sink.Selection, error) {
	return selectFixed(pdos, c.MinVoltage, c.MaxVoltage, c.PreferLowerVoltage, func(v uint16) uint16 {
		// Round up so the source is never asked for less than Power.
		return uint16((c.Power*1000 + uint32(v) - 1) / uint32(v))
	})
}

func selectFixed(pdos []pdmsg.PowerDataObject, minV, maxV uint16, preferLower bool, current func(v uint16) uint16) (sink.Selection, error) {
	var best sink.Selection
	for i, p := range pdos {
		fs, ok := p.(pdmsg.FixedSupplyPDO)
		if !ok {
			continue
		}
		v := fs.Voltage()
		if v < minV || v > maxV || v == 0 {
			continue
		}
		c := current(v)
		if fs.MaxCurrent() < c {
			continue
		}
		if best.Position == 0 || (preferLower && v < best.Voltage) || (!preferLower && v > best.Voltage) {
			best = sink.Selection{
				Position: uint8(i) + 1,
				Power:    sink.Power{Voltage: v, MaxCurrent: c},
			}
		}
	}
	if best.Position == 0 {
		return best, sink.ErrNoAcceptableOffer
	}
	return best, nil
}

// Logger is a passthrough policy that writes a textual description of source
// capabilities to a given io.Writer. It's mostly used for debugging purposes.
type Logger struct {
	w    io.Writer
	sep  string
	base Policy
}

// NewLogger creates a new logger which will write to the given writer and
// optionally passes through the select calls. If no base is provided, this
// policy selects nothing and the sink reports sink.ErrNoAcceptableOffer. Line
// separator is written to the writer after each line of output. Some common
// values are "\n", "\r", "\r\n".
func NewLogger(w io.Writer, lineSep string, base Policy) *Logger {
	return &Logger{
		w:    w,
		sep:  lineSep,
		base: base,
	}
}

// Validate returns nil if the policy is valid.
func (l *Logger) Validate() error {
	if l.base != nil {
		return l.base.Validate()
	}
	return nil
}

// SelectCapability writes out the textual description of the provided power
// data objects, passes them down to the underlying policy and returns its
// response.
func (l *Logger) SelectCapability(pdos []pdmsg.PowerDataObject) (sink.Selection, error) {
	fmt.Fprintf(l.w, "Received %d profiles:%s", len(pdos), l.sep)
	for i, p := range pdos {
		fmt.Fprintf(l.w, "  %d) %s%s", i+1, p, l.sep)
	}
	if l.base == nil {
		return sink.Selection{}, sink.ErrNoAcceptableOffer
	}
	sel, err := l.base.SelectCapability(pdos)
	if err == nil {
		fmt.Fprintf(l.w, "Selected %d: %dmV @ %dmA%s", sel.Position, sel.Voltage, sel.MaxCurrent, l.sep)
	}
	return sel, err
}
