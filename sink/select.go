package sink

import "github.com/oxplot/go-pdsink/pdmsg"

// Selection is an offer picked from the source capabilities.
type Selection struct {
	// Position of the picked object in the offer, starting at 1.
	Position uint8
	Power
}

// Selector is an interface that wraps the method SelectCapability.
type Selector interface {
	// SelectCapability is called every time the source advertises its
	// capabilities. If no object is acceptable, it must return an error
	// wrapping ErrNoAcceptableOffer.
	//
	// The passed slice must not be stored past the call to this method.
	SelectCapability([]pdmsg.PowerDataObject) (Selection, error)
}

// SelectorFunc is an adapter to allow the use of ordinary functions as
// Selector.
type SelectorFunc func([]pdmsg.PowerDataObject) (Selection, error)

// SelectCapability implements Selector interface.
func (f SelectorFunc) SelectCapability(caps []pdmsg.PowerDataObject) (Selection, error) {
	return f(caps)
}

// MaxVoltage selects the fixed supply with the highest voltage at its full
// current. Among fixed supplies with the same voltage, the last one in the
// offer wins.
type MaxVoltage struct {
	// Limit excludes supplies above this voltage in millivolts. Zero means
	// no limit.
	Limit uint16
}

// SelectCapability implements Selector interface.
func (m MaxVoltage) SelectCapability(caps []pdmsg.PowerDataObject) (Selection, error) {
	best := -1
	var bestPDO pdmsg.FixedSupplyPDO
	for i, c := range caps {
		fs, ok := c.(pdmsg.FixedSupplyPDO)
		if !ok {
			continue
		}
		if m.Limit != 0 && fs.Voltage() > m.Limit {
			continue
		}
		if best < 0 || fs.VoltageUnits() >= bestPDO.VoltageUnits() {
			best, bestPDO = i, fs
		}
	}
	if best < 0 {
		return Selection{}, ErrNoAcceptableOffer
	}
	return Selection{
		Position: uint8(best) + 1,
		Power: Power{
			Voltage:    bestPDO.Voltage(),
			MaxCurrent: bestPDO.MaxCurrent(),
		},
	}, nil
}
